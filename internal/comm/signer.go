package comm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	signAlgorithm = "SDK-HMAC-SHA256"
	sdkDateFormat = "20060102T150405Z"
	headerDate    = "X-Sdk-Date"
)

// Signer signs outbound requests with an HMAC-SHA256 credential so the
// cloud endpoint can authenticate the sender.
type Signer struct {
	accessKey string
	secretKey string
	now       func() time.Time
}

func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{accessKey: accessKey, secretKey: secretKey, now: time.Now}
}

// Sign adds the date and authorization headers to req. host and path
// are the canonical request target, independent of the URL the request
// is actually sent to.
func (s *Signer) Sign(req *http.Request, host, path string, payload []byte) {
	date := s.now().UTC().Format(sdkDateFormat)
	req.Header.Set(headerDate, date)

	payloadHash := sha256.Sum256(payload)
	canonical := strings.Join([]string{
		req.Method,
		path,
		host,
		date,
		hex.EncodeToString(payloadHash[:]),
	}, "\n")

	canonicalHash := sha256.Sum256([]byte(canonical))
	stringToSign := strings.Join([]string{
		signAlgorithm,
		date,
		hex.EncodeToString(canonicalHash[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(stringToSign))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", fmt.Sprintf("%s Access=%s, Signature=%s",
		signAlgorithm, s.accessKey, signature))
}
