package comm

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func TestSign(t *testing.T) {
	signer := NewSigner("AKTEST", "sk-secret")
	signer.now = fixedClock

	req, err := http.NewRequest(http.MethodPost, "https://infer.example.com/v1/notify", nil)
	require.NoError(t, err)
	signer.Sign(req, "infer.example.com", "/v1/notify", []byte(`{"business":"task"}`))

	assert.Equal(t, "20260314T092653Z", req.Header.Get("X-Sdk-Date"))
	auth := req.Header.Get("Authorization")
	assert.Regexp(t, `^SDK-HMAC-SHA256 Access=AKTEST, Signature=[0-9a-f]{64}$`, auth)
}

func TestSignDeterministic(t *testing.T) {
	sign := func() string {
		signer := NewSigner("AKTEST", "sk-secret")
		signer.now = fixedClock
		req, err := http.NewRequest(http.MethodPost, "https://h/p", nil)
		require.NoError(t, err)
		signer.Sign(req, "h", "/p", []byte("payload"))
		return req.Header.Get("Authorization")
	}
	assert.Equal(t, sign(), sign())
}

func TestSignVariesWithInputs(t *testing.T) {
	sign := func(sk string, payload []byte) string {
		signer := NewSigner("AKTEST", sk)
		signer.now = fixedClock
		req, err := http.NewRequest(http.MethodPost, "https://h/p", nil)
		require.NoError(t, err)
		signer.Sign(req, "h", "/p", payload)
		return req.Header.Get("Authorization")
	}
	base := sign("sk-secret", []byte("payload"))
	assert.NotEqual(t, base, sign("other-secret", []byte("payload")))
	assert.NotEqual(t, base, sign("sk-secret", []byte("other payload")))
}

func TestSignerURLInfo(t *testing.T) {
	tests := []struct {
		name     string
		notify   string
		endpoint string
		wantHost string
		wantPath string
	}{
		{
			name:     "under inference endpoint",
			notify:   "https://infer.example.com/v1/notify",
			endpoint: "https://infer.example.com",
			wantHost: "infer.example.com",
			wantPath: "/v1/notify",
		},
		{
			name:     "foreign host",
			notify:   "https://other.example.com/hook",
			endpoint: "https://infer.example.com",
			wantHost: "other.example.com",
			wantPath: "/hook",
		},
		{
			name:     "no endpoint configured",
			notify:   "http://10.0.0.5:8080/notify",
			endpoint: "",
			wantHost: "10.0.0.5:8080",
			wantPath: "/notify",
		},
		{
			name:     "bare host",
			notify:   "https://other.example.com",
			endpoint: "",
			wantHost: "other.example.com",
			wantPath: "/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path := signerURLInfo(tt.notify, tt.endpoint)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
