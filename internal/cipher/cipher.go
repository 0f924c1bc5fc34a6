// Package cipher implements RSA-OAEP block encryption over PEM keys.
// Payloads larger than a single RSA block are split into fixed-size
// chunks; each chunk is encrypted or decrypted independently and the
// results concatenated.
package cipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// oaepOverhead is the per-block overhead of OAEP with SHA-256:
// 2*hashLen + 2 bytes.
const oaepOverhead = 66

var (
	ErrKeyLoad          = errors.New("cipher: key load failed")
	ErrDecode           = errors.New("cipher: base64 decode failed")
	ErrDecrypt          = errors.New("cipher: decrypt failed")
	ErrEncrypt          = errors.New("cipher: encrypt failed")
	ErrInvalidOperation = errors.New("cipher: operation not valid for key type")
)

// Cipher holds one RSA key, either private or public. A private key can
// only decrypt; a public key can only encrypt.
type Cipher struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Cipher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cipher{logger: logger.With("component", "cipher")}
}

// Init parses a PEM-encoded RSA key. isPrivate selects the expected key
// type; a mismatch or unparsable key returns ErrKeyLoad.
func (c *Cipher) Init(pemBytes []byte, isPrivate bool) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}

	if isPrivate {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			parsed, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err8 != nil {
				return fmt.Errorf("%w: %v", ErrKeyLoad, err)
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return fmt.Errorf("%w: not an RSA private key", ErrKeyLoad)
			}
			key = rsaKey
		}
		if err := checkModulus(key.Size()); err != nil {
			return err
		}
		c.private = key
		c.public = nil
		return nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		key, err1 := x509.ParsePKCS1PublicKey(block.Bytes)
		if err1 != nil {
			return fmt.Errorf("%w: %v", ErrKeyLoad, err)
		}
		if err := checkModulus(key.Size()); err != nil {
			return err
		}
		c.public = key
		c.private = nil
		return nil
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: not an RSA public key", ErrKeyLoad)
	}
	if err := checkModulus(rsaKey.Size()); err != nil {
		return err
	}
	c.public = rsaKey
	c.private = nil
	return nil
}

// checkModulus rejects keys too small to carry a single OAEP block.
func checkModulus(modulusBytes int) error {
	if modulusBytes <= oaepOverhead {
		return fmt.Errorf("%w: modulus %d bytes cannot hold an OAEP block",
			ErrKeyLoad, modulusBytes)
	}
	return nil
}

// InitFromFile reads a PEM key from disk and parses it.
func (c *Cipher) InitFromFile(path string, isPrivate bool) error {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	return c.Init(pemBytes, isPrivate)
}

// Encrypt encrypts plain with the public key, splitting it into blocks
// of modulusBytes-66 each. An empty input yields an empty output.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	if c.public == nil {
		return nil, fmt.Errorf("%w: encrypt requires a public key", ErrInvalidOperation)
	}
	if len(plain) == 0 {
		return []byte{}, nil
	}

	modulusBytes := c.public.Size()
	blockSize := modulusBytes - oaepOverhead
	blocks := (len(plain) + blockSize - 1) / blockSize
	out := make([]byte, 0, blocks*modulusBytes)

	for offset := 0; offset < len(plain); offset += blockSize {
		end := offset + blockSize
		if end > len(plain) {
			end = len(plain)
		}
		enc, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, c.public, plain[offset:end], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

// Decrypt decrypts enc with the private key. Input length must be a
// positive multiple of the modulus size.
func (c *Cipher) Decrypt(enc []byte) ([]byte, error) {
	if c.private == nil {
		return nil, fmt.Errorf("%w: decrypt requires a private key", ErrInvalidOperation)
	}
	modulusBytes := c.private.Size()
	if len(enc) == 0 || len(enc)%modulusBytes != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a multiple of %d",
			ErrDecrypt, len(enc), modulusBytes)
	}

	out := make([]byte, 0, len(enc))
	for offset := 0; offset < len(enc); offset += modulusBytes {
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.private, enc[offset:offset+modulusBytes], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// DecryptFromBase64 decodes a base64 ciphertext and decrypts it,
// returning the plaintext as a string.
func (c *Cipher) DecryptFromBase64(encoded string) (string, error) {
	enc, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	plain, err := c.Decrypt(enc)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
