package custody

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer turns a canonical encoding into the hex digest stored as DigitalSignature.
type Signer interface {
	Sign(canonical []byte) string
	Algorithm() string
}

const (
	AlgorithmSHA256     = "sha256"
	AlgorithmHMACSHA256 = "hmac-sha256"
)

// SHA256Signer is the default unkeyed content-chaining hash. It proves linkage
// and non-tampering of stored data, not actor identity.
type SHA256Signer struct{}

func (SHA256Signer) Sign(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func (SHA256Signer) Algorithm() string { return AlgorithmSHA256 }

// HMACSigner keys the digest with a server-held secret, so a party with write
// access to the store but not the key cannot re-sign a forged chain.
type HMACSigner struct {
	key []byte
}

func NewHMACSigner(key []byte) *HMACSigner {
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}
}

func (s *HMACSigner) Sign(canonical []byte) string {
	h := hmac.New(sha256.New, s.key)
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *HMACSigner) Algorithm() string { return AlgorithmHMACSHA256 }

// NewSigner returns an HMAC signer when key is non-empty, else SHA-256.
func NewSigner(key string) Signer {
	if key == "" {
		return SHA256Signer{}
	}
	return NewHMACSigner([]byte(key))
}

// SignEvent encodes e and signs it with s.
func SignEvent(s Signer, e Event) (string, error) {
	canonical, err := Encode(e)
	if err != nil {
		return "", err
	}
	return s.Sign(canonical), nil
}
