package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer signs entry hashes with HMAC-SHA256. The secret never leaves the
// service; verification of an exported chain requires the same secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a new HMAC signer. If secret is empty, signing is
// disabled and nil is returned.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Sign computes HMAC-SHA256 over the entry hash.
func (s *Signer) Sign(hash string) string {
	if s == nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func (s *Signer) Verify(hash, signature string) bool {
	if s == nil {
		return false
	}
	expected := s.Sign(hash)
	return hmac.Equal([]byte(expected), []byte(signature))
}
