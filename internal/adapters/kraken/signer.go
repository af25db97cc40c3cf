package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"krakenBot/internal/ports"
)

// Signer computes the API-Sign header for private requests.
// The decoded secret is kept as []byte so it can be wiped.
type Signer struct {
	apiKey string
	secret []byte
}

// NewSigner decodes the base64 API secret.
func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	if apiKey == "" {
		return nil, ports.NewConfigurationError("NewSigner", errors.New("API key is empty"))
	}
	if apiSecret == "" {
		return nil, ports.NewConfigurationError("NewSigner", errors.New("API secret is empty"))
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, ports.NewConfigurationError("NewSigner", fmt.Errorf("API secret is not valid base64: %w", err))
	}
	return &Signer{apiKey: apiKey, secret: secret}, nil
}

// APIKey returns the key sent in the API-Key header.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign returns Base64(HMAC-SHA512(secret, path + SHA256(nonce + postBody))).
// postBody is the url-encoded form body, which itself contains the nonce.
func (s *Signer) Sign(path, postBody string, nonce int64) string {
	sha := sha256.New()
	sha.Write([]byte(strconv.FormatInt(nonce, 10) + postBody))
	digest := sha.Sum(nil)

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(digest)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KeyID returns a short non-reversible identifier of the credential set, used
// to key the persisted nonce floor without storing the key itself.
func (s *Signer) KeyID() string {
	sum := sha256.Sum256([]byte(s.apiKey))
	return fmt.Sprintf("%x", sum[:8])
}

// Wipe clears the secret from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.secret {
		s.secret[i] = 0
	}
}
