// Package linktoken turns object keys into opaque, URL-safe tokens and back.
//
// With a secret, tokens are NaCl secretbox ciphertexts. The nonce is derived
// from the key itself, so the same key always yields the same token. Without
// a secret, tokens are plain unpadded base64url and only obscure the key.
package linktoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/cloo-solutions/homilia/internal/domain"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Codec encodes and decodes link tokens. The zero value uses plain base64url.
type Codec struct {
	key     *[32]byte
	nonceMk []byte
}

// New creates a Codec. An empty secret selects the unencrypted encoding.
func New(secret string) *Codec {
	if secret == "" {
		return &Codec{}
	}
	key := sha256.Sum256([]byte("homilia-link-key:" + secret))
	return &Codec{
		key:     &key,
		nonceMk: []byte("homilia-link-nonce:" + secret),
	}
}

// Encrypted reports whether tokens are sealed with a secret.
func (c *Codec) Encrypted() bool {
	return c != nil && c.key != nil
}

// Encode returns the token for objectKey.
func (c *Codec) Encode(objectKey string) string {
	if !c.Encrypted() {
		return base64.RawURLEncoding.EncodeToString([]byte(objectKey))
	}

	var nonce [nonceSize]byte
	mac := hmac.New(sha256.New, c.nonceMk)
	mac.Write([]byte(objectKey))
	copy(nonce[:], mac.Sum(nil))

	sealed := secretbox.Seal(nonce[:], []byte(objectKey), &nonce, c.key)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Decode returns the object key carried by token.
func (c *Codec) Decode(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrInvalidLinkToken.Message, err)
	}

	if !c.Encrypted() {
		if len(raw) == 0 || !utf8.Valid(raw) {
			return "", domain.ErrInvalidLinkToken
		}
		return string(raw), nil
	}

	if len(raw) < nonceSize+secretbox.Overhead {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrInvalidLinkToken.Message,
			fmt.Errorf("token too short"))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, c.key)
	if !ok {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrInvalidLinkToken.Message,
			fmt.Errorf("token authentication failed"))
	}
	return string(plain), nil
}
