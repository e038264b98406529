// Package vault encrypts and decrypts stored provider API keys with
// AES-256-GCM. Tokens are self-describing: three base64 segments joined
// by ":" (nonce, authentication tag, ciphertext), so no side-channel
// metadata is needed to decrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

const (
	nonceSize = 16
	tagSize   = 16
)

// keyBytes validates and decodes the 64-hex-character key. Any other
// length or format fails closed before a cipher is constructed.
func keyBytes(hexKey string) ([]byte, error) {
	if len(hexKey) != 64 {
		return nil, domain.ErrInvalidKeyFormat()
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, domain.ErrInvalidKeyFormat()
	}
	return key, nil
}

func newAEAD(hexKey string) (cipher.AEAD, error) {
	key, err := keyBytes(hexKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.ErrInvalidKeyFormat()
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Encrypt seals plaintext under the given key with a fresh random nonce.
func Encrypt(plaintext, hexKey string) (string, error) {
	aead, err := newAEAD(hexKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	b64 := base64.StdEncoding.EncodeToString
	return strings.Join([]string{b64(nonce), b64(tag), b64(ciphertext)}, ":"), nil
}

// Decrypt opens a token produced by Encrypt. The authentication tag is
// verified before any plaintext is returned; a failed check is a hard
// failure, never a partial decode.
func Decrypt(token, hexKey string) (string, error) {
	aead, err := newAEAD(hexKey)
	if err != nil {
		return "", err
	}

	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", domain.ErrInvalidPayload()
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", domain.ErrInvalidPayload()
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", domain.ErrInvalidPayload()
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", domain.ErrInvalidPayload()
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", domain.ErrAuthenticationFailed()
	}
	return string(plaintext), nil
}
