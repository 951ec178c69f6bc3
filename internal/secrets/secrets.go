// Package secrets decrypts connector configuration payloads before any
// external data is fetched for a model. The payload layout is fixed:
//
//	salt[64] || iv[16] || tag[16] || ciphertext
//
// The salt doubles as additional authenticated data, so a payload whose salt
// was tampered with fails authentication even though the salt itself is not
// encrypted. Keys are derived from the configured passphrase with scrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen = 64
	ivLen   = 16
	tagLen  = 16
	keyLen  = 32

	// scrypt parameters: interactive-grade cost, standard r and p.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrPayloadTooShort reports a payload smaller than the fixed header.
var ErrPayloadTooShort = errors.New("encrypted payload shorter than fixed header")

// Decrypt authenticates and decrypts a connector configuration payload.
func Decrypt(payload []byte, passphrase string) ([]byte, error) {
	if len(payload) < saltLen+ivLen+tagLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooShort, len(payload))
	}
	salt := payload[:saltLen]
	iv := payload[saltLen : saltLen+ivLen]
	tag := payload[saltLen+ivLen : saltLen+ivLen+tagLen]
	ciphertext := payload[saltLen+ivLen+tagLen:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// Go's GCM expects the tag appended to the ciphertext; the wire layout
	// carries it up front.
	sealed := make([]byte, 0, len(ciphertext)+tagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, salt)
	if err != nil {
		return nil, fmt.Errorf("decrypt connector config: %w", err)
	}
	return plaintext, nil
}

// Encrypt produces a payload in the fixed wire layout. It exists for
// round-trip tests and local tooling; production payloads are written by the
// connector service.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, salt)
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	payload := make([]byte, 0, saltLen+ivLen+tagLen+len(ciphertext))
	payload = append(payload, salt...)
	payload = append(payload, iv...)
	payload = append(payload, tag...)
	payload = append(payload, ciphertext...)
	return payload, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}
