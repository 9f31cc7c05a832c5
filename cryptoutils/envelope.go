package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/spacelock/membership-security-backend/interfaces"
)

const (
	// ContentKeySize is the derived AES-256 content key length.
	ContentKeySize = 32

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16
)

// Domain separation labels for the key derivation cascade. Changing any
// label invalidates all previously sealed archives.
var (
	labelSystem = []byte("envelope/v1/system")
	labelUser   = []byte("envelope/v1/user")
	labelPepper = []byte("envelope/v1/pepper")
)

// DeriveContentKey derives a single 256-bit content key by cascading
// HKDF-SHA256 over the three secrets in fixed order: system key, then
// per-user key, then pepper. Each stage uses the previous stage's
// output as salt, so all three secrets are required to reproduce the
// key: compromising any single one (leaked infra key, leaked pepper,
// compromised per-user secret) is insufficient to decrypt.
func DeriveContentKey(systemKey, userKey, pepper []byte) ([]byte, error) {
	if len(systemKey) == 0 || len(userKey) == 0 || len(pepper) == 0 {
		return nil, fmt.Errorf("%w: empty secret in derivation cascade", interfaces.ErrKeyUnavailable)
	}

	stage1, err := hkdfExpand(systemKey, nil, labelSystem)
	if err != nil {
		return nil, err
	}

	stage2, err := hkdfExpand(userKey, stage1, labelUser)
	if err != nil {
		return nil, err
	}

	return hkdfExpand(pepper, stage2, labelPepper)
}

func hkdfExpand(secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a content key derived from the three
// secrets. It generates a fresh random nonce for every call and returns
// the nonce, ciphertext, and authentication tag separately. Pure
// function: no side effects beyond reading crypto/rand.
func Encrypt(plaintext, systemKey, userKey, pepper []byte) (nonce, ciphertext, tag []byte, err error) {
	contentKey, err := DeriveContentKey(systemKey, userKey, pepper)
	if err != nil {
		return nil, nil, nil, err
	}

	aead, err := newAEAD(contentKey)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	// Seal appends the tag to the ciphertext; split them so callers can
	// persist and transport them independently.
	split := len(sealed) - TagSize
	return nonce, sealed[:split], sealed[split:], nil
}

// Decrypt opens a sealed payload with the content key derived from the
// three secrets. A tag mismatch (tampered ciphertext, flipped tag bit,
// or any substituted secret) fails with ErrIntegrity, never with
// altered plaintext.
func Decrypt(nonce, ciphertext, tag, systemKey, userKey, pepper []byte) ([]byte, error) {
	contentKey, err := DeriveContentKey(systemKey, userKey, pepper)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(contentKey)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce length %d", interfaces.ErrIntegrity, len(nonce))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}

	return plaintext, nil
}

func newAEAD(contentKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}
