package keymaterial

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// SimpleProvider derives all key material deterministically from a
// master seed. Suitable for development and single-operator
// deployments; production setups resolve secrets from Vault instead.
type SimpleProvider struct {
	masterSeed []byte
	pepper     []byte
}

// NewSimpleProvider creates a provider from a master seed and the
// application pepper. The seed must be at least 32 bytes; the pepper
// must not be empty and must never be stored alongside per-user data.
func NewSimpleProvider(masterSeed, pepper []byte) (*SimpleProvider, error) {
	if len(masterSeed) < 32 {
		return nil, errors.New("master seed must be at least 32 bytes")
	}
	if len(pepper) == 0 {
		return nil, errors.New("pepper must not be empty")
	}

	p := &SimpleProvider{
		masterSeed: make([]byte, len(masterSeed)),
		pepper:     make([]byte, len(pepper)),
	}
	copy(p.masterSeed, masterSeed)
	copy(p.pepper, pepper)
	return p, nil
}

// Resolve returns fresh copies of the three secrets for userID. The
// caller owns the returned material and must Zero it when the operation
// finishes, on every exit path.
func (p *SimpleProvider) Resolve(ctx context.Context, userID string) (*interfaces.KeyMaterial, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", interfaces.ErrKeyUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyUnavailable, err)
	}

	material := &interfaces.KeyMaterial{
		SystemKey: make([]byte, 32),
		UserKey:   DeriveUserKey(p.masterSeed, userID),
		Pepper:    make([]byte, len(p.pepper)),
	}
	copy(material.SystemKey, p.masterSeed[:32])
	copy(material.Pepper, p.pepper)

	return material, nil
}

// DeriveUserKey creates the deterministic per-user key from a seed
// using Argon2id, with the user ID bound into the salt. The same
// (seed, userID) pair always yields the same key, so archives sealed
// before a restart remain decryptable.
func DeriveUserKey(seed []byte, userID string) []byte {
	salt := append([]byte("user-key-"), []byte(userID)...)

	// Parameters: time=1, memory=64MB, threads=4, keyLen=32.
	return argon2.IDKey(seed, salt, 1, 64*1024, 4, 32)
}
