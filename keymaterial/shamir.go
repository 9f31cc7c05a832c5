package keymaterial

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitSystemKey splits the global system key into n shares, any
// threshold of which reconstruct it. Shares are handed to separate
// operators so no single person holds the key; the original should be
// erased after distribution.
func SplitSystemKey(systemKey []byte, n, threshold int) ([][]byte, error) {
	if len(systemKey) < 32 {
		return nil, errors.New("system key must be at least 32 bytes")
	}
	if threshold < 2 || threshold > n {
		return nil, fmt.Errorf("invalid threshold %d for %d shares", threshold, n)
	}

	shares, err := shamir.Split(systemKey, n, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split system key: %w", err)
	}

	return shares, nil
}

// CombineSystemKey reconstructs the system key from a threshold of
// shares collected from operators during recovery.
func CombineSystemKey(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("at least two shares required")
	}

	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}

	return key, nil
}
