package cryptoutils

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacelock/membership-security-backend/interfaces"
)

func testSecrets(t *testing.T) (system, user, pepper []byte) {
	t.Helper()
	system = make([]byte, 32)
	user = make([]byte, 32)
	pepper = make([]byte, 16)
	_, err := rand.Read(system)
	require.NoError(t, err)
	_, err = rand.Read(user)
	require.NoError(t, err)
	_, err = rand.Read(pepper)
	require.NoError(t, err)
	return system, user, pepper
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	system, user, pepper := testSecrets(t)

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "Simple string",
			data: []byte("scanned passport, front side"),
		},
		{
			name: "Binary data",
			data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD},
		},
		{
			name: "Large payload",
			data: make([]byte, 1<<20),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			nonce, ciphertext, tag, err := Encrypt(tc.data, system, user, pepper)
			require.NoError(t, err)
			assert.Len(t, nonce, NonceSize)
			assert.Len(t, tag, TagSize)
			assert.NotEqual(t, tc.data, ciphertext)

			plaintext, err := Decrypt(nonce, ciphertext, tag, system, user, pepper)
			require.NoError(t, err)
			assert.Equal(t, tc.data, plaintext)
		})
	}
}

func TestEncryptFreshNonce(t *testing.T) {
	system, user, pepper := testSecrets(t)

	nonce1, ct1, _, err := Encrypt([]byte("same plaintext"), system, user, pepper)
	require.NoError(t, err)
	nonce2, ct2, _, err := Encrypt([]byte("same plaintext"), system, user, pepper)
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecryptTamperDetection(t *testing.T) {
	system, user, pepper := testSecrets(t)

	nonce, ciphertext, tag, err := Encrypt([]byte("identity document payload"), system, user, pepper)
	require.NoError(t, err)

	// Flipping any single bit of ciphertext or tag must fail with an
	// integrity error, never yield altered plaintext.
	for i := range ciphertext {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01

		_, err := Decrypt(nonce, tampered, tag, system, user, pepper)
		require.ErrorIs(t, err, interfaces.ErrIntegrity, "ciphertext byte %d", i)
	}

	for i := range tag {
		tampered := append([]byte(nil), tag...)
		tampered[i] ^= 0x80

		_, err := Decrypt(nonce, ciphertext, tampered, system, user, pepper)
		require.ErrorIs(t, err, interfaces.ErrIntegrity, "tag byte %d", i)
	}
}

func TestDecryptKeyIndependence(t *testing.T) {
	system, user, pepper := testSecrets(t)

	nonce, ciphertext, tag, err := Encrypt([]byte("secret"), system, user, pepper)
	require.NoError(t, err)

	otherSystem, otherUser, otherPepper := testSecrets(t)

	testCases := []struct {
		name                string
		system, user, pepper []byte
	}{
		{"substituted system key", otherSystem, user, pepper},
		{"substituted user key", system, otherUser, pepper},
		{"substituted pepper", system, user, otherPepper},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decrypt(nonce, ciphertext, tag, tc.system, tc.user, tc.pepper)
			assert.ErrorIs(t, err, interfaces.ErrIntegrity)
		})
	}
}

func TestDeriveContentKeyDeterministic(t *testing.T) {
	system, user, pepper := testSecrets(t)

	key1, err := DeriveContentKey(system, user, pepper)
	require.NoError(t, err)
	key2, err := DeriveContentKey(system, user, pepper)
	require.NoError(t, err)

	assert.Equal(t, key1, key2)
	assert.Len(t, key1, ContentKeySize)
}

func TestDeriveContentKeyEmptySecret(t *testing.T) {
	system, user, pepper := testSecrets(t)

	testCases := []struct {
		name                string
		system, user, pepper []byte
	}{
		{"empty system key", nil, user, pepper},
		{"empty user key", system, nil, pepper},
		{"empty pepper", system, user, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveContentKey(tc.system, tc.user, tc.pepper)
			require.Error(t, err)
			assert.True(t, errors.Is(err, interfaces.ErrKeyUnavailable))
		})
	}
}

func TestDecryptInvalidNonce(t *testing.T) {
	system, user, pepper := testSecrets(t)

	_, ciphertext, tag, err := Encrypt([]byte("secret"), system, user, pepper)
	require.NoError(t, err)

	_, err = Decrypt([]byte{0x01, 0x02}, ciphertext, tag, system, user, pepper)
	assert.ErrorIs(t, err, interfaces.ErrIntegrity)
}
