package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ContentID is the 32-byte SHA-256 hash uniquely identifying a stored
// ciphertext blob. Blobs are content-addressed, so the ID doubles as an
// integrity check on fetch.
type ContentID [32]byte

// NewContentIDFromBytes creates a content ID from a 32-byte slice.
func NewContentIDFromBytes(source []byte) (ContentID, error) {
	if len(source) != 32 {
		return ContentID{}, errors.New("invalid ContentID conversion from bytes: incorrect length")
	}

	var hash [32]byte
	copy(hash[:], source)
	return ContentID(hash), nil
}

// NewContentIDFromHex parses a 64-character hex string into a content ID.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return ContentID(hash), nil
}

// ComputeID calculates the content ID of a blob.
func ComputeID(data []byte) ContentID {
	hash := sha256.Sum256(data)
	return ContentID(hash)
}

// String returns the hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// ContentType indicates the storage namespace for a blob.
type ContentType int

const (
	// ArchiveBlobType for encrypted identity document sides.
	ArchiveBlobType ContentType = iota
)

// String returns the namespace name.
func (ct ContentType) String() string {
	switch ct {
	case ArchiveBlobType:
		return "archive"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is a URI identifying a blob backend, e.g.
// file:///var/lib/vault or s3://bucket/prefix?region=eu-central-1.
type StorageBackendLocation string

// Blob backend errors.
var (
	// ErrContentNotFound indicates the blob does not exist in the backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable indicates the backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a malformed backend location URI.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend stores and retrieves content-addressed ciphertext
// blobs. Implementations must never observe plaintext: the vault seals
// every document side before it reaches a backend.
type StorageBackend interface {
	// Fetch retrieves a blob by content ID and type. Returns
	// ErrContentNotFound if the blob does not exist.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store persists a blob and returns its content ID (the SHA-256
	// hash of the data).
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	// Available reports whether the backend is currently reachable.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this backend instance.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// StorageBackendFactory creates blob backends from location URIs and
// aggregates several of them into one replicated backend.
type StorageBackendFactory interface {
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
