package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// MockStorageBackend implements interfaces.StorageBackend for testing.
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				mockStorage := &MockStorageBackend{name: fmt.Sprintf("mock-%d", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, testLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

func TestMultiStorageBackend_FetchFirstHit(t *testing.T) {
	ctx := context.Background()
	data := []byte("sealed side")
	id := interfaces.ComputeID(data)

	missing := &MockStorageBackend{name: "missing"}
	missing.On("Available", mock.Anything).Return(true)
	missing.On("Fetch", mock.Anything, id, interfaces.ArchiveBlobType).Return(nil, interfaces.ErrContentNotFound)

	holding := &MockStorageBackend{name: "holding"}
	holding.On("Available", mock.Anything).Return(true)
	holding.On("Fetch", mock.Anything, id, interfaces.ArchiveBlobType).Return(data, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{missing, holding}, testLogger())

	got, err := multi.Fetch(ctx, id, interfaces.ArchiveBlobType)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMultiStorageBackend_StoreReplicates(t *testing.T) {
	ctx := context.Background()
	data := []byte("sealed side")
	id := interfaces.ComputeID(data)

	first := &MockStorageBackend{name: "first"}
	first.On("Available", mock.Anything).Return(true)
	first.On("Store", mock.Anything, data, interfaces.ArchiveBlobType).Return(id, nil)

	second := &MockStorageBackend{name: "second"}
	second.On("Available", mock.Anything).Return(true)
	second.On("Store", mock.Anything, data, interfaces.ArchiveBlobType).Return(id, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{first, second}, testLogger())

	got, err := multi.Store(ctx, data, interfaces.ArchiveBlobType)
	require.NoError(t, err)
	assert.True(t, got.Equal(id))

	first.AssertCalled(t, "Store", mock.Anything, data, interfaces.ArchiveBlobType)
	second.AssertCalled(t, "Store", mock.Anything, data, interfaces.ArchiveBlobType)
}

func TestMultiStorageBackend_StoreAllFail(t *testing.T) {
	ctx := context.Background()
	data := []byte("sealed side")

	failing := &MockStorageBackend{name: "failing"}
	failing.On("Available", mock.Anything).Return(true)
	failing.On("Store", mock.Anything, data, interfaces.ArchiveBlobType).
		Return(interfaces.ContentID{}, errors.New("disk full"))

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{failing}, testLogger())

	_, err := multi.Store(ctx, data, interfaces.ArchiveBlobType)
	assert.Error(t, err)
}

func TestFileBackendRoundTrip(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "archive-storage-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	backend, err := NewFileBackend(tempDir, testLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(context.Background()))

	data := []byte{0x10, 0x20, 0x30}
	id, err := backend.Store(context.Background(), data, interfaces.ArchiveBlobType)
	require.NoError(t, err)
	assert.True(t, id.Equal(interfaces.ComputeID(data)))

	got, err := backend.Fetch(context.Background(), id, interfaces.ArchiveBlobType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(context.Background(), interfaces.ComputeID([]byte("other")), interfaces.ArchiveBlobType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendDetectsCorruption(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "archive-storage-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	backend, err := NewFileBackend(tempDir, testLogger())
	require.NoError(t, err)

	data := []byte("sealed side")
	id, err := backend.Store(context.Background(), data, interfaces.ArchiveBlobType)
	require.NoError(t, err)

	// Corrupt the blob on disk behind the backend's back.
	path := filepath.Join(tempDir, "archives", id.String())
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))

	_, err = backend.Fetch(context.Background(), id, interfaces.ArchiveBlobType)
	assert.ErrorIs(t, err, interfaces.ErrIntegrity)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	tempDir, err := os.MkdirTemp("", "archive-storage-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + tempDir))
	require.NoError(t, err)
	assert.Contains(t, backend.Name(), "file-")

	_, err = factory.StorageBackendFor("ftp://nope")
	assert.Error(t, err)

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		interfaces.StorageBackendLocation("file://" + tempDir),
		"ftp://skipped",
	})
	require.NoError(t, err)
	assert.Equal(t, "multi-storage", multi.Name())

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ftp://skipped"})
	assert.Error(t, err)
}
