package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/config"
)

// ============================================================================
// Unit Tests (no external dependencies)
// ============================================================================

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{AccessKey: "k", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key is required")
	})

	t.Run("missing secret key returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", AccessKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret key is required")
	})

	t.Run("endpoint without scheme", func(t *testing.T) {
		storage, err := NewS3ObjectStorage(&config.StorageConfig{
			Bucket: "avatars", AccessKey: "k", SecretKey: "s", Endpoint: "minio:9000",
		})
		require.NoError(t, err)
		assert.Equal(t, "avatars", storage.GetBucket())
	})
}

func TestProfilePictureKey(t *testing.T) {
	id := uuid.MustParse("7f9c2a1e-0000-4000-8000-000000000001")

	tests := []struct {
		contentType string
		want        string
	}{
		{"image/png", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.png"},
		{"IMAGE/PNG; charset=binary", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.png"},
		{"image/gif", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.gif"},
		{"image/webp", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.webp"},
		{"image/jpeg", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.jpg"},
		{"", "profile-pictures/7f9c2a1e-0000-4000-8000-000000000001.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, ProfilePictureKey(id, tt.contentType))
		})
	}
}

// fakeS3 records the objects written through path-style requests
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	f := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.objects[r.URL.Path] = body
			f.types[r.URL.Path] = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := f.objects[r.URL.Path]; ok {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestStorage(t *testing.T, endpoint string) *S3ObjectStorage {
	t.Helper()
	storage, err := NewS3ObjectStorage(&config.StorageConfig{
		Bucket:       "avatars",
		AccessKey:    "test-key",
		SecretKey:    "test-secret",
		Endpoint:     endpoint,
		UsePathStyle: true,
	}, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return storage
}

func TestS3ObjectStorage_StoreProfilePicture(t *testing.T) {
	fake, srv := newFakeS3(t)
	storage := newTestStorage(t, srv.URL)
	ctx := context.Background()
	userID := uuid.New()

	key, err := storage.StoreProfilePicture(ctx, userID, &lms.RemoteFile{
		Data:        []byte("\x89PNG fake"),
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "profile-pictures/"+userID.String()+".png", key)

	path := "/avatars/" + key
	fake.mu.Lock()
	assert.Contains(t, string(fake.objects[path]), "\x89PNG fake")
	assert.Equal(t, "image/png", fake.types[path])
	fake.mu.Unlock()

	exists, err := storage.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.ObjectExists(ctx, "profile-pictures/missing.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3ObjectStorage_StoreProfilePicture_Validation(t *testing.T) {
	storage := newTestStorage(t, "http://localhost:9000")
	ctx := context.Background()

	_, err := storage.StoreProfilePicture(ctx, uuid.Nil, &lms.RemoteFile{Data: []byte("x")})
	assert.ErrorIs(t, err, lms.ErrInvalidLocalID)

	_, err = storage.StoreProfilePicture(ctx, uuid.New(), &lms.RemoteFile{})
	assert.Error(t, err)

	err = storage.Upload(ctx, "", []byte("x"), "text/plain")
	assert.ErrorContains(t, err, "storage key is required")

	_, err = storage.ObjectExists(ctx, "")
	assert.ErrorContains(t, err, "storage key is required")

	err = storage.DeleteObject(ctx, "")
	assert.ErrorContains(t, err, "storage key is required")
}

// ============================================================================
// Integration Tests (require RustFS/MinIO running)
// ============================================================================

// newIntegrationStorage connects to the endpoint named by STORAGE_TEST_ENDPOINT
func newIntegrationStorage(t *testing.T) *S3ObjectStorage {
	t.Helper()
	endpoint := os.Getenv("STORAGE_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping integration test. Set STORAGE_TEST_ENDPOINT to a RustFS/MinIO endpoint to enable.")
	}

	storage, err := NewS3ObjectStorage(&config.StorageConfig{
		Bucket:       "lmssync-integration",
		AccessKey:    os.Getenv("STORAGE_TEST_ACCESS_KEY"),
		SecretKey:    os.Getenv("STORAGE_TEST_SECRET_KEY"),
		Endpoint:     endpoint,
		UsePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBucket(context.Background()))
	return storage
}

func TestIntegration_ProfilePictureRoundTrip(t *testing.T) {
	storage := newIntegrationStorage(t)
	ctx := context.Background()

	// idempotent
	require.NoError(t, storage.EnsureBucket(ctx))

	key, err := storage.StoreProfilePicture(ctx, uuid.New(), &lms.RemoteFile{
		Data:        []byte("GIF89a"),
		ContentType: "image/gif",
	})
	require.NoError(t, err)

	exists, err := storage.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, storage.DeleteObject(ctx, key))
	exists, err = storage.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
