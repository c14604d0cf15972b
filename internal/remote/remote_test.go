package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupd/internal/checksum"
)

type fakeObject struct {
	data   []byte
	blake3 string
}

type fakeBackend struct {
	objects   map[string]fakeObject
	uploads   int
	uploadErr error
	truncate  int // store only this many bytes when > 0
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string]fakeObject{}}
}

func (f *fakeBackend) Upload(ctx context.Context, localPath, name, checksumHash string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	if f.truncate > 0 && len(data) > f.truncate {
		data = data[:f.truncate]
	}
	f.uploads++
	f.objects[name] = fakeObject{data: data, blake3: checksumHash}
	return nil
}

func (f *fakeBackend) Download(ctx context.Context, name, localPath string) error {
	obj, ok := f.objects[name]
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(localPath, obj.data, 0o640)
}

func (f *fakeBackend) Head(ctx context.Context, name string) (*ObjectInfo, error) {
	obj, ok := f.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{Key: name, Size: int64(len(obj.data)), Blake3: obj.blake3}, nil
}

func (f *fakeBackend) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for name, obj := range f.objects {
		out = append(out, ObjectInfo{Key: "backups/web01/" + name, Size: int64(len(obj.data))})
	}
	return out, nil
}

func (f *fakeBackend) Delete(ctx context.Context, name string) error {
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("no such object: %s", name)
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeBackend) VerifyCredentials(ctx context.Context) error { return nil }

func writeArchive(t *testing.T, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sum, err := checksum.BLAKE3File(path)
	require.NoError(t, err)
	return path, sum
}

func TestPushUploadsNewObject(t *testing.T) {
	backend := newFakeBackend()
	path, sum := writeArchive(t, "web01_20250601_030000.tar.gz", "archive data")

	outcome, err := Push(context.Background(), backend, path, "web01_20250601_030000.tar.gz", sum)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUploaded, outcome)
	assert.Equal(t, 1, backend.uploads)
}

func TestPushIdempotent(t *testing.T) {
	backend := newFakeBackend()
	name := "web01_20250601_030000.tar.gz"
	path, sum := writeArchive(t, name, "archive data")

	outcome, err := Push(context.Background(), backend, path, name, sum)
	require.NoError(t, err)
	require.Equal(t, OutcomeUploaded, outcome)

	outcome, err = Push(context.Background(), backend, path, name, sum)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 1, backend.uploads, "second push must not re-transfer")
	assert.Len(t, backend.objects, 1)
}

func TestPushReplacesStaleObject(t *testing.T) {
	backend := newFakeBackend()
	name := "web01_20250601_030000.tar.gz"
	backend.objects[name] = fakeObject{data: []byte("old"), blake3: "stalechecksum"}

	path, sum := writeArchive(t, name, "new archive data")

	outcome, err := Push(context.Background(), backend, path, name, sum)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUploaded, outcome)
	assert.Equal(t, sum, backend.objects[name].blake3)
}

func TestPushFailedUpload(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadErr = &UploadError{Key: "k", Transient: true, Err: errors.New("connection reset")}

	path, sum := writeArchive(t, "a.tar.gz", "data")

	outcome, err := Push(context.Background(), backend, path, "a.tar.gz", sum)
	assert.Equal(t, OutcomeFailed, outcome)

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.True(t, uerr.Transient)
}

func TestPushDetectsTruncatedUpload(t *testing.T) {
	backend := newFakeBackend()
	backend.truncate = 4

	path, sum := writeArchive(t, "a.tar.gz", "archive data longer than four bytes")

	outcome, err := Push(context.Background(), backend, path, "a.tar.gz", sum)
	assert.Equal(t, OutcomeFailed, outcome)

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.False(t, uerr.Transient)
	assert.Contains(t, uerr.Error(), "size mismatch")
}

func TestPushFileComputesChecksum(t *testing.T) {
	backend := newFakeBackend()
	name := "web01_20250601_030000.tar.gz"
	path, sum := writeArchive(t, name, "archive data")

	outcome, err := PushFile(context.Background(), backend, path, name)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUploaded, outcome)
	assert.Equal(t, sum, backend.objects[name].blake3)
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "access denied is non-transient",
			err:  &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
			want: false,
		},
		{
			name: "missing bucket is non-transient",
			err:  &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"},
			want: false,
		},
		{
			name: "bad signature is non-transient",
			err:  &smithy.GenericAPIError{Code: "SignatureDoesNotMatch", Message: "nope"},
			want: false,
		},
		{
			name: "throttling is transient",
			err:  &smithy.GenericAPIError{Code: "SlowDown", Message: "throttled"},
			want: true,
		},
		{
			name: "plain network error is transient",
			err:  errors.New("connection reset by peer"),
			want: true,
		},
		{
			name: "cancelled context is non-transient",
			err:  fmt.Errorf("upload aborted: %w", context.Canceled),
			want: false,
		},
		{
			name: "deadline exceeded is non-transient",
			err:  context.DeadlineExceeded,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

func TestUploadErrorMessage(t *testing.T) {
	err := &UploadError{Key: "backups/web01/a.tar.gz", Transient: false, Err: errors.New("denied")}
	assert.Contains(t, err.Error(), "non-transient")
	assert.Contains(t, err.Error(), "backups/web01/a.tar.gz")

	inner := errors.New("denied")
	wrapped := &UploadError{Key: "k", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
}

func TestRetentionStoreList(t *testing.T) {
	backend := newFakeBackend()
	backend.objects["web01_20250601_030000.tar.gz"] = fakeObject{data: []byte("x")}
	backend.objects["legacy.tar.gz"] = fakeObject{data: []byte("y")}

	store := &RetentionStore{Backend: backend}
	candidates, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byName := map[string]time.Time{}
	for _, c := range candidates {
		byName[c.Name] = c.Timestamp
	}

	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.Local)
	assert.True(t, want.Equal(byName["web01_20250601_030000.tar.gz"]))
	assert.Contains(t, byName, "legacy.tar.gz")

	require.NoError(t, store.Delete(context.Background(), "legacy.tar.gz"))
	assert.NotContains(t, backend.objects, "legacy.tar.gz")
}
