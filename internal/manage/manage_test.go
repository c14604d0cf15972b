package manage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupd/internal/remote"
)

type fakeObject struct {
	data   []byte
	blake3 string
}

type fakeBackend struct {
	objects   map[string]fakeObject
	deleteErr error
	uploadErr error
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
	f.objects[name] = fakeObject{data: data, blake3: checksumHash}
	return nil
}

func (f *fakeBackend) Download(ctx context.Context, name, localPath string) error {
	obj, ok := f.objects[name]
	if !ok {
		return remote.ErrNotFound
	}
	return os.WriteFile(localPath, obj.data, 0o640)
}

func (f *fakeBackend) Head(ctx context.Context, name string) (*remote.ObjectInfo, error) {
	obj, ok := f.objects[name]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &remote.ObjectInfo{Key: name, Size: int64(len(obj.data)), Blake3: obj.blake3}, nil
}

func (f *fakeBackend) List(ctx context.Context) ([]remote.ObjectInfo, error) {
	var out []remote.ObjectInfo
	for name, obj := range f.objects {
		out = append(out, remote.ObjectInfo{Key: "backups/web01/" + name, Size: int64(len(obj.data))})
	}
	return out, nil
}

func (f *fakeBackend) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("no such object: %s", name)
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeBackend) VerifyCredentials(ctx context.Context) error { return nil }

func writeLocal(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("archive "+name), 0o644))
}

func plan(actions map[string]Action) *Plan {
	p := &Plan{Actions: map[string]PlanItem{}}
	for name, a := range actions {
		p.Actions[name] = PlanItem{Action: a}
	}
	return p
}

func TestApplyKeepCloudMovesArchive(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "web01_20250601_030000.tar.gz")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "web01_20250601_030000.tar.gz.manifest.yaml"), []byte("files: []\n"), 0o644))

	backend := newFakeBackend()
	m := &Manager{BackupDir: dir, Backend: backend}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"web01_20250601_030000.tar.gz": ActionKeepCloud,
	}))

	assert.False(t, res.Failed())
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.CopiedToCloud)
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.DeletedLocal)
	assert.Contains(t, backend.objects, "web01_20250601_030000.tar.gz")

	_, err := os.Stat(filepath.Join(dir, "web01_20250601_030000.tar.gz"))
	assert.True(t, os.IsNotExist(err))
	// The manifest sidecar follows its archive out.
	_, err = os.Stat(filepath.Join(dir, "web01_20250601_030000.tar.gz.manifest.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyKeepLocalDownloadsBeforeRemoteDelete(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.objects["web01_20250601_030000.tar.gz"] = fakeObject{data: []byte("cloud copy")}

	m := &Manager{BackupDir: dir, Backend: backend}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"web01_20250601_030000.tar.gz": ActionKeepLocal,
	}))

	assert.False(t, res.Failed())
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.CopiedToLocal)
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.DeletedCloud)
	assert.Empty(t, backend.objects)

	data, err := os.ReadFile(filepath.Join(dir, "web01_20250601_030000.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "cloud copy", string(data))
}

func TestApplyKeepLocalFailedDownloadKeepsRemote(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	// Head/List see the object but Download cannot produce it.
	backend.objects["web01_20250601_030000.tar.gz"] = fakeObject{data: []byte("cloud copy")}
	m := &Manager{BackupDir: filepath.Join(dir, "missing", "nested"), Backend: backend}

	res := m.Apply(context.Background(), plan(map[string]Action{
		"web01_20250601_030000.tar.gz": ActionKeepLocal,
	}))

	require.True(t, res.Failed())
	assert.Empty(t, res.DeletedCloud)
	assert.Contains(t, backend.objects, "web01_20250601_030000.tar.gz")
}

func TestApplyDestroyDeletesBothSides(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "web01_20250601_030000.tar.gz")
	backend := newFakeBackend()
	backend.objects["web01_20250601_030000.tar.gz"] = fakeObject{data: []byte("cloud copy")}

	m := &Manager{BackupDir: dir, Backend: backend}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"web01_20250601_030000.tar.gz": ActionDestroy,
	}))

	assert.False(t, res.Failed())
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.DeletedLocal)
	assert.Equal(t, []string{"web01_20250601_030000.tar.gz"}, res.DeletedCloud)
	assert.Empty(t, backend.objects)
}

func TestApplyCopyActionsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "up.tar.gz")
	writeLocal(t, dir, "both.tar.gz")
	backend := newFakeBackend()
	backend.objects["down.tar.gz"] = fakeObject{data: []byte("cloud copy")}
	backend.objects["both.tar.gz"] = fakeObject{data: []byte("archive both.tar.gz")}

	m := &Manager{BackupDir: dir, Backend: backend}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"up.tar.gz":   ActionCopyToCloud,
		"down.tar.gz": ActionCopyToLocal,
		"both.tar.gz": ActionCopyToCloud, // already there, nothing to do
	}))

	assert.False(t, res.Failed())
	assert.Equal(t, []string{"up.tar.gz"}, res.CopiedToCloud)
	assert.Equal(t, []string{"down.tar.gz"}, res.CopiedToLocal)
	assert.Empty(t, res.DeletedLocal)
	assert.Empty(t, res.DeletedCloud)
	assert.Contains(t, backend.objects, "up.tar.gz")
	assert.FileExists(t, filepath.Join(dir, "down.tar.gz"))
}

func TestApplyRejectsUnsafeNames(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{BackupDir: dir, Backend: newFakeBackend()}

	res := m.Apply(context.Background(), plan(map[string]Action{
		"../../etc/passwd.tar.gz": ActionDestroy,
		"notanarchive.txt":        ActionDestroy,
	}))

	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Equal(t, "unsafe archive name", e.Error)
	}
}

func TestApplyCollectsErrorsAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "a_ok.tar.gz")
	backend := newFakeBackend()
	backend.objects["b_gone.tar.gz"] = fakeObject{data: []byte("cloud copy")}
	backend.deleteErr = errors.New("bucket unavailable")

	m := &Manager{BackupDir: dir, Backend: backend}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"a_ok.tar.gz":   ActionCopyToCloud,
		"b_gone.tar.gz": ActionDestroy,
	}))

	// The delete failure is recorded but does not stop the copy.
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b_gone.tar.gz", res.Errors[0].Name)
	assert.Contains(t, res.Errors[0].Error, "bucket unavailable")
	assert.Equal(t, []string{"a_ok.tar.gz"}, res.CopiedToCloud)
}

func TestApplyWithoutBackendSkipsCloudSides(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "keep.tar.gz")
	writeLocal(t, dir, "gone.tar.gz")

	m := &Manager{BackupDir: dir}
	res := m.Apply(context.Background(), plan(map[string]Action{
		"keep.tar.gz": ActionKeepCloud,
		"gone.tar.gz": ActionDestroy,
	}))

	// keep_cloud would delete the only copy; it must fail instead.
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "keep.tar.gz", res.Errors[0].Name)
	assert.FileExists(t, filepath.Join(dir, "keep.tar.gz"))

	assert.Equal(t, []string{"gone.tar.gz"}, res.DeletedLocal)
}
