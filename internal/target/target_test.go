package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupd/internal/config"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name        string
		tc          config.TargetConfig
		errContains string
	}{
		{
			name:        "curated without includes",
			tc:          config.TargetConfig{Mode: "curated"},
			errContains: "include_paths",
		},
		{
			name:        "mirror without directory",
			tc:          config.TargetConfig{Mode: "mirror"},
			errContains: "mirror_dir",
		},
		{
			name:        "unknown mode",
			tc:          config.TargetConfig{Mode: "all"},
			errContains: "target.mode",
		},
		{
			name: "bad exclude pattern",
			tc: config.TargetConfig{
				Mode:         "curated",
				IncludePaths: []string{"/etc"},
				ExcludeGlobs: []string{"[unterminated"},
			},
			errContains: "bad pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tc)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.errContains)

			var verr *config.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestEnumerateExcludeWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.conf"))
	writeFile(t, filepath.Join(root, "secret.key"))
	writeFile(t, filepath.Join(root, "cache", "blob"))

	e, err := New(config.TargetConfig{
		Mode:         "curated",
		IncludePaths: []string{root},
		ExcludeGlobs: []string{"*.key", "*/cache*"},
	})
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "keep.conf")}, paths)
}

func TestEnumerateExcludedDirSkipsSubtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"))

	e, err := New(config.TargetConfig{
		Mode:         "curated",
		IncludePaths: []string{root},
		ExcludeGlobs: []string{"*node_modules*"},
	})
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, paths)
}

func TestEnumerateMirrorIgnoresRules(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "b.key"))
	writeFile(t, filepath.Join(root, "sub", "c.log"))

	e, err := New(config.TargetConfig{
		Mode:         "mirror",
		MirrorDir:    root,
		ExcludeGlobs: []string{"*.key", "*.log"},
	})
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.key"),
		filepath.Join(root, "sub", "c.log"),
	}, paths)
}

func TestEnumerateMirrorMissingDir(t *testing.T) {
	e, err := New(config.TargetConfig{
		Mode:      "mirror",
		MirrorDir: filepath.Join(t.TempDir(), "absent"),
	})
	require.NoError(t, err)

	_, err = e.Enumerate()
	require.Error(t, err)

	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEnumerateGuardsBackupDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.txt"))
	writeFile(t, filepath.Join(root, "backups", "old.tar.gz"))
	writeFile(t, filepath.Join(root, "staging", "partial.sql"))

	e, err := New(config.TargetConfig{
		Mode:         "curated",
		IncludePaths: []string{root},
	}, filepath.Join(root, "backups"), filepath.Join(root, "staging"))
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "data.txt")}, paths)
}

func TestEnumerateMissingIncludeSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"))

	e, err := New(config.TargetConfig{
		Mode:         "curated",
		IncludePaths: []string{root, filepath.Join(root, "no-such-dir")},
	})
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, paths)
}

func TestEnumerateSortedAndDeduplicated(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"))
	writeFile(t, filepath.Join(root, "a.txt"))

	e, err := New(config.TargetConfig{
		Mode:         "curated",
		IncludePaths: []string{root, root},
	})
	require.NoError(t, err)

	paths, err := e.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
	}, paths)
}
