package target

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"backupd/internal/config"
)

// Enumerator resolves the set of filesystem paths to include in a run.
// Rules are compiled once; the resolved set is derived fresh per call.
type Enumerator struct {
	mode         string
	includePaths []string
	excludes     []glob.Glob
	mirrorDir    string
	guards       []string
}

// New builds an Enumerator from the target section. Guard directories
// (the backup dir and staging dir) are always excluded so a backup never
// recurses into its own output.
func New(tc config.TargetConfig, guards ...string) (*Enumerator, error) {
	e := &Enumerator{
		mode:      tc.Mode,
		mirrorDir: filepath.Clean(tc.MirrorDir),
	}

	for _, g := range guards {
		if g != "" {
			e.guards = append(e.guards, filepath.Clean(g))
		}
	}

	switch tc.Mode {
	case "curated":
		if len(tc.IncludePaths) == 0 {
			return nil, &config.ValidationError{Field: "target.include_paths", Reason: "curated mode requires at least one include path"}
		}
		for _, p := range tc.IncludePaths {
			e.includePaths = append(e.includePaths, filepath.Clean(p))
		}
		for _, pattern := range tc.ExcludeGlobs {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, &config.ValidationError{Field: "target.exclude_globs", Reason: fmt.Sprintf("bad pattern %q: %v", pattern, err)}
			}
			e.excludes = append(e.excludes, g)
		}
	case "mirror":
		if tc.MirrorDir == "" {
			return nil, &config.ValidationError{Field: "target.mirror_dir", Reason: "mirror mode requires a directory"}
		}
	default:
		return nil, &config.ValidationError{Field: "target.mode", Reason: "must be curated or mirror"}
	}

	return e, nil
}

// Enumerate returns the sorted absolute paths of every file and symlink
// selected by the target rules. In curated mode a path survives only when
// it sits under an include path and matches no exclude glob; an exclude
// match always wins. Mirror mode lists the whole directory and ignores
// the curated rules.
func (e *Enumerator) Enumerate() ([]string, error) {
	var roots []string

	switch e.mode {
	case "mirror":
		info, err := os.Stat(e.mirrorDir)
		if err != nil || !info.IsDir() {
			return nil, &config.ValidationError{Field: "target.mirror_dir", Reason: fmt.Sprintf("%s is not a directory", e.mirrorDir)}
		}
		roots = []string{e.mirrorDir}
	default:
		roots = e.includePaths
	}

	seen := make(map[string]bool)
	var paths []string

	for _, root := range roots {
		if _, err := os.Lstat(root); err != nil {
			slog.Warn("Skipping missing include path", "path", root)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Warn("Skipping unreadable path", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if e.guarded(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if e.mode == "curated" && e.excluded(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func (e *Enumerator) excluded(path string) bool {
	for _, g := range e.excludes {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (e *Enumerator) guarded(path string) bool {
	for _, g := range e.guards {
		if path == g || strings.HasPrefix(path, g+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
