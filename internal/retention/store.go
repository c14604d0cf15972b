package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backupd/internal/archive"
	"backupd/internal/config"
)

// Store is one side of archive storage that retention can list and thin.
type Store interface {
	List(ctx context.Context) ([]Candidate, error)
	Delete(ctx context.Context, name string) error
}

// DeleteResult records the outcome of one deletion attempt.
type DeleteResult struct {
	Name string
	Err  error
}

// Report is the outcome of applying a plan to one store.
type Report struct {
	Plan     Plan
	Deleted  []string
	Failures []DeleteResult
}

// PlanStore lists a store once and computes the plan over that snapshot.
func PlanStore(ctx context.Context, store Store, tiers []config.RetentionTier, pinned []string) (Plan, error) {
	candidates, err := store.List(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to list archives: %w", err)
	}
	return Compute(candidates, tiers, pinned), nil
}

// Apply plans against the store's current listing and deletes the delete
// set one item at a time. A failed deletion is recorded and does not stop
// the rest.
func Apply(ctx context.Context, store Store, tiers []config.RetentionTier, pinned []string) (*Report, error) {
	plan, err := PlanStore(ctx, store, tiers, pinned)
	if err != nil {
		return nil, err
	}

	report := &Report{Plan: plan}
	for _, c := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("retention cancelled: %w", err)
		}

		if err := store.Delete(ctx, c.Name); err != nil {
			slog.Warn("Failed to delete archive", "name", c.Name, "error", err)
			report.Failures = append(report.Failures, DeleteResult{Name: c.Name, Err: err})
			continue
		}
		slog.Info("Deleted archive", "name", c.Name)
		report.Deleted = append(report.Deleted, c.Name)
	}

	return report, nil
}

// DirStore is the local backup directory as a retention store. Every
// .tar.gz file is a candidate; the bucketing timestamp comes from the name
// stamp, falling back to file mtime for archives that predate the naming
// scheme.
type DirStore struct {
	Dir string
}

func (s *DirStore) List(ctx context.Context) ([]Candidate, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []Candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}

		var size int64
		var mtime time.Time
		if info, err := e.Info(); err == nil {
			size = info.Size()
			mtime = info.ModTime()
		}

		ts, ok := archive.ParseStamp(e.Name())
		if !ok {
			ts = mtime
		}
		candidates = append(candidates, Candidate{Name: e.Name(), Timestamp: ts, Size: size})
	}
	return candidates, nil
}

func (s *DirStore) Delete(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil {
		return err
	}
	// Manifest files follow their archive.
	manifest := filepath.Join(s.Dir, name+".manifest.yaml")
	if err := os.Remove(manifest); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove manifest", "path", manifest, "error", err)
	}
	return nil
}
