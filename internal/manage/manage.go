// Package manage applies operator-edited archive plans: per-archive
// actions that move copies between the local backup directory and the
// remote bucket, or delete them from either side.
package manage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"

	"backupd/internal/remote"
	"backupd/internal/retention"
)

// Action is one per-archive instruction from a plan.
type Action string

const (
	ActionNone        Action = "none"
	ActionDestroy     Action = "destroy"
	ActionKeepLocal   Action = "keep_local"
	ActionKeepCloud   Action = "keep_cloud"
	ActionCopyToCloud Action = "copy_to_cloud"
	ActionCopyToLocal Action = "copy_to_local"
)

// PlanItem carries the action for one archive.
type PlanItem struct {
	Action Action `json:"action"`
}

// Plan is the operator's edited decision document. A nil Pinned leaves
// the configured pinned list untouched.
type Plan struct {
	Actions map[string]PlanItem `json:"actions"`
	Pinned  *[]string           `json:"pinned,omitempty"`
}

// ItemError records a per-archive failure without stopping the plan.
type ItemError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Result summarizes what a plan application actually did.
type Result struct {
	CopiedToCloud []string    `json:"copied_to_cloud"`
	CopiedToLocal []string    `json:"copied_to_local"`
	DeletedLocal  []string    `json:"deleted_local"`
	DeletedCloud  []string    `json:"deleted_cloud"`
	Errors        []ItemError `json:"errors"`
	PinnedSaved   bool        `json:"pinned_saved"`
}

// Failed reports whether any per-archive action failed.
func (r *Result) Failed() bool { return len(r.Errors) > 0 }

// Archive names come from operator-edited JSON; anything outside this
// shape never reaches the filesystem or the bucket.
var safeNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+\.tar\.gz$`)

// Manager applies plans against the local backup directory and an
// optional remote backend. With a nil Backend every cloud-side action is
// skipped, and migrations that would need one fail rather than deleting
// the only remaining copy.
type Manager struct {
	BackupDir string
	Backend   remote.Backend
}

// Apply executes every action in the plan, collecting per-archive errors
// instead of aborting. Migrations copy before they delete, so a failed
// transfer never costs the last copy of an archive.
func (m *Manager) Apply(ctx context.Context, plan *Plan) *Result {
	res := &Result{
		CopiedToCloud: []string{},
		CopiedToLocal: []string{},
		DeletedLocal:  []string{},
		DeletedCloud:  []string{},
		Errors:        []ItemError{},
	}

	local, err := m.localSet()
	if err != nil {
		res.Errors = append(res.Errors, ItemError{Name: "*", Error: err.Error()})
		return res
	}
	cloud, err := m.cloudSet(ctx)
	if err != nil {
		res.Errors = append(res.Errors, ItemError{Name: "*", Error: err.Error()})
		return res
	}

	names := make([]string, 0, len(plan.Actions))
	for name := range plan.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		action := plan.Actions[name].Action
		if action == "" || action == ActionNone {
			continue
		}
		if !safeNameRe.MatchString(name) {
			res.Errors = append(res.Errors, ItemError{Name: name, Error: "unsafe archive name"})
			continue
		}
		if err := m.applyOne(ctx, name, action, local, cloud, res); err != nil {
			slog.Warn("Plan action failed", "archive", name, "action", string(action), "error", err)
			res.Errors = append(res.Errors, ItemError{Name: name, Error: err.Error()})
		}
	}
	return res
}

func (m *Manager) applyOne(ctx context.Context, name string, action Action,
	local, cloud map[string]bool, res *Result) error {

	switch action {
	case ActionDestroy:
		if local[name] {
			if err := m.deleteLocal(ctx, name); err != nil {
				return err
			}
			delete(local, name)
			res.DeletedLocal = append(res.DeletedLocal, name)
		}
		if cloud[name] && m.Backend != nil {
			if err := m.Backend.Delete(ctx, name); err != nil {
				return err
			}
			delete(cloud, name)
			res.DeletedCloud = append(res.DeletedCloud, name)
		}
		return nil

	case ActionKeepLocal:
		// Pull the copy down before deleting the remote one.
		if !local[name] {
			if !cloud[name] || m.Backend == nil {
				return fmt.Errorf("no cloud copy of %s to keep locally", name)
			}
			if err := m.Backend.Download(ctx, name, filepath.Join(m.BackupDir, name)); err != nil {
				return err
			}
			local[name] = true
			res.CopiedToLocal = append(res.CopiedToLocal, name)
		}
		if cloud[name] && m.Backend != nil {
			if err := m.Backend.Delete(ctx, name); err != nil {
				return err
			}
			delete(cloud, name)
			res.DeletedCloud = append(res.DeletedCloud, name)
		}
		return nil

	case ActionKeepCloud:
		if m.Backend == nil {
			return fmt.Errorf("cannot keep %s cloud-only: no remote backend", name)
		}
		if !cloud[name] {
			if !local[name] {
				return fmt.Errorf("no local copy of %s to move to cloud", name)
			}
			if err := m.upload(ctx, name); err != nil {
				return err
			}
			cloud[name] = true
			res.CopiedToCloud = append(res.CopiedToCloud, name)
		}
		if local[name] {
			if err := m.deleteLocal(ctx, name); err != nil {
				return err
			}
			delete(local, name)
			res.DeletedLocal = append(res.DeletedLocal, name)
		}
		return nil

	case ActionCopyToCloud:
		if m.Backend == nil {
			return fmt.Errorf("cannot copy %s to cloud: no remote backend", name)
		}
		if cloud[name] {
			return nil
		}
		if !local[name] {
			return fmt.Errorf("no local copy of %s to copy", name)
		}
		if err := m.upload(ctx, name); err != nil {
			return err
		}
		cloud[name] = true
		res.CopiedToCloud = append(res.CopiedToCloud, name)
		return nil

	case ActionCopyToLocal:
		if m.Backend == nil {
			return fmt.Errorf("cannot copy %s to local: no remote backend", name)
		}
		if local[name] {
			return nil
		}
		if !cloud[name] {
			return fmt.Errorf("no cloud copy of %s to copy", name)
		}
		if err := m.Backend.Download(ctx, name, filepath.Join(m.BackupDir, name)); err != nil {
			return err
		}
		local[name] = true
		res.CopiedToLocal = append(res.CopiedToLocal, name)
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func (m *Manager) upload(ctx context.Context, name string) error {
	_, err := remote.PushFile(ctx, m.Backend, filepath.Join(m.BackupDir, name), name)
	return err
}

func (m *Manager) deleteLocal(ctx context.Context, name string) error {
	store := &retention.DirStore{Dir: m.BackupDir}
	return store.Delete(ctx, name)
}

func (m *Manager) localSet() (map[string]bool, error) {
	set := map[string]bool{}
	entries, err := os.ReadDir(m.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("listing backup dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && safeNameRe.MatchString(e.Name()) {
			set[e.Name()] = true
		}
	}
	return set, nil
}

func (m *Manager) cloudSet(ctx context.Context) (map[string]bool, error) {
	set := map[string]bool{}
	if m.Backend == nil {
		return set, nil
	}
	objects, err := m.Backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote archives: %w", err)
	}
	for _, obj := range objects {
		set[path.Base(obj.Key)] = true
	}
	return set, nil
}
