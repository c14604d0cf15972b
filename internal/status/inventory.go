package status

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"backupd/internal/config"
	"backupd/internal/remote"
	"backupd/internal/retention"
	"backupd/internal/state"
)

// InventoryEntry is one archive on one storage side.
type InventoryEntry struct {
	Name      string `json:"name"`
	Side      string `json:"side"` // local or remote
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`
	Timestamp string `json:"timestamp"`
	Origin    string `json:"origin,omitempty"` // manual or scheduled
	Pinned    bool   `json:"pinned"`
}

type Inventory struct {
	Local       []InventoryEntry `json:"local"`
	Remote      []InventoryEntry `json:"remote,omitempty"`
	RemoteError string           `json:"remote_error,omitempty"`
}

func entries(candidates []retention.Candidate, side string, st *state.State, pinned map[string]bool) []InventoryEntry {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})

	out := make([]InventoryEntry, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, InventoryEntry{
			Name:      c.Name,
			Side:      side,
			SizeBytes: c.Size,
			SizeHuman: humanize.Bytes(uint64(c.Size)),
			Timestamp: c.Timestamp.Format(time.RFC3339),
			Origin:    st.ArchiveOrigin(c.Name),
			Pinned:    pinned[c.Name],
		})
	}
	return out
}

// BuildInventory lists archives on both sides with per-archive metadata
// from the run index.
func BuildInventory(ctx context.Context, cfg *config.Config, st *state.State, backend remote.Backend) (*Inventory, error) {
	pinned := make(map[string]bool, len(cfg.Retention.Pinned))
	for _, name := range cfg.Retention.Pinned {
		pinned[name] = true
	}

	inv := &Inventory{}

	local := &retention.DirStore{Dir: cfg.BackupDir}
	candidates, err := local.List(ctx)
	if err != nil {
		return nil, err
	}
	inv.Local = entries(candidates, "local", st, pinned)

	if backend != nil {
		store := &remote.RetentionStore{Backend: backend}
		if candidates, err := store.List(ctx); err == nil {
			inv.Remote = entries(candidates, "remote", st, pinned)
		} else {
			inv.RemoteError = err.Error()
		}
	}

	return inv, nil
}
