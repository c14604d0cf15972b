package status

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"backupd/internal/config"
	"backupd/internal/remote"
	"backupd/internal/retention"
	"backupd/internal/state"
)

// SideSummary describes one storage side's archive population.
type SideSummary struct {
	Count      int    `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
	TotalHuman string `json:"total_human"`
	Latest     string `json:"latest,omitempty"`
	LatestAt   string `json:"latest_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DiskSummary is the filesystem holding the backup dir.
type DiskSummary struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	TotalHuman string `json:"total_human"`
	FreeHuman  string `json:"free_human"`
}

// Report is the status payload.
type Report struct {
	Now         string       `json:"now"`
	Hostname    string       `json:"hostname"`
	Mode        string       `json:"mode"`
	Local       SideSummary  `json:"local"`
	Remote      *SideSummary `json:"remote,omitempty"`
	Disk        *DiskSummary `json:"disk,omitempty"`
	LastRun     *LastRun     `json:"last_run,omitempty"`
	NextRunAt   string       `json:"next_run_at,omitempty"`
	NextRunIn   string       `json:"next_run_in,omitempty"`
	PrevRunSlot string       `json:"prev_run_slot,omitempty"`
}

type LastRun struct {
	Status     string `json:"status"`
	FinishedAt string `json:"finished_at"`
	Archive    string `json:"archive,omitempty"`
	Upload     string `json:"upload,omitempty"`
}

func summarize(candidates []retention.Candidate) SideSummary {
	var s SideSummary
	var latest retention.Candidate
	for _, c := range candidates {
		s.Count++
		s.TotalBytes += c.Size
		if c.Timestamp.After(latest.Timestamp) {
			latest = c
		}
	}
	s.TotalHuman = humanize.Bytes(uint64(s.TotalBytes))
	if latest.Name != "" {
		s.Latest = latest.Name
		s.LatestAt = latest.Timestamp.Format(time.RFC3339)
	}
	return s
}

func diskUsage(path string) *DiskSummary {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return nil
	}
	bsize := uint64(fs.Bsize)
	d := &DiskSummary{
		TotalBytes: fs.Blocks * bsize,
		FreeBytes:  fs.Bavail * bsize,
	}
	d.TotalHuman = humanize.Bytes(d.TotalBytes)
	d.FreeHuman = humanize.Bytes(d.FreeBytes)
	return d
}

// Build assembles the status report. The remote side is listed only when a
// backend is supplied; a remote listing failure degrades that section, not
// the whole report.
func Build(ctx context.Context, cfg *config.Config, st *state.State, backend remote.Backend, now time.Time) *Report {
	r := &Report{
		Now:      now.Format(time.RFC3339),
		Hostname: cfg.Host(),
		Mode:     cfg.Target.Mode,
	}

	local := &retention.DirStore{Dir: cfg.BackupDir}
	if candidates, err := local.List(ctx); err == nil {
		r.Local = summarize(candidates)
	} else {
		r.Local.Error = err.Error()
	}

	if backend != nil {
		store := &remote.RetentionStore{Backend: backend}
		summary := SideSummary{}
		if candidates, err := store.List(ctx); err == nil {
			summary = summarize(candidates)
		} else {
			summary.Error = err.Error()
		}
		r.Remote = &summary
	}

	r.Disk = diskUsage(cfg.BackupDir)

	if rec := st.LastRun(); rec != nil {
		r.LastRun = &LastRun{
			Status:     rec.Status,
			FinishedAt: rec.FinishedAt,
			Archive:    rec.Archive,
			Upload:     rec.Upload,
		}
	}

	if next, ok := NextOccurrence(now, cfg.Schedule.Times); ok {
		r.NextRunAt = next.Format(time.RFC3339)
		r.NextRunIn = next.Sub(now).Round(time.Second).String()
	}
	if prev, ok := PrevOccurrence(now, cfg.Schedule.Times); ok {
		r.PrevRunSlot = prev.Format(time.RFC3339)
	}

	return r
}
