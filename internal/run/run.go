package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"backupd/internal/archive"
	"backupd/internal/config"
	"backupd/internal/dbdump"
	"backupd/internal/lock"
	"backupd/internal/notify"
	"backupd/internal/remote"
	"backupd/internal/retention"
	"backupd/internal/state"
	"backupd/internal/status"
	"backupd/internal/target"
)

const (
	StatusCompleted = "completed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// Options configures one orchestrator run. Backend is nil when uploads are
// disabled; tests inject fakes for Backend and Clock.
type Options struct {
	Config   *config.Config
	Backend  remote.Backend
	Notifier *notify.TelegramSender
	Origin   string // manual or scheduled
	Clock    func() time.Time
}

// Result is the terminal outcome of one run.
type Result struct {
	Status          string
	Archive         *archive.Archive
	Upload          remote.Outcome
	UploadErr       error
	Discovery       *dbdump.Discovery
	Jobs            []*dbdump.Job
	LocalRetention  *retention.Report
	RemoteRetention *retention.Report
	Err             error
}

// Failed reports a run that produced no valid archive.
func (r *Result) Failed() bool { return r.Status == StatusFailed }

// Do executes one full backup run: acquire the lock, enumerate and dump
// concurrently, archive, upload, then thin under retention policy. It
// blocks until a terminal state. A second concurrent call fails fast with
// lock.ErrHeld.
func Do(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	origin := opts.Origin
	if origin == "" {
		origin = "manual"
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	release, err := lock.Acquire(filepath.Join(cfg.StateDir, "run.lock"), lock.DefaultStaleAfter)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release run lock", "error", err)
		}
	}()

	st, err := state.Load(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	startedAt := now()
	res := &Result{}

	defer func() {
		record(st, cfg, res, origin, startedAt, now())
		if res.Status != StatusCompleted && opts.Notifier != nil {
			report := fmt.Sprintf("backupd on %s: run %s", cfg.Host(), res.Status)
			if res.Err != nil {
				report += ": " + res.Err.Error()
			}
			if err := opts.Notifier.Send(report); err != nil {
				slog.Warn("Failed to send notification", "error", err)
			}
		}
	}()

	stagingDir := filepath.Join(cfg.StagingDir, startedAt.Format("20060102_150405"))
	if err := os.MkdirAll(stagingDir, 0o777); err != nil {
		res.fail(fmt.Errorf("failed to create staging directory: %w", err))
		return res, nil
	}

	paths, err := gather(ctx, cfg, stagingDir, st, now(), res)
	if err != nil {
		res.fail(err)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		res.fail(fmt.Errorf("run cancelled before archiving: %w", err))
		return res, nil
	}

	slog.Info("Archiving", "inputs", len(paths))
	arc, err := archive.Build(ctx, paths, cfg.BackupDir, cfg.Host(), startedAt)
	if err != nil {
		res.fail(fmt.Errorf("archive failed: %w", err))
		return res, nil
	}
	res.Archive = arc

	// Staged dumps are inside the archive now.
	if err := os.RemoveAll(stagingDir); err != nil {
		slog.Warn("Failed to clean staging directory", "path", stagingDir, "error", err)
	}

	res.Status = StatusCompleted

	if err := ctx.Err(); err != nil {
		res.Status = StatusDegraded
		res.Err = fmt.Errorf("run cancelled before upload: %w", err)
		return res, nil
	}

	if opts.Backend != nil {
		slog.Info("Uploading", "archive", arc.Name)
		outcome, err := remote.Push(ctx, opts.Backend, arc.Path, arc.Name, arc.Blake3)
		res.Upload = outcome
		if err != nil {
			// The local archive stays valid; offsite copy is missing.
			res.Status = StatusDegraded
			res.UploadErr = err
			slog.Error("Upload failed, run degraded", "archive", arc.Name, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("run cancelled before retention: %w", err)
		return res, nil
	}

	if (st.RunCount+1)%cfg.RetentionEveryRuns() == 0 {
		applyRetention(ctx, cfg, opts.Backend, res)
	} else {
		slog.Info("Skipping retention this run", "runCount", st.RunCount+1, "everyRuns", cfg.RetentionEveryRuns())
	}

	return res, nil
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
	slog.Error("Run failed", "error", err)
}

// gather runs enumeration and database dumps concurrently and returns the
// combined archive inputs.
func gather(ctx context.Context, cfg *config.Config, stagingDir string, st *state.State, now time.Time, res *Result) ([]string, error) {
	enum, err := target.New(cfg.Target, cfg.BackupDir, cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	engine := dbdump.New(cfg.Database)

	var wg sync.WaitGroup

	var paths []string
	var enumErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Enumerating targets", "mode", cfg.Target.Mode)
		paths, enumErr = enum.Enumerate()
	}()

	var dumpPaths []string

	wg.Add(1)
	go func() {
		defer wg.Done()

		if !dumpsDue(cfg, st, now) {
			slog.Info("Skipping database dumps this run", "cadence", cfg.Database.Cadence)
			return
		}

		res.Discovery = engine.Discover(ctx)
		res.Jobs = engine.BuildJobs(res.Discovery, stagingDir)

		failed := engine.DumpAll(ctx, res.Jobs, cfg.DumpWorkers())
		if failed > 0 {
			slog.Warn("Some dumps failed", "failed", failed, "total", len(res.Jobs))
		}

		for _, job := range res.Jobs {
			if job.Status == dbdump.StatusSucceeded {
				dumpPaths = append(dumpPaths, job.OutputPath)
			}
		}

		if len(res.Jobs) > 0 {
			st.AddMark("dump:"+now.Format("2006-01-02"), now)
		}
	}()

	wg.Wait()

	if enumErr != nil {
		return nil, enumErr
	}

	return append(paths, dumpPaths...), nil
}

// dumpsDue implements the dump cadence: every_backup dumps on each run,
// daily dumps once per day, hybrid dumps when a configured dump time is
// due or no dump has happened today.
func dumpsDue(cfg *config.Config, st *state.State, now time.Time) bool {
	if !cfg.Database.MySQL.Enabled && !cfg.Database.Postgres.Enabled {
		return false
	}

	dayKey := "dump:" + now.Format("2006-01-02")

	switch cfg.Database.Cadence {
	case "", "every_backup":
		return true
	case "daily":
		return !st.HasMark(dayKey)
	case "hybrid":
		tolerance := time.Duration(cfg.Schedule.ToleranceMinutes) * time.Minute
		if _, _, due := status.DueSlot(now, cfg.Database.DumpTimes, tolerance); due {
			return true
		}
		return !st.HasMark(dayKey)
	default:
		return true
	}
}

func applyRetention(ctx context.Context, cfg *config.Config, backend remote.Backend, res *Result) {
	tiers := cfg.Retention.Tiers
	pinned := cfg.Retention.Pinned

	slog.Info("Applying retention", "side", "local")
	local, err := retention.Apply(ctx, &retention.DirStore{Dir: cfg.BackupDir}, tiers, pinned)
	if err != nil {
		slog.Error("Local retention failed", "error", err)
	} else {
		res.LocalRetention = local
	}

	if backend == nil {
		return
	}

	slog.Info("Applying retention", "side", "remote")
	rem, err := retention.Apply(ctx, &remote.RetentionStore{Backend: backend}, tiers, pinned)
	if err != nil {
		slog.Error("Remote retention failed", "error", err)
		return
	}
	res.RemoteRetention = rem
}

func record(st *state.State, cfg *config.Config, res *Result, origin string, startedAt, finishedAt time.Time) {
	rec := state.RunRecord{
		StartedAt:  startedAt.Format(time.RFC3339),
		FinishedAt: finishedAt.Format(time.RFC3339),
		Status:     res.Status,
		Origin:     origin,
		Upload:     string(res.Upload),
	}
	if res.Archive != nil {
		rec.Archive = res.Archive.Name
		rec.ArchiveBytes = res.Archive.Size
		rec.Blake3 = res.Archive.Blake3
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	for _, job := range res.Jobs {
		jr := state.JobRecord{
			Engine:   job.Kind.String(),
			Schema:   job.Schema,
			Status:   string(job.Status),
			Bytes:    job.Size,
			Duration: job.Duration.Round(time.Millisecond).String(),
		}
		if job.Err != nil {
			jr.Error = job.Err.Error()
		}
		rec.DumpJobs = append(rec.DumpJobs, jr)
	}
	if res.LocalRetention != nil {
		rec.RetentionDeletedLocal = len(res.LocalRetention.Deleted)
	}
	if res.RemoteRetention != nil {
		rec.RetentionDeletedRemote = len(res.RemoteRetention.Deleted)
	}

	st.AppendRun(rec)
	if err := state.Save(cfg.StateDir, st); err != nil {
		slog.Warn("Failed to persist run state", "error", err)
	}
}

// IfDue runs a backup only when a schedule slot is currently due and not
// yet satisfied. Returns the result, the satisfied slot, and whether a run
// happened at all.
func IfDue(ctx context.Context, opts Options) (*Result, string, bool, error) {
	cfg := opts.Config
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	st, err := state.Load(cfg.StateDir)
	if err != nil {
		return nil, "", false, err
	}

	tolerance := time.Duration(cfg.Schedule.ToleranceMinutes) * time.Minute
	slot, day, due := status.DueSlot(now(), cfg.Schedule.Times, tolerance)
	if !due {
		return nil, "", false, nil
	}

	key := state.MarkKey(day, slot)
	if st.HasMark(key) {
		return nil, slot, false, nil
	}

	opts.Origin = "scheduled"
	res, err := Do(ctx, opts)
	if err != nil {
		return nil, slot, false, err
	}

	// Reload: Do persisted its own run record.
	st, loadErr := state.Load(cfg.StateDir)
	if loadErr == nil {
		st.AddMark(key, now())
		st.PruneMarks(now())
		if err := state.Save(cfg.StateDir, st); err != nil {
			slog.Warn("Failed to persist schedule mark", "error", err)
		}
	}

	return res, slot, true, nil
}
