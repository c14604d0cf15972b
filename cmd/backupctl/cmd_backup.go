package main

import (
	"context"
	"errors"
	"log/slog"

	"backupd/internal/config"
	"backupd/internal/dbdump"
	"backupd/internal/lock"
	"backupd/internal/notify"
	"backupd/internal/run"
)

type archiveSummary struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Blake3    string `json:"blake3"`
	Files     int    `json:"files"`
}

type dumpSummary struct {
	Jobs      int `json:"jobs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type retentionSummary struct {
	Deleted  int `json:"deleted"`
	Failures int `json:"failures"`
}

type runSummary struct {
	Status          string            `json:"status"`
	Origin          string            `json:"origin"`
	Archive         *archiveSummary   `json:"archive,omitempty"`
	Upload          string            `json:"upload,omitempty"`
	UploadError     string            `json:"upload_error,omitempty"`
	Dumps           *dumpSummary      `json:"dumps,omitempty"`
	LocalRetention  *retentionSummary `json:"local_retention,omitempty"`
	RemoteRetention *retentionSummary `json:"remote_retention,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func summarizeRun(res *run.Result, origin string) *runSummary {
	s := &runSummary{
		Status: res.Status,
		Origin: origin,
		Upload: string(res.Upload),
	}
	if res.Archive != nil {
		s.Archive = &archiveSummary{
			Name:      res.Archive.Name,
			SizeBytes: res.Archive.Size,
			Blake3:    res.Archive.Blake3,
			Files:     res.Archive.Manifest.FileCount,
		}
	}
	if res.UploadErr != nil {
		s.UploadError = res.UploadErr.Error()
	}
	if len(res.Jobs) > 0 {
		d := &dumpSummary{Jobs: len(res.Jobs)}
		for _, j := range res.Jobs {
			switch j.Status {
			case dbdump.StatusSucceeded:
				d.Succeeded++
			case dbdump.StatusFailed:
				d.Failed++
			}
		}
		s.Dumps = d
	}
	if res.LocalRetention != nil {
		s.LocalRetention = &retentionSummary{
			Deleted:  len(res.LocalRetention.Deleted),
			Failures: len(res.LocalRetention.Failures),
		}
	}
	if res.RemoteRetention != nil {
		s.RemoteRetention = &retentionSummary{
			Deleted:  len(res.RemoteRetention.Deleted),
			Failures: len(res.RemoteRetention.Failures),
		}
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

// finishRun prints the summary and maps the terminal status to an exit code.
func finishRun(res *run.Result, origin string) error {
	if err := printJSON(summarizeRun(res, origin)); err != nil {
		return err
	}
	switch res.Status {
	case run.StatusDegraded:
		return exitErr(exitDegraded, "")
	case run.StatusFailed:
		return exitErr(exitFailure, "")
	}
	return nil
}

func runOptions(ctx context.Context, cfg *config.Config, origin string) (run.Options, error) {
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return run.Options{}, exitErr(exitFailure, "initialize remote storage: %v", err)
	}
	return run.Options{
		Config:   cfg,
		Backend:  backend,
		Notifier: notify.NewTelegram(cfg.Telegram),
		Origin:   origin,
	}, nil
}

func backupNow(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg, slog.LevelInfo)
	defer closeLog()

	opts, err := runOptions(ctx, cfg, "manual")
	if err != nil {
		return err
	}

	res, err := run.Do(ctx, opts)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return exitErr(exitUsage, "%v", err)
		}
		return exitErr(exitFailure, "%v", err)
	}
	return finishRun(res, "manual")
}

func runIfDue(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg, slog.LevelWarn)
	defer closeLog()

	opts, err := runOptions(ctx, cfg, "scheduled")
	if err != nil {
		return err
	}

	res, slot, ran, err := run.IfDue(ctx, opts)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return exitErr(exitUsage, "%v", err)
		}
		return exitErr(exitFailure, "%v", err)
	}

	if !ran {
		return printJSON(map[string]any{
			"ran":  false,
			"slot": slot,
		})
	}

	summary := summarizeRun(res, "scheduled")
	if err := printJSON(map[string]any{
		"ran":  true,
		"slot": slot,
		"run":  summary,
	}); err != nil {
		return err
	}
	switch res.Status {
	case run.StatusDegraded:
		return exitErr(exitDegraded, "")
	case run.StatusFailed:
		return exitErr(exitFailure, "")
	}
	return nil
}
