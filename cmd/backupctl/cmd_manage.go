package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"backupd/internal/config"
	"backupd/internal/lock"
	"backupd/internal/manage"
)

// manageApply reads an edited plan from stdin and moves or deletes the
// named archives. The pinned list, when present, is written back to the
// config before any action runs so a crash mid-plan never loses pins.
func manageApply(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg, slog.LevelInfo)
	defer closeLog()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return exitErr(exitFailure, "read stdin: %v", err)
	}
	var plan manage.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return exitErr(exitUsage, "invalid plan: %v", err)
	}

	// Archive moves and backup runs contend on the same lock.
	release, err := lock.Acquire(filepath.Join(cfg.StateDir, "run.lock"), lock.DefaultStaleAfter)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return exitErr(exitUsage, "%v", err)
		}
		return exitErr(exitFailure, "%v", err)
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release run lock", "error", err)
		}
	}()

	pinnedSaved := false
	if plan.Pinned != nil {
		cfg.Retention.Pinned = *plan.Pinned
		if err := config.Save(configPath, cfg); err != nil {
			return exitErr(exitFailure, "save pinned list: %v", err)
		}
		pinnedSaved = true
		slog.Info("Saved pinned archives", "count", len(cfg.Retention.Pinned))
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return exitErr(exitFailure, "initialize remote storage: %v", err)
	}

	mgr := &manage.Manager{BackupDir: cfg.BackupDir, Backend: backend}
	res := mgr.Apply(ctx, &plan)
	res.PinnedSaved = pinnedSaved

	if err := printJSON(res); err != nil {
		return err
	}
	if res.Failed() {
		return exitErr(exitDegraded, "")
	}
	return nil
}
