package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"backupd/internal/config"
	"backupd/internal/lock"
	"backupd/internal/remote"
	"backupd/internal/retention"
)

type planEntry struct {
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

type planSide struct {
	Keep   []planEntry `json:"keep"`
	Delete []string    `json:"delete"`
	Error  string      `json:"error,omitempty"`
}

func planJSON(plan retention.Plan) planSide {
	side := planSide{Keep: []planEntry{}, Delete: []string{}}
	for _, c := range plan.Keep {
		side.Keep = append(side.Keep, planEntry{Name: c.Name, Tier: plan.Tiers[c.Name]})
	}
	for _, c := range plan.Delete {
		side.Delete = append(side.Delete, c.Name)
	}
	return side
}

func retentionStores(ctx context.Context, cfg *config.Config) (retention.Store, retention.Store, error) {
	local := &retention.DirStore{Dir: cfg.BackupDir}
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, nil, exitErr(exitFailure, "initialize remote storage: %v", err)
	}
	if backend == nil {
		return local, nil, nil
	}
	return local, &remote.RetentionStore{Backend: backend}, nil
}

func retentionPlan(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	local, remoteStore, err := retentionStores(ctx, cfg)
	if err != nil {
		return err
	}

	out := map[string]any{}
	plan, err := retention.PlanStore(ctx, local, cfg.Retention.Tiers, cfg.Retention.Pinned)
	if err != nil {
		return exitErr(exitFailure, "plan local retention: %v", err)
	}
	out["local"] = planJSON(plan)

	if remoteStore != nil {
		side := planSide{Keep: []planEntry{}, Delete: []string{}}
		plan, err := retention.PlanStore(ctx, remoteStore, cfg.Retention.Tiers, cfg.Retention.Pinned)
		if err != nil {
			side.Error = err.Error()
		} else {
			side = planJSON(plan)
		}
		out["remote"] = side
	}

	return printJSON(out)
}

type applySide struct {
	Deleted  []string `json:"deleted"`
	Failures []string `json:"failures"`
	Error    string   `json:"error,omitempty"`
}

func applyJSON(report *retention.Report) applySide {
	side := applySide{Deleted: []string{}, Failures: []string{}}
	if report == nil {
		return side
	}
	side.Deleted = append(side.Deleted, report.Deleted...)
	for _, f := range report.Failures {
		side.Failures = append(side.Failures, f.Name)
	}
	return side
}

func retentionApply(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg, slog.LevelInfo)
	defer closeLog()

	// Retention and backup runs contend on the same lock.
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

	local, remoteStore, err := retentionStores(ctx, cfg)
	if err != nil {
		return err
	}

	degraded := false
	out := map[string]any{}

	report, err := retention.Apply(ctx, local, cfg.Retention.Tiers, cfg.Retention.Pinned)
	if err != nil {
		return exitErr(exitFailure, "apply local retention: %v", err)
	}
	if len(report.Failures) > 0 {
		degraded = true
	}
	out["local"] = applyJSON(report)

	if remoteStore != nil {
		side := applySide{Deleted: []string{}, Failures: []string{}}
		report, err := retention.Apply(ctx, remoteStore, cfg.Retention.Tiers, cfg.Retention.Pinned)
		if err != nil {
			side.Error = err.Error()
			degraded = true
		} else {
			side = applyJSON(report)
			if len(report.Failures) > 0 {
				degraded = true
			}
		}
		out["remote"] = side
	}

	if err := printJSON(out); err != nil {
		return err
	}
	if degraded {
		return exitErr(exitDegraded, "")
	}
	return nil
}
