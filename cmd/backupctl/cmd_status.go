package main

import (
	"context"
	"time"

	"backupd/internal/state"
	"backupd/internal/status"
)

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := state.Load(cfg.StateDir)
	if err != nil {
		return exitErr(exitFailure, "load state: %v", err)
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return exitErr(exitFailure, "initialize remote storage: %v", err)
	}

	report := status.Build(ctx, cfg, st, backend, time.Now())
	return printJSON(report)
}

func runInventory(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := state.Load(cfg.StateDir)
	if err != nil {
		return exitErr(exitFailure, "load state: %v", err)
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return exitErr(exitFailure, "initialize remote storage: %v", err)
	}

	inv, err := status.BuildInventory(ctx, cfg, st, backend)
	if err != nil {
		return exitErr(exitFailure, "build inventory: %v", err)
	}
	return printJSON(inv)
}
