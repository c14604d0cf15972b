package main

import (
	"context"

	"backupd/internal/config"
	"backupd/internal/remote"
)

// buildBackend constructs the remote backend, or returns nil when uploads
// are disabled.
func buildBackend(ctx context.Context, cfg *config.Config) (remote.Backend, error) {
	if !cfg.S3.Enabled {
		return nil, nil
	}
	return remote.NewS3(ctx, cfg.S3, cfg.Host())
}

func testCloud(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.S3.Enabled {
		return exitErr(exitUsage, "remote storage is disabled in configuration")
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return exitErr(exitFailure, "initialize remote storage: %v", err)
	}

	result := map[string]any{
		"bucket": cfg.S3.Bucket,
		"region": cfg.S3.Region,
		"ok":     true,
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		result["ok"] = false
		result["error"] = err.Error()
		if perr := printJSON(result); perr != nil {
			return perr
		}
		return exitErr(exitFailure, "")
	}
	return printJSON(result)
}
