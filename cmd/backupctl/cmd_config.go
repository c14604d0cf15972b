package main

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"backupd/internal/config"
)

func getConfig(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	// Round-trip through yaml so the printed JSON carries the same
	// snake_case keys as the file on disk.
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return printJSON(doc)
}

func setConfig(path string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return exitErr(exitFailure, "read stdin: %v", err)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return exitErr(exitUsage, "invalid configuration: %v", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return exitErr(exitFailure, "save config %s: %v", path, err)
	}

	return printJSON(map[string]any{
		"saved":    true,
		"path":     path,
		"hostname": cfg.Host(),
	})
}
