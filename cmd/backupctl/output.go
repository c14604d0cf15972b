package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"backupd/internal/config"
	"backupd/internal/logging"
)

// printJSON writes a single indented JSON document to stdout. All command
// output goes through here; logs stay on stderr and the log file.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitErr(code int, format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), code)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitErr(exitUsage, "load config %s: %v", path, err)
	}
	return cfg, nil
}

// setupLogging routes structured logs to a dated file under the state
// directory and warnings to stderr, leaving stdout for command output.
// The returned func closes the log file.
func setupLogging(cfg *config.Config, consoleLevel slog.Level) func() {
	logFile := filepath.Join(cfg.StateDir, "logs",
		fmt.Sprintf("backupd_%s.log", time.Now().Format("2006-01-02")))
	logger, file, err := logging.NewLogger(logFile, consoleLevel)
	if err != nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: consoleLevel}))
		logger.Warn("Falling back to stderr-only logging", "error", err)
		slog.SetDefault(logger)
		return func() {}
	}
	slog.SetDefault(logger)
	return func() { file.Close() }
}
