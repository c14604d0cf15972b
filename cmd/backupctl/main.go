package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"backupd/internal/config"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDegraded = 3
)

func main() {
	configFlag := &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file",
		Value: config.DefaultPath,
	}

	cmd := &cli.Command{
		Name:    "backupctl",
		Usage:   "Host backup orchestrator",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "get-config",
				Usage: "Print the active configuration",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return getConfig(cmd.String("config"))
				},
			},
			{
				Name:  "set-config",
				Usage: "Replace the configuration with a document read from stdin",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return setConfig(cmd.String("config"))
				},
			},
			{
				Name:  "status",
				Usage: "Report archives, disk usage and schedule",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStatus(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "inventory",
				Usage: "List local and remote archives",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runInventory(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "test-cloud",
				Usage: "Verify remote storage credentials and bucket access",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return testCloud(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "discover-dbs",
				Usage: "List databases visible on the configured engines",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return discoverDBs(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "test-dbs",
				Usage: "Probe connectivity of the configured database engines",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return testDBs(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "backup-now",
				Usage: "Run one full backup and block until it finishes",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return backupNow(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "run-if-due",
				Usage: "Run a backup when a schedule slot is due and unsatisfied",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runIfDue(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "retention-plan",
				Usage: "Compute the survivor and delete sets without touching storage",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return retentionPlan(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "retention-apply",
				Usage: "Delete archives beyond the retention policy",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return retentionApply(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "manage-apply",
				Usage: "Apply a per-archive action plan read from stdin",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return manageApply(ctx, cmd.String("config"))
				},
			},
		},
	}

	// Graceful shutdown between orchestrator stages.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(130)
		}
		if coder, ok := err.(cli.ExitCoder); ok {
			if coder.Error() != "" {
				fmt.Fprintln(os.Stderr, coder.Error())
			}
			os.Exit(coder.ExitCode())
		}
		slog.Error("Command failed", "error", err)
		os.Exit(exitFailure)
	}
}
