package dbdump

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"backupd/internal/config"
)

// Kind is the closed set of supported database engines.
type Kind int

const (
	KindMySQL Kind = iota
	KindPostgres
)

func (k Kind) String() string {
	switch k {
	case KindMySQL:
		return "mysql"
	case KindPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// System schemas are never dumped.
var mysqlSystemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"sys":                true,
	"mysql":              true,
}

var postgresSystemSchemas = map[string]bool{
	"template0": true,
	"template1": true,
	"postgres":  true,
}

// commandRunner abstracts external tool invocation so tests can stub it.
type commandRunner interface {
	Output(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
	RunToFile(ctx context.Context, env []string, outPath, name string, args ...string) error
	LookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
	}
	return out, nil
}

func (execRunner) RunToFile(ctx context.Context, env []string, outPath, name string, args ...string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = out

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
	}
	return out.Close()
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Engine drives discovery and dumps for the configured database servers.
type Engine struct {
	cfg config.DatabaseConfig
	run commandRunner
}

func New(cfg config.DatabaseConfig) *Engine {
	return &Engine{cfg: cfg, run: execRunner{}}
}

// mysqlClient prefers the mariadb tools and falls back to the mysql names.
func (e *Engine) mysqlClient() (string, error) {
	if path, err := e.run.LookPath("mariadb"); err == nil {
		return path, nil
	}
	return e.run.LookPath("mysql")
}

func (e *Engine) mysqlDumpTool() (string, error) {
	if path, err := e.run.LookPath("mariadb-dump"); err == nil {
		return path, nil
	}
	return e.run.LookPath("mysqldump")
}

// mysqlConnArgs builds connection flags from config; the password travels
// via MYSQL_PWD, never argv.
func (e *Engine) mysqlConnArgs() ([]string, []string) {
	var args []string
	var env []string

	m := e.cfg.MySQL
	if m.Host != "" {
		args = append(args, "--host="+m.Host)
	}
	if m.Port > 0 {
		args = append(args, fmt.Sprintf("--port=%d", m.Port))
	}
	if m.User != "" {
		args = append(args, "--user="+m.User)
	}
	if m.Password != "" {
		env = append(env, "MYSQL_PWD="+m.Password)
	}
	return args, env
}
