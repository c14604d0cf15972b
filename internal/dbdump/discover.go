package dbdump

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Discovery is the live schema set found on each engine for one run.
// A failure on one engine does not hide the others' results.
type Discovery struct {
	MySQL       []string
	Postgres    []string
	Containers  []ContainerDiscovery
	MySQLErr    error
	PostgresErr error
	DockerErr   error
}

// Degraded reports whether any enabled engine or container failed
// discovery.
func (d *Discovery) Degraded() bool {
	if d.MySQLErr != nil || d.PostgresErr != nil || d.DockerErr != nil {
		return true
	}
	for _, cd := range d.Containers {
		if cd.Err != nil {
			return true
		}
	}
	return false
}

// Discover lists databases on every enabled engine, dropping system
// schemas. The set is queried fresh each run, never cached.
func (e *Engine) Discover(ctx context.Context) *Discovery {
	d := &Discovery{}

	if e.cfg.MySQL.Enabled {
		d.MySQL, d.MySQLErr = e.discoverMySQL(ctx)
		if d.MySQLErr != nil {
			slog.Warn("MySQL discovery failed", "error", d.MySQLErr)
		}
	}

	if e.cfg.Postgres.Enabled {
		d.Postgres, d.PostgresErr = e.discoverPostgres(ctx)
		if d.PostgresErr != nil {
			slog.Warn("PostgreSQL discovery failed", "error", d.PostgresErr)
		}
	}

	if e.cfg.Docker.Enabled {
		d.Containers, d.DockerErr = e.discoverContainers(ctx)
		if d.DockerErr != nil {
			slog.Warn("Docker discovery failed", "error", d.DockerErr)
		}
	}

	return d
}

func (e *Engine) discoverMySQL(ctx context.Context) ([]string, error) {
	client, err := e.mysqlClient()
	if err != nil {
		return nil, fmt.Errorf("no mysql client available: %w", err)
	}

	connArgs, env := e.mysqlConnArgs()
	args := append(connArgs, "-Nse", "SHOW DATABASES;")

	out, err := e.run.Output(ctx, env, client, args...)
	if err != nil {
		return nil, err
	}
	return filterSchemas(out, mysqlSystemSchemas), nil
}

func (e *Engine) discoverPostgres(ctx context.Context) ([]string, error) {
	out, err := e.run.Output(ctx, nil,
		"runuser", "-u", "postgres", "--",
		"psql", "-Atc", "SELECT datname FROM pg_database WHERE datistemplate = false;")
	if err != nil {
		return nil, err
	}
	return filterSchemas(out, postgresSystemSchemas), nil
}

func filterSchemas(out []byte, system map[string]bool) []string {
	var schemas []string
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" || system[name] {
			continue
		}
		schemas = append(schemas, name)
	}
	sort.Strings(schemas)
	return schemas
}

// Select applies the configured include/exclude lists to a discovered set.
// A non-empty include list wins outright; otherwise everything minus the
// exclude list survives.
func Select(discovered, include, exclude []string) []string {
	if len(include) > 0 {
		wanted := make(map[string]bool, len(include))
		for _, name := range include {
			wanted[name] = true
		}
		var out []string
		for _, name := range discovered {
			if wanted[name] {
				out = append(out, name)
			}
		}
		return out
	}

	banned := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		banned[name] = true
	}
	var out []string
	for _, name := range discovered {
		if !banned[name] {
			out = append(out, name)
		}
	}
	return out
}
