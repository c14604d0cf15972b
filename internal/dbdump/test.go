package dbdump

import (
	"context"
	"fmt"
	"strings"
)

// ConnState is the outcome of a connectivity probe for one engine.
type ConnState struct {
	Enabled bool
	OK      bool
	Err     error
}

// TestResult aggregates per-engine connectivity probes.
type TestResult struct {
	MySQL    ConnState
	Postgres ConnState
}

func (r *TestResult) AllOK() bool {
	for _, s := range []ConnState{r.MySQL, r.Postgres} {
		if s.Enabled && !s.OK {
			return false
		}
	}
	return true
}

// TestConnections runs SELECT 1 against every enabled engine.
func (e *Engine) TestConnections(ctx context.Context) *TestResult {
	res := &TestResult{}

	if e.cfg.MySQL.Enabled {
		res.MySQL.Enabled = true
		res.MySQL.Err = e.testMySQL(ctx)
		res.MySQL.OK = res.MySQL.Err == nil
	}

	if e.cfg.Postgres.Enabled {
		res.Postgres.Enabled = true
		res.Postgres.Err = e.testPostgres(ctx)
		res.Postgres.OK = res.Postgres.Err == nil
	}

	return res
}

func (e *Engine) testMySQL(ctx context.Context) error {
	client, err := e.mysqlClient()
	if err != nil {
		return fmt.Errorf("no mysql client available: %w", err)
	}

	connArgs, env := e.mysqlConnArgs()
	args := append(connArgs, "-Nse", "SELECT 1;")

	out, err := e.run.Output(ctx, env, client, args...)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) != "1" {
		return fmt.Errorf("unexpected probe result: %q", strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *Engine) testPostgres(ctx context.Context) error {
	out, err := e.run.Output(ctx, nil,
		"runuser", "-u", "postgres", "--",
		"psql", "-Atc", "SELECT 1;")
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) != "1" {
		return fmt.Errorf("unexpected probe result: %q", strings.TrimSpace(string(out)))
	}
	return nil
}
