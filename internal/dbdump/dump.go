package dbdump

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one schema's dump for the run's lifetime. A failed job is
// recorded with error detail and excluded downstream; it never aborts the
// run.
type Job struct {
	Kind       Kind
	Schema     string
	Container  string // empty for host engines
	OutputPath string
	Status     Status
	Size       int64
	Duration   time.Duration
	Err        error
}

// BuildJobs selects schemas from a discovery and lays out one pending job
// per schema under stagingDir.
func (e *Engine) BuildJobs(d *Discovery, stagingDir string) []*Job {
	var jobs []*Job

	for _, schema := range Select(d.MySQL, e.cfg.IncludeDatabases, e.cfg.ExcludeDatabases) {
		jobs = append(jobs, &Job{
			Kind:       KindMySQL,
			Schema:     schema,
			OutputPath: filepath.Join(stagingDir, "mysql_"+schema+".sql.gz"),
			Status:     StatusPending,
		})
	}

	pgExt := ".dump"
	if e.pgFormat() == "plain" {
		pgExt = ".sql.gz"
	}

	for _, schema := range Select(d.Postgres, e.cfg.IncludeDatabases, e.cfg.ExcludeDatabases) {
		jobs = append(jobs, &Job{
			Kind:       KindPostgres,
			Schema:     schema,
			OutputPath: filepath.Join(stagingDir, "pg_"+schema+pgExt),
			Status:     StatusPending,
		})
	}

	// Container databases carry qualified ids in include/exclude lists.
	for _, cd := range d.Containers {
		if cd.Err != nil {
			continue
		}
		c := cd.Container

		var ids []string
		for _, schema := range cd.Databases {
			ids = append(ids, ContainerDBID(c.Kind, c.Name, schema))
		}

		safe := safeContainerName(c.Name)
		for _, id := range Select(ids, e.cfg.IncludeDatabases, e.cfg.ExcludeDatabases) {
			schema := id[strings.LastIndex(id, "/")+1:]

			var out string
			switch c.Kind {
			case KindMySQL:
				out = "docker_mysql_" + safe + "_" + schema + ".sql.gz"
			case KindPostgres:
				out = "docker_pg_" + safe + "_" + schema + pgExt
			}
			jobs = append(jobs, &Job{
				Kind:       c.Kind,
				Schema:     schema,
				Container:  c.Name,
				OutputPath: filepath.Join(stagingDir, out),
				Status:     StatusPending,
			})
		}
	}

	return jobs
}

func (e *Engine) pgFormat() string {
	if e.cfg.PgFormat == "" {
		return "custom"
	}
	return e.cfg.PgFormat
}

// DumpAll runs every job under a bounded worker pool. Jobs are updated in
// place; a single schema is never split across workers. Returns the number
// of failed jobs.
func (e *Engine) DumpAll(ctx context.Context, jobs []*Job, workers int) int {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	jobChan := make(chan *Job, len(jobs))

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for job := range jobChan {
				if ctx.Err() != nil {
					job.Status = StatusFailed
					job.Err = ctx.Err()

					continue
				}

				e.dumpOne(ctx, job)
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	wg.Wait()

	failed := 0
	for _, job := range jobs {
		if job.Status == StatusFailed {
			failed++
		}
	}
	return failed
}

func (e *Engine) dumpOne(ctx context.Context, job *Job) {
	job.Status = StatusRunning
	start := time.Now()

	slog.Info("Dump started", "engine", job.Kind, "schema", job.Schema)

	var err error
	switch {
	case job.Container != "" && job.Kind == KindMySQL:
		err = e.dumpContainerMySQL(ctx, job)
	case job.Container != "" && job.Kind == KindPostgres:
		err = e.dumpContainerPostgres(ctx, job)
	case job.Kind == KindMySQL:
		err = e.dumpMySQL(ctx, job)
	case job.Kind == KindPostgres:
		err = e.dumpPostgres(ctx, job)
	default:
		err = fmt.Errorf("unknown engine kind %d", job.Kind)
	}

	job.Duration = time.Since(start)

	if err != nil {
		job.Status = StatusFailed
		job.Err = err
		os.Remove(job.OutputPath)
		slog.Error("Dump failed", "engine", job.Kind, "schema", job.Schema, "error", err)

		return
	}

	if info, statErr := os.Stat(job.OutputPath); statErr == nil {
		job.Size = info.Size()
	}
	job.Status = StatusSucceeded
	slog.Info("Dump finished", "engine", job.Kind, "schema", job.Schema, "bytes", job.Size, "duration", job.Duration)
}

// dumpMySQL produces a consistent snapshot of one schema and gzips it.
// --single-transaction keeps the dump point-in-time without locking.
func (e *Engine) dumpMySQL(ctx context.Context, job *Job) error {
	tool, err := e.mysqlDumpTool()
	if err != nil {
		return fmt.Errorf("no mysql dump tool available: %w", err)
	}

	connArgs, env := e.mysqlConnArgs()
	args := append(connArgs,
		"--single-transaction",
		"--routines",
		"--events",
		"--triggers",
		"--databases", job.Schema,
	)

	plain := trimGzExt(job.OutputPath)
	if err := e.run.RunToFile(ctx, env, plain, tool, args...); err != nil {
		os.Remove(plain)
		return err
	}
	return gzipFile(plain, job.OutputPath)
}

func (e *Engine) dumpPostgres(ctx context.Context, job *Job) error {
	if e.pgFormat() == "custom" {
		// pg_dump custom format is already compressed.
		return e.run.RunToFile(ctx, nil, job.OutputPath,
			"runuser", "-u", "postgres", "--",
			"pg_dump", "-Fc", job.Schema)
	}

	plain := trimGzExt(job.OutputPath)
	err := e.run.RunToFile(ctx, nil, plain,
		"runuser", "-u", "postgres", "--",
		"pg_dump", job.Schema)
	if err != nil {
		os.Remove(plain)
		return err
	}
	return gzipFile(plain, job.OutputPath)
}

func trimGzExt(path string) string {
	if filepath.Ext(path) == ".gz" {
		return path[:len(path)-len(".gz")]
	}
	return path
}

// gzipFile compresses src into dst and removes src on success.
func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()

	return os.Remove(src)
}
