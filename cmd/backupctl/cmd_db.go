package main

import (
	"context"

	"backupd/internal/dbdump"
)

type engineListing struct {
	Enabled   bool     `json:"enabled"`
	Databases []string `json:"databases,omitempty"`
	Selected  []string `json:"selected,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type containerListing struct {
	Name      string   `json:"name"`
	Image     string   `json:"image"`
	Engine    string   `json:"engine"`
	Databases []string `json:"databases,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type dockerListing struct {
	Enabled    bool               `json:"enabled"`
	Containers []containerListing `json:"containers,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func discoverDBs(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	engine := dbdump.New(cfg.Database)
	disc := engine.Discover(ctx)

	mysql := engineListing{Enabled: cfg.Database.MySQL.Enabled}
	if mysql.Enabled {
		mysql.Databases = disc.MySQL
		mysql.Selected = dbdump.Select(disc.MySQL,
			cfg.Database.IncludeDatabases, cfg.Database.ExcludeDatabases)
		if disc.MySQLErr != nil {
			mysql.Error = disc.MySQLErr.Error()
		}
	}

	postgres := engineListing{Enabled: cfg.Database.Postgres.Enabled}
	if postgres.Enabled {
		postgres.Databases = disc.Postgres
		postgres.Selected = dbdump.Select(disc.Postgres,
			cfg.Database.IncludeDatabases, cfg.Database.ExcludeDatabases)
		if disc.PostgresErr != nil {
			postgres.Error = disc.PostgresErr.Error()
		}
	}

	docker := dockerListing{Enabled: cfg.Database.Docker.Enabled}
	if docker.Enabled {
		if disc.DockerErr != nil {
			docker.Error = disc.DockerErr.Error()
		}
		for _, cd := range disc.Containers {
			cl := containerListing{
				Name:      cd.Container.Name,
				Image:     cd.Container.Image,
				Engine:    cd.Container.Kind.String(),
				Databases: cd.Databases,
			}
			if cd.Err != nil {
				cl.Error = cd.Err.Error()
			}
			docker.Containers = append(docker.Containers, cl)
		}
	}

	if err := printJSON(map[string]any{
		"mysql":    mysql,
		"postgres": postgres,
		"docker":   docker,
		"degraded": disc.Degraded(),
	}); err != nil {
		return err
	}
	if disc.Degraded() {
		return exitErr(exitDegraded, "")
	}
	return nil
}

type connReport struct {
	Enabled bool   `json:"enabled"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func connJSON(s dbdump.ConnState) connReport {
	r := connReport{Enabled: s.Enabled, OK: s.OK}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	return r
}

func testDBs(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	engine := dbdump.New(cfg.Database)
	result := engine.TestConnections(ctx)

	if err := printJSON(map[string]any{
		"mysql":    connJSON(result.MySQL),
		"postgres": connJSON(result.Postgres),
		"ok":       result.AllOK(),
	}); err != nil {
		return err
	}
	if !result.AllOK() {
		return exitErr(exitFailure, "")
	}
	return nil
}
