package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/backupd/config.yaml"

// ValidationError reports a single invalid or missing setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

type TargetConfig struct {
	Mode         string   `yaml:"mode"` // curated or mirror
	IncludePaths []string `yaml:"include_paths,omitempty"`
	ExcludeGlobs []string `yaml:"exclude_globs,omitempty"`
	MirrorDir    string   `yaml:"mirror_dir,omitempty"`
}

type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type PostgresConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DockerConfig enables dumping databases that live inside running docker
// containers rather than on the host.
type DockerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	MySQL            MySQLConfig    `yaml:"mysql"`
	Postgres         PostgresConfig `yaml:"postgres"`
	Docker           DockerConfig   `yaml:"docker"`
	IncludeDatabases []string       `yaml:"include_databases,omitempty"`
	ExcludeDatabases []string       `yaml:"exclude_databases,omitempty"`
	DumpWorkers      int            `yaml:"dump_workers,omitempty"`
	PgFormat         string         `yaml:"pg_format,omitempty"` // custom or plain
	Cadence          string         `yaml:"cadence,omitempty"`   // every_backup, daily or hybrid
	DumpTimes        []string       `yaml:"dump_times,omitempty"`
}

type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	StorageClass string `yaml:"storage_class,omitempty"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

type RetentionTier struct {
	Name   string `yaml:"name"`
	Retain int    `yaml:"retain"`
	Bucket string `yaml:"bucket"` // hourly, daily, weekly, monthly or yearly
}

type RetentionConfig struct {
	EveryRuns int             `yaml:"every_runs,omitempty"`
	Tiers     []RetentionTier `yaml:"tiers"`
	Pinned    []string        `yaml:"pinned,omitempty"`
}

type ScheduleConfig struct {
	Times            []string `yaml:"times,omitempty"` // HH:MM, host local time
	ToleranceMinutes int      `yaml:"tolerance_minutes,omitempty"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
	ChatID   string `yaml:"chat_id,omitempty"`
}

type Config struct {
	Hostname   string          `yaml:"hostname,omitempty"`
	BackupDir  string          `yaml:"backup_dir"`
	StagingDir string          `yaml:"staging_dir"`
	StateDir   string          `yaml:"state_dir"`
	Target     TargetConfig    `yaml:"target"`
	Database   DatabaseConfig  `yaml:"database"`
	S3         S3Config        `yaml:"s3"`
	Retention  RetentionConfig `yaml:"retention"`
	Schedule   ScheduleConfig  `yaml:"schedule"`
	Telegram   TelegramConfig  `yaml:"telegram,omitempty"`
}

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var validBuckets = map[string]bool{
	"hourly":  true,
	"daily":   true,
	"weekly":  true,
	"monthly": true,
	"yearly":  true,
}

func Default() *Config {
	cfg := &Config{
		BackupDir:  "/var/backups/backupd",
		StagingDir: "/var/backups/backupd/.staging",
		StateDir:   "/var/lib/backupd",
		Target: TargetConfig{
			Mode:         "curated",
			IncludePaths: []string{"/etc", "/home", "/root"},
		},
		Database: DatabaseConfig{
			DumpWorkers: 4,
			PgFormat:    "custom",
			Cadence:     "every_backup",
		},
		Retention: RetentionConfig{
			EveryRuns: 1,
			Tiers: []RetentionTier{
				{Name: "daily", Retain: 7, Bucket: "daily"},
				{Name: "weekly", Retain: 4, Bucket: "weekly"},
				{Name: "monthly", Retain: 6, Bucket: "monthly"},
			},
		},
		Schedule: ScheduleConfig{
			ToleranceMinutes: 15,
		},
	}
	return cfg
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config parse failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config atomically via a temp file in the same directory.
func Save(filename string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func (c *Config) Validate() error {
	if c.BackupDir == "" {
		return &ValidationError{Field: "backup_dir", Reason: "is required"}
	}
	if c.StagingDir == "" {
		return &ValidationError{Field: "staging_dir", Reason: "is required"}
	}
	if c.StateDir == "" {
		return &ValidationError{Field: "state_dir", Reason: "is required"}
	}

	switch c.Target.Mode {
	case "curated":
		if len(c.Target.IncludePaths) == 0 {
			return &ValidationError{Field: "target.include_paths", Reason: "curated mode requires at least one include path"}
		}
	case "mirror":
		if c.Target.MirrorDir == "" {
			return &ValidationError{Field: "target.mirror_dir", Reason: "mirror mode requires a directory"}
		}
	default:
		return &ValidationError{Field: "target.mode", Reason: "must be curated or mirror"}
	}

	if c.Database.DumpWorkers < 0 {
		return &ValidationError{Field: "database.dump_workers", Reason: "must be non-negative"}
	}
	switch c.Database.PgFormat {
	case "", "custom", "plain":
	default:
		return &ValidationError{Field: "database.pg_format", Reason: "must be custom or plain"}
	}
	switch c.Database.Cadence {
	case "", "every_backup", "daily", "hybrid":
	default:
		return &ValidationError{Field: "database.cadence", Reason: "must be every_backup, daily or hybrid"}
	}
	for i, t := range c.Database.DumpTimes {
		if !timeOfDayRe.MatchString(t) {
			return &ValidationError{Field: fmt.Sprintf("database.dump_times[%d]", i), Reason: "must be HH:MM"}
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return &ValidationError{Field: "s3.bucket", Reason: "is required when s3 is enabled"}
		}
		if c.S3.Region == "" {
			return &ValidationError{Field: "s3.region", Reason: "is required when s3 is enabled"}
		}
	}

	if len(c.Retention.Tiers) == 0 {
		return &ValidationError{Field: "retention.tiers", Reason: "at least one tier is required"}
	}
	anyRetain := false
	seen := map[string]bool{}
	for i, tier := range c.Retention.Tiers {
		if tier.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("retention.tiers[%d].name", i), Reason: "is required"}
		}
		if seen[tier.Name] {
			return &ValidationError{Field: fmt.Sprintf("retention.tiers[%d].name", i), Reason: "duplicate tier name " + tier.Name}
		}
		seen[tier.Name] = true
		if tier.Retain < 0 {
			return &ValidationError{Field: fmt.Sprintf("retention.tiers[%d].retain", i), Reason: "must be non-negative"}
		}
		if tier.Retain > 0 {
			anyRetain = true
		}
		if !validBuckets[tier.Bucket] {
			return &ValidationError{Field: fmt.Sprintf("retention.tiers[%d].bucket", i), Reason: "must be hourly, daily, weekly, monthly or yearly"}
		}
	}
	if !anyRetain {
		return &ValidationError{Field: "retention.tiers", Reason: "every tier has retain 0, nothing would ever survive"}
	}
	if c.Retention.EveryRuns < 0 {
		return &ValidationError{Field: "retention.every_runs", Reason: "must be non-negative"}
	}

	for i, t := range c.Schedule.Times {
		if !timeOfDayRe.MatchString(t) {
			return &ValidationError{Field: fmt.Sprintf("schedule.times[%d]", i), Reason: "must be HH:MM"}
		}
	}
	if c.Schedule.ToleranceMinutes < 0 {
		return &ValidationError{Field: "schedule.tolerance_minutes", Reason: "must be non-negative"}
	}

	return nil
}

// Host returns the configured hostname or falls back to the OS hostname.
func (c *Config) Host() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}

func (c *Config) DumpWorkers() int {
	if c.Database.DumpWorkers > 0 {
		return c.Database.DumpWorkers
	}
	return 4
}

func (c *Config) RetentionEveryRuns() int {
	if c.Retention.EveryRuns > 0 {
		return c.Retention.EveryRuns
	}
	return 1
}
