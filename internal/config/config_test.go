package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Hostname = "web01"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		require.NoError(t, Default().Validate())
	})

	t.Run("empty backup_dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.BackupDir = ""
		assert.ErrorContains(t, cfg.Validate(), "backup_dir")
	})

	t.Run("empty state_dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateDir = ""
		assert.ErrorContains(t, cfg.Validate(), "state_dir")
	})

	t.Run("unknown target mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Target.Mode = "everything"
		assert.ErrorContains(t, cfg.Validate(), "target.mode")
	})

	t.Run("curated without include paths", func(t *testing.T) {
		cfg := validConfig()
		cfg.Target.IncludePaths = nil
		assert.ErrorContains(t, cfg.Validate(), "target.include_paths")
	})

	t.Run("mirror without directory", func(t *testing.T) {
		cfg := validConfig()
		cfg.Target.Mode = "mirror"
		cfg.Target.MirrorDir = ""
		assert.ErrorContains(t, cfg.Validate(), "target.mirror_dir")
	})

	t.Run("s3 enabled without bucket", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Enabled = true
		cfg.S3.Region = "us-east-1"
		assert.ErrorContains(t, cfg.Validate(), "s3.bucket")
	})

	t.Run("s3 enabled without region", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Enabled = true
		cfg.S3.Bucket = "my-bucket"
		assert.ErrorContains(t, cfg.Validate(), "s3.region")
	})

	t.Run("no retention tiers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.Tiers = nil
		assert.ErrorContains(t, cfg.Validate(), "retention.tiers")
	})

	t.Run("all tiers retain zero", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.Tiers = []RetentionTier{
			{Name: "daily", Retain: 0, Bucket: "daily"},
			{Name: "weekly", Retain: 0, Bucket: "weekly"},
		}
		assert.ErrorContains(t, cfg.Validate(), "nothing would ever survive")
	})

	t.Run("unknown bucket rule", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.Tiers = []RetentionTier{
			{Name: "odd", Retain: 1, Bucket: "fortnightly"},
		}
		assert.ErrorContains(t, cfg.Validate(), "bucket")
	})

	t.Run("duplicate tier names", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.Tiers = []RetentionTier{
			{Name: "daily", Retain: 1, Bucket: "daily"},
			{Name: "daily", Retain: 2, Bucket: "weekly"},
		}
		assert.ErrorContains(t, cfg.Validate(), "duplicate tier name")
	})

	t.Run("bad schedule time", func(t *testing.T) {
		cfg := validConfig()
		cfg.Schedule.Times = []string{"25:00"}
		assert.ErrorContains(t, cfg.Validate(), "HH:MM")
	})

	t.Run("bad dump cadence", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Cadence = "sometimes"
		assert.ErrorContains(t, cfg.Validate(), "database.cadence")
	})

	t.Run("validation error carries field", func(t *testing.T) {
		cfg := validConfig()
		cfg.Target.Mode = "bogus"
		var verr *ValidationError
		require.ErrorAs(t, cfg.Validate(), &verr)
		assert.Equal(t, "target.mode", verr.Field)
	})
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("backup_dir: /srv/backups\n"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/backups", cfg.BackupDir)
	assert.Equal(t, "curated", cfg.Target.Mode)
	assert.Equal(t, 4, cfg.DumpWorkers())
	assert.Equal(t, 3, cfg.S3RetryAttempts())
	assert.Equal(t, 1, cfg.RetentionEveryRuns())
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("target:\n  mode: mirror\n"))
	assert.ErrorContains(t, err, "target.mirror_dir")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := validConfig()
	cfg.S3.Enabled = true
	cfg.S3.Bucket = "backups"
	cfg.S3.Region = "eu-central-1"
	cfg.S3.Prefix = "hosts"
	cfg.Retention.Pinned = []string{"web01_20250101_000000.tar.gz"}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Hostname, loaded.Hostname)
	assert.Equal(t, cfg.S3.Bucket, loaded.S3.Bucket)
	assert.Equal(t, cfg.Retention.Pinned, loaded.Retention.Pinned)
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := validConfig()
	cfg.BackupDir = ""
	assert.Error(t, Save(path, cfg))
}

func TestHostFallback(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "web01", cfg.Host())

	cfg.Hostname = ""
	assert.NotEmpty(t, cfg.Host())
}
