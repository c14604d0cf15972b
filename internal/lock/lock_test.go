package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAcquireAndRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	release, err := Acquire(lockPath, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, yaml.Unmarshal(data, &rec))
	assert.Equal(t, os.Getpid(), rec.Pid)
	assert.NotEmpty(t, rec.Hostname)
	assert.NotEmpty(t, rec.StartedAt)

	require.NoError(t, release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireBlockedByLivePid(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	release, err := Acquire(lockPath, 0)
	require.NoError(t, err)
	defer release()

	_, err = Acquire(lockPath, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireReclaimsDeadPid(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	hostname, _ := os.Hostname()
	stale := &Record{
		Pid:       999999999,
		Hostname:  hostname,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	require.NoError(t, writeRecord(lockPath, stale))

	release, err := Acquire(lockPath, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, yaml.Unmarshal(data, &rec))
	assert.Equal(t, os.Getpid(), rec.Pid)

	require.NoError(t, release())
}

func TestAcquireReclaimsTimedOutLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	// Live pid, but started far beyond the staleness window.
	old := &Record{
		Pid:       os.Getpid(),
		Hostname:  "elsewhere",
		StartedAt: time.Now().Add(-48 * time.Hour).Format(time.RFC3339),
	}
	require.NoError(t, writeRecord(lockPath, old))

	release, err := Acquire(lockPath, time.Hour)
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestAcquireBlockedByOtherHost(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	other := &Record{
		Pid:       1,
		Hostname:  "some-other-host",
		StartedAt: time.Now().Format(time.RFC3339),
	}
	require.NoError(t, writeRecord(lockPath, other))

	_, err := Acquire(lockPath, time.Hour)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireReclaimsUnparsableTimestamp(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	bad := &Record{Pid: 999999999, StartedAt: "not-a-time"}
	require.NoError(t, writeRecord(lockPath, bad))

	release, err := Acquire(lockPath, time.Hour)
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestReleaseIdempotent(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")

	release, err := Acquire(lockPath, 0)
	require.NoError(t, err)

	require.NoError(t, release())
	require.NoError(t, release())
}
