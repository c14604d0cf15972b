package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrHeld is returned when a live run already owns the lock.
var ErrHeld = errors.New("another run is already in progress")

// DefaultStaleAfter bounds how long a dead owner can pin the lock when
// pid liveness cannot be decided (pid reused, different host).
const DefaultStaleAfter = 6 * time.Hour

// Record identifies the lock owner so a crashed run can be reclaimed.
type Record struct {
	Pid       int    `yaml:"pid"`
	Hostname  string `yaml:"hostname"`
	StartedAt string `yaml:"started_at"`
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(path string, rec *Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	return true
}

func (r *Record) stale(now time.Time, staleAfter time.Duration) bool {
	started, err := time.Parse(time.RFC3339, r.StartedAt)
	if err != nil {
		return true
	}
	return now.Sub(started) > staleAfter
}

// Acquire takes the run lock at lockPath. A lock owned by a live process on
// this host blocks acquisition with ErrHeld; a lock whose owner is dead, or
// older than staleAfter, is reclaimed. Returns a release function which
// should be called (deferred) when work is done.
func Acquire(lockPath string, staleAfter time.Duration) (func() error, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	existing, err := readRecord(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Pid > 0 {
		hostname, _ := os.Hostname()
		sameHost := existing.Hostname == "" || existing.Hostname == hostname

		switch {
		case sameHost && isProcessAlive(existing.Pid) && !existing.stale(time.Now(), staleAfter):
			return nil, fmt.Errorf("%w: held by pid %d since %s", ErrHeld, existing.Pid, existing.StartedAt)
		case !sameHost && !existing.stale(time.Now(), staleAfter):
			return nil, fmt.Errorf("%w: held by %s pid %d since %s", ErrHeld, existing.Hostname, existing.Pid, existing.StartedAt)
		default:
			slog.Warn("Reclaiming stale run lock", "pid", existing.Pid, "startedAt", existing.StartedAt)
		}
	}

	hostname, _ := os.Hostname()
	rec := &Record{
		Pid:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeRecord(lockPath, rec); err != nil {
		return nil, err
	}

	release := func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}
