package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	indexFile = "index.yaml"

	// Old runs and schedule marks age out of the index.
	maxRuns    = 200
	markMaxAge = 10 * 24 * time.Hour
)

// JobRecord is the durable outcome of one dump job.
type JobRecord struct {
	Engine   string `yaml:"engine"`
	Schema   string `yaml:"schema"`
	Status   string `yaml:"status"`
	Bytes    int64  `yaml:"bytes,omitempty"`
	Duration string `yaml:"duration,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// RunRecord is one run's terminal metadata, durable across restarts so
// status and inventory reflect history rather than process memory.
type RunRecord struct {
	StartedAt              string      `yaml:"started_at"`
	FinishedAt             string      `yaml:"finished_at"`
	Status                 string      `yaml:"status"`
	Origin                 string      `yaml:"origin"` // manual or scheduled
	Archive                string      `yaml:"archive,omitempty"`
	ArchiveBytes           int64       `yaml:"archive_bytes,omitempty"`
	Blake3                 string      `yaml:"blake3,omitempty"`
	Upload                 string      `yaml:"upload,omitempty"` // uploaded, skipped, failed or disabled
	DumpJobs               []JobRecord `yaml:"dump_jobs,omitempty"`
	RetentionDeletedLocal  int         `yaml:"retention_deleted_local,omitempty"`
	RetentionDeletedRemote int         `yaml:"retention_deleted_remote,omitempty"`
	Error                  string      `yaml:"error,omitempty"`
}

// Mark dedups scheduled triggers: one mark per satisfied schedule slot.
type Mark struct {
	Key string `yaml:"key"` // YYYY-MM-DD@HH:MM
	At  string `yaml:"at"`
}

type State struct {
	RunCount int         `yaml:"run_count"`
	Runs     []RunRecord `yaml:"runs,omitempty"`
	Marks    []Mark      `yaml:"marks,omitempty"`
}

func indexPath(dir string) string {
	return filepath.Join(dir, indexFile)
}

// Load reads the index from stateDir; a missing file is an empty state.
func Load(stateDir string) (*State, error) {
	data, err := os.ReadFile(indexPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state index corrupt: %w", err)
	}
	return &st, nil
}

// Save writes the index atomically.
func Save(stateDir string, st *State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	path := indexPath(stateDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendRun records a finished run and bumps the run counter.
func (s *State) AppendRun(rec RunRecord) {
	s.RunCount++
	s.Runs = append(s.Runs, rec)
	if len(s.Runs) > maxRuns {
		s.Runs = s.Runs[len(s.Runs)-maxRuns:]
	}
}

// LastRun returns the most recent run record, or nil.
func (s *State) LastRun() *RunRecord {
	if len(s.Runs) == 0 {
		return nil
	}
	return &s.Runs[len(s.Runs)-1]
}

// MarkKey identifies one schedule slot on one day.
func MarkKey(day time.Time, slot string) string {
	return day.Format("2006-01-02") + "@" + slot
}

func (s *State) HasMark(key string) bool {
	for _, m := range s.Marks {
		if m.Key == key {
			return true
		}
	}
	return false
}

func (s *State) AddMark(key string, now time.Time) {
	if s.HasMark(key) {
		return
	}
	s.Marks = append(s.Marks, Mark{Key: key, At: now.Format(time.RFC3339)})
}

// PruneMarks drops marks older than the retention horizon.
func (s *State) PruneMarks(now time.Time) {
	var kept []Mark
	for _, m := range s.Marks {
		at, err := time.Parse(time.RFC3339, m.At)
		if err == nil && now.Sub(at) <= markMaxAge {
			kept = append(kept, m)
		}
	}
	s.Marks = kept
}

// ArchiveOrigin looks up how a given archive came to exist.
func (s *State) ArchiveOrigin(name string) string {
	for i := len(s.Runs) - 1; i >= 0; i-- {
		if s.Runs[i].Archive == name {
			return s.Runs[i].Origin
		}
	}
	return ""
}
