package archive

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest records what went into an archive. It is written beside the
// archive file and is byte-reproducible for identical inputs.
type Manifest struct {
	Archive    string   `yaml:"archive"`
	CreatedAt  string   `yaml:"created_at"`
	Host       string   `yaml:"host"`
	FileCount  int      `yaml:"file_count"`
	TotalBytes int64    `yaml:"total_bytes"`
	Blake3     string   `yaml:"blake3"`
	Paths      []string `yaml:"paths"`
}

func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
