package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"backupd/internal/checksum"
)

// ErrNoInputs is returned when a build is attempted with zero eligible files.
// An empty backup is refused, not silently produced.
var ErrNoInputs = errors.New("no eligible files to archive")

const nameStamp = "20060102_150405"

var nameRe = regexp.MustCompile(`_(\d{8}_\d{6})\.tar\.gz$`)

// Archive is one run's finished compressed output.
type Archive struct {
	Path      string
	Name      string
	Size      int64
	Blake3    string
	CreatedAt time.Time
	Manifest  Manifest
}

// Name returns the archive filename for a host at a point in time.
func Name(host string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", host, ts.Format(nameStamp))
}

// ParseStamp extracts the creation timestamp embedded in an archive name.
func ParseStamp(name string) (time.Time, bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(nameStamp, m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Build packages the given files into one tar.gz under destDir. Entries are
// written in sorted path order so identical inputs yield an identical
// manifest and a stable checksum. Symlinks are stored as links, not
// followed.
func Build(ctx context.Context, inputs []string, destDir, host string, now time.Time) (*Archive, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	sorted := make([]string, len(inputs))
	copy(sorted, inputs)
	sort.Strings(sorted)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := Name(host, now)
	path := filepath.Join(destDir, name)
	tmp := path + ".partial"

	written, totalBytes, err := writeTarball(ctx, tmp, sorted)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if len(written) == 0 {
		os.Remove(tmp)
		return nil, ErrNoInputs
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	sum, err := checksum.BLAKE3File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum archive: %w", err)
	}

	arc := &Archive{
		Path:      path,
		Name:      name,
		Size:      info.Size(),
		Blake3:    sum,
		CreatedAt: now,
		Manifest: Manifest{
			Archive:    name,
			CreatedAt:  now.Format(time.RFC3339),
			Host:       host,
			FileCount:  len(written),
			TotalBytes: totalBytes,
			Blake3:     sum,
			Paths:      written,
		},
	}

	manifestPath := path + ".manifest.yaml"
	if err := WriteManifest(manifestPath, &arc.Manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	slog.Info("Archive built", "path", path, "files", len(written), "bytes", arc.Size)
	return arc, nil
}

func writeTarball(ctx context.Context, path string, inputs []string) ([]string, int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var written []string
	var totalBytes int64

	for _, p := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("archive cancelled: %w", err)
		}

		n, err := addEntry(tw, p)
		if err != nil {
			slog.Warn("Skipping unreadable file", "path", p, "error", err)
			continue
		}
		written = append(written, p)
		totalBytes += n
	}

	if err := tw.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close gzip stream: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close archive file: %w", err)
	}
	return written, totalBytes, nil
}

func addEntry(tw *tar.Writer, path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return 0, err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return 0, err
	}
	hdr.Name = strings.TrimPrefix(filepath.ToSlash(path), "/")

	if !info.Mode().IsRegular() {
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, err
		}
		return 0, nil
	}

	// Open before writing the header so an unreadable file never leaves a
	// header without its body in the stream.
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	n, err := io.Copy(tw, f)
	if err != nil {
		return n, err
	}
	return n, nil
}
