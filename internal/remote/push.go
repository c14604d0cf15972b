package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"backupd/internal/checksum"
)

// Outcome is the terminal state of one archive transfer.
type Outcome string

const (
	OutcomeUploaded Outcome = "uploaded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Push uploads an archive idempotently: an existing remote object with a
// matching checksum is left alone and reported as skipped. Payload
// integrity in transit is the SDK's per-request checksums; the Head after
// a fresh upload confirms the object landed with the local file's size and
// carries the checksum metadata that later idempotent skips key on.
func Push(ctx context.Context, b Backend, localPath, name, sum string) (Outcome, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return OutcomeFailed, err
	}

	existing, err := b.Head(ctx, name)
	if err == nil && existing.Blake3 == sum {
		slog.Info("Remote object already current, skipping upload", "name", name)
		return OutcomeSkipped, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("Head before upload failed, uploading anyway", "name", name, "error", err)
	}

	if err := b.Upload(ctx, localPath, name, sum); err != nil {
		return OutcomeFailed, err
	}

	uploaded, err := b.Head(ctx, name)
	if err != nil {
		return OutcomeFailed, &UploadError{Key: name, Transient: transient(err), Err: err}
	}
	if uploaded.Size != local.Size() {
		return OutcomeFailed, &UploadError{Key: name, Transient: false,
			Err: fmt.Errorf("size mismatch after upload: remote %d != local %d", uploaded.Size, local.Size())}
	}
	if uploaded.Blake3 != sum {
		return OutcomeFailed, &UploadError{Key: name, Transient: false,
			Err: errors.New("checksum metadata missing after upload: remote " + uploaded.Blake3 + " != local " + sum)}
	}

	return OutcomeUploaded, nil
}

// PushFile is Push with the checksum computed from the local file.
func PushFile(ctx context.Context, b Backend, localPath, name string) (Outcome, error) {
	sum, err := checksum.BLAKE3File(localPath)
	if err != nil {
		return OutcomeFailed, err
	}
	return Push(ctx, b, localPath, name, sum)
}
