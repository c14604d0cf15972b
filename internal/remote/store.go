package remote

import (
	"context"
	"path"

	"backupd/internal/archive"
	"backupd/internal/retention"
)

// RetentionStore adapts a Backend into a retention store so remote thinning
// derives its candidate set from the remote listing, never from local state.
type RetentionStore struct {
	Backend Backend
}

func (s *RetentionStore) List(ctx context.Context) ([]retention.Candidate, error) {
	objects, err := s.Backend.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []retention.Candidate
	for _, obj := range objects {
		name := path.Base(obj.Key)
		ts, ok := archive.ParseStamp(name)
		if !ok {
			ts = obj.LastModified
		}
		candidates = append(candidates, retention.Candidate{
			Name:      name,
			Timestamp: ts,
			Size:      obj.Size,
		})
	}
	return candidates, nil
}

func (s *RetentionStore) Delete(ctx context.Context, name string) error {
	return s.Backend.Delete(ctx, name)
}
