package retention

import (
	"fmt"
	"sort"
	"time"

	"backupd/internal/config"
)

// Candidate is one archive under retention consideration, on either the
// local or the remote side.
type Candidate struct {
	Name      string
	Timestamp time.Time
	Size      int64
}

// Plan is the outcome of a pure retention computation. Keep and Delete
// partition the candidates; Tiers records which tier claimed each survivor.
type Plan struct {
	Keep   []Candidate
	Delete []Candidate
	Tiers  map[string]string // archive name -> tier name ("pinned" for pinned survivors)
}

// bucketKey maps a timestamp into a tier bucket. Two candidates share a
// bucket iff they fall into the same calendar unit.
func bucketKey(rule string, ts time.Time) string {
	switch rule {
	case "hourly":
		return ts.Format("2006-01-02T15")
	case "daily":
		return ts.Format("2006-01-02")
	case "weekly":
		year, week := ts.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case "monthly":
		return ts.Format("2006-01")
	case "yearly":
		return ts.Format("2006")
	default:
		return ts.Format(time.RFC3339)
	}
}

// Compute derives the survivor and delete sets for one storage side.
// Candidates are sorted newest first; each tier, in policy order, buckets
// the not-yet-kept candidates by its rule and keeps the newest one per
// bucket, newest buckets first, up to its retain count. Whatever no tier
// claimed is the delete set, minus pinned names. If any candidates exist
// the survivor set is never empty.
func Compute(candidates []Candidate, tiers []config.RetentionTier, pinned []string) Plan {
	plan := Plan{Tiers: make(map[string]string)}
	if len(candidates) == 0 {
		return plan
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		}
		return sorted[i].Name < sorted[j].Name
	})

	pinnedSet := make(map[string]bool, len(pinned))
	for _, name := range pinned {
		pinnedSet[name] = true
	}

	kept := make(map[string]bool)

	remaining := sorted
	for _, tier := range tiers {
		if tier.Retain <= 0 {
			continue
		}

		var next []Candidate
		taken := 0
		seenBuckets := make(map[string]bool)

		// remaining is newest-first, so the first candidate seen in a
		// bucket is that bucket's newest.
		for _, c := range remaining {
			key := bucketKey(tier.Bucket, c.Timestamp)
			if !seenBuckets[key] && taken < tier.Retain {
				seenBuckets[key] = true
				taken++
				kept[c.Name] = true
				plan.Tiers[c.Name] = tier.Name
				continue
			}
			next = append(next, c)
		}
		remaining = next
	}

	// A policy is validated to keep at least one archive, but guard the
	// newest candidate regardless.
	if len(kept) == 0 {
		newest := sorted[0]
		kept[newest.Name] = true
		plan.Tiers[newest.Name] = "newest"
	}

	for _, c := range sorted {
		switch {
		case kept[c.Name]:
			plan.Keep = append(plan.Keep, c)
		case pinnedSet[c.Name]:
			plan.Tiers[c.Name] = "pinned"
			plan.Keep = append(plan.Keep, c)
		default:
			plan.Delete = append(plan.Delete, c)
		}
	}

	return plan
}
