package status

import (
	"fmt"
	"sort"
	"time"
)

// parseSlot turns "HH:MM" into its occurrence on the given day, in that
// day's location.
func parseSlot(day time.Time, slot string) (time.Time, error) {
	var hour, min int
	if _, err := fmt.Sscanf(slot, "%d:%d", &hour, &min); err != nil {
		return time.Time{}, fmt.Errorf("bad schedule time %q: %w", slot, err)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return time.Time{}, fmt.Errorf("bad schedule time %q", slot)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location()), nil
}

// NextOccurrence returns the earliest scheduled time strictly after now.
func NextOccurrence(now time.Time, slots []string) (time.Time, bool) {
	var candidates []time.Time
	for _, slot := range slots {
		for _, day := range []time.Time{now, now.AddDate(0, 0, 1)} {
			occ, err := parseSlot(day, slot)
			if err != nil {
				continue
			}
			if occ.After(now) {
				candidates = append(candidates, occ)
			}
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	return candidates[0], true
}

// PrevOccurrence returns the latest scheduled time at or before now.
func PrevOccurrence(now time.Time, slots []string) (time.Time, bool) {
	var candidates []time.Time
	for _, slot := range slots {
		for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
			occ, err := parseSlot(day, slot)
			if err != nil {
				continue
			}
			if !occ.After(now) {
				candidates = append(candidates, occ)
			}
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].After(candidates[j]) })
	return candidates[0], true
}

// DueSlot finds a schedule slot whose occurrence falls within the tolerance
// window ending at now. Returns the slot, the day it belongs to (for the
// dedup mark key) and whether anything is due. Slots near midnight are
// checked against yesterday too.
func DueSlot(now time.Time, slots []string, tolerance time.Duration) (string, time.Time, bool) {
	for _, slot := range slots {
		for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
			occ, err := parseSlot(day, slot)
			if err != nil {
				continue
			}
			if !occ.After(now) && now.Sub(occ) <= tolerance {
				return slot, day, true
			}
		}
	}
	return "", time.Time{}, false
}
