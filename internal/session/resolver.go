package session

import (
	"sort"
	"time"

	"classtrack/internal/model"
)

// Resolve picks the schedule entry matching a scan at t, or nil.
//
// An entry whose window contains t wins outright. Failing that, an entry
// starting within the grace window after t matches, so a teacher badging a
// few minutes early is still counted against the upcoming period.
//
// When several entries qualify the earliest start time wins, then the
// earliest end time, so overlapping windows resolve deterministically
// regardless of storage order.
func Resolve(entries []model.ScheduleEntry, t time.Time, grace time.Duration) *model.ScheduleEntry {
	nowMin := t.Hour()*60 + t.Minute()
	graceMin := int(grace / time.Minute)

	var contained, upcoming []model.ScheduleEntry
	for _, e := range entries {
		if e.Weekday != t.Weekday() {
			continue
		}
		start, end := e.Start.Minutes(), e.End.Minutes()
		switch {
		case start <= nowMin && nowMin <= end:
			contained = append(contained, e)
		case start >= nowMin && start <= nowMin+graceMin:
			upcoming = append(upcoming, e)
		}
	}

	candidates := contained
	if len(candidates) == 0 {
		candidates = upcoming
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start.Minutes() != candidates[j].Start.Minutes() {
			return candidates[i].Start.Minutes() < candidates[j].Start.Minutes()
		}
		return candidates[i].End.Minutes() < candidates[j].End.Minutes()
	})
	match := candidates[0]
	return &match
}
