package session

import (
	"testing"
	"time"

	"classtrack/internal/model"
)

const grace = 15 * time.Minute

// monday returns a fixed Monday at the given clock time.
func monday(hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)
}

func entry(id int64, day time.Weekday, startH, startM, endH, endM int) model.ScheduleEntry {
	return model.ScheduleEntry{
		ID:      id,
		Weekday: day,
		Start:   model.ClockTime{Hour: startH, Minute: startM},
		End:     model.ClockTime{Hour: endH, Minute: endM},
	}
}

func TestResolve_InsideWindow(t *testing.T) {
	entries := []model.ScheduleEntry{entry(1, time.Monday, 8, 0, 9, 0)}

	match := Resolve(entries, monday(8, 30), grace)
	if match == nil || match.ID != 1 {
		t.Fatalf("expected entry 1, got %v", match)
	}
}

func TestResolve_EarlyScanWithinGrace(t *testing.T) {
	entries := []model.ScheduleEntry{entry(1, time.Monday, 8, 0, 9, 0)}

	// 10 minutes before a window starting in 12 minutes is inside the
	// 15-minute grace.
	match := Resolve(entries, monday(7, 48), grace)
	if match == nil || match.ID != 1 {
		t.Fatalf("expected grace match, got %v", match)
	}
}

func TestResolve_EarlyScanOutsideGrace(t *testing.T) {
	entries := []model.ScheduleEntry{entry(1, time.Monday, 8, 0, 9, 0)}

	if match := Resolve(entries, monday(7, 40), grace); match != nil {
		t.Fatalf("expected no match 20 minutes early, got entry %d", match.ID)
	}
}

func TestResolve_AfterWindow(t *testing.T) {
	entries := []model.ScheduleEntry{entry(1, time.Monday, 8, 0, 9, 0)}

	if match := Resolve(entries, monday(9, 1), grace); match != nil {
		t.Fatalf("expected no match after window end, got entry %d", match.ID)
	}
}

func TestResolve_WrongWeekday(t *testing.T) {
	entries := []model.ScheduleEntry{entry(1, time.Tuesday, 8, 0, 9, 0)}

	if match := Resolve(entries, monday(8, 30), grace); match != nil {
		t.Fatalf("expected no match on wrong weekday, got entry %d", match.ID)
	}
}

func TestResolve_ContainmentBeatsGrace(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry(1, time.Monday, 9, 0, 10, 0), // starts in 10 min, grace candidate
		entry(2, time.Monday, 8, 0, 9, 0),  // contains the scan
	}

	match := Resolve(entries, monday(8, 50), grace)
	if match == nil || match.ID != 2 {
		t.Fatalf("expected containing entry 2, got %v", match)
	}
}

func TestResolve_OverlapTieBreak(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry(1, time.Monday, 8, 30, 10, 0),
		entry(2, time.Monday, 8, 0, 10, 0),
		entry(3, time.Monday, 8, 0, 9, 0),
	}

	// Earliest start wins, then earliest end; independent of input order.
	match := Resolve(entries, monday(8, 45), grace)
	if match == nil || match.ID != 3 {
		t.Fatalf("expected entry 3, got %v", match)
	}
}

func TestResolve_NoEntries(t *testing.T) {
	if match := Resolve(nil, monday(8, 30), grace); match != nil {
		t.Fatalf("expected nil for empty schedule, got entry %d", match.ID)
	}
}
