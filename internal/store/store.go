package store

import (
	"context"
	"time"

	"classtrack/internal/model"
)

// ClosedSession is a session transitioned out of IN, joined with the
// display names the auto_timeout broadcast needs.
type ClosedSession struct {
	Session       model.AttendanceSession
	TeacherName   string
	ClassroomName string
}

// SessionStore is the narrow contract the scan pipeline and the timeout
// scheduler consume. Implementations must make CreateSessionIfAbsent and
// CloseSessionIfIn atomic with respect to concurrent callers: the former is
// a conditional insert keyed on (teacher, classroom, date, status=IN), the
// latter a compare-and-set on status.
type SessionStore interface {
	// TeacherByTag resolves an RFID tag to an active teacher, nil when no
	// active teacher owns the tag.
	TeacherByTag(ctx context.Context, tag string) (*model.Teacher, error)

	// ClassroomByID returns the classroom, nil when it does not exist.
	ClassroomByID(ctx context.Context, id int64) (*model.Classroom, error)

	// ActiveClassrooms lists every classroom with the active flag set.
	ActiveClassrooms(ctx context.Context) ([]model.Classroom, error)

	// SchedulesFor returns the teacher's entries for the classroom on the
	// given weekday, in a stable order.
	SchedulesFor(ctx context.Context, teacherID, classroomID int64, day time.Weekday) ([]model.ScheduleEntry, error)

	// ActiveSession returns the session with status IN for the key, nil
	// when none exists.
	ActiveSession(ctx context.Context, teacherID, classroomID int64, date string) (*model.AttendanceSession, error)

	// CreateSessionIfAbsent inserts sess unless a session with status IN
	// already exists for its (teacher, classroom, date). Returns false
	// without error when the insert lost to an existing IN session.
	CreateSessionIfAbsent(ctx context.Context, sess model.AttendanceSession) (bool, error)

	// CloseSessionIfIn sets status AUTO_OUT and the time-out instant, only
	// if the session still has status IN. Returns nil when the session was
	// already terminal or does not exist.
	CloseSessionIfIn(ctx context.Context, sessionID string, timeOut time.Time) (*ClosedSession, error)

	// CloseExpired transitions every IN session whose expected-out is at or
	// before now, returning the sessions it closed.
	CloseExpired(ctx context.Context, now time.Time) ([]ClosedSession, error)
}

// EnergyStore appends and reads back power samples. Readings are never
// updated.
type EnergyStore interface {
	InsertReading(ctx context.Context, r model.EnergyReading) error
	LatestReading(ctx context.Context, classroomID int64) (*model.EnergyReading, error)
}

// Snapshot is the initial_data payload pushed to dashboard connections.
type Snapshot struct {
	Classrooms []ClassroomState `json:"classrooms"`
	Stats      Stats            `json:"stats"`
}

// ClassroomState is one classroom's live view inside a Snapshot.
type ClassroomState struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	CurrentTeacher   *TeacherRef `json:"current_teacher"`
	TimeIn           *string     `json:"time_in"`
	CountdownSeconds *int64      `json:"countdown_seconds"`
	CurrentPower     *float64    `json:"current_power"`
	LastPowerUpdate  *string     `json:"last_power_update"`
}

// TeacherRef identifies the teacher currently in a classroom.
type TeacherRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Stats summarizes today's sessions.
type Stats struct {
	TotalToday int `json:"total_today"`
	Active     int `json:"active"`
	Completed  int `json:"completed"`
	Invalid    int `json:"invalid"`
}

// SnapshotStore builds dashboard snapshots. A nil classroomID means all
// active classrooms.
type SnapshotStore interface {
	DashboardSnapshot(ctx context.Context, classroomID *int64, now time.Time) (*Snapshot, error)
}

// Store is the full backing-store contract.
type Store interface {
	SessionStore
	EnergyStore
	SnapshotStore
}
