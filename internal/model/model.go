package model

import "time"

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	// StatusIn means the teacher badged in and the session is open.
	StatusIn SessionStatus = "IN"
	// StatusAutoOut means the session was closed by the timeout scheduler.
	StatusAutoOut SessionStatus = "AUTO_OUT"
	// StatusInvalid means the scan matched no schedule; the session is
	// recorded but never auto-closed.
	StatusInvalid SessionStatus = "INVALID"
)

// Teacher is a badge holder. RFIDUID is nil for teachers with no tag
// assigned; such teachers never match a scan.
type Teacher struct {
	ID       int64
	Name     string
	RFIDUID  *string
	IsActive bool
}

// Classroom is a room with one embedded device. DeviceToken authenticates
// the device's connection; the core never writes classrooms.
type Classroom struct {
	ID          int64
	Name        string
	DeviceToken string
	IsActive    bool
}

// ScheduleEntry is a recurring weekly time window assigned to a teacher for
// a classroom. Start and End are clock times on the given weekday.
type ScheduleEntry struct {
	ID        int64
	TeacherID int64
	Classroom int64
	Weekday   time.Weekday
	Start     ClockTime
	End       ClockTime
	Subject   string
}

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the offset from midnight, for window comparisons.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// On anchors the clock time to a calendar date in loc.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// String renders HH:MM.
func (c ClockTime) String() string {
	return time.Date(0, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("15:04")
}

// AttendanceSession records one teacher's continuous presence in a
// classroom for one calendar date.
//
// At most one session per (teacher, classroom, date) may hold status IN at
// any instant; the store's conditional create enforces this.
type AttendanceSession struct {
	ID          string
	TeacherID   int64
	ClassroomID int64
	ScheduleID  *int64
	Date        string // calendar date in the deployment zone, YYYY-MM-DD
	TimeIn      time.Time
	TimeOut     *time.Time
	ExpectedOut *time.Time
	Status      SessionStatus
	RFIDUIDUsed string
	CreatedAt   time.Time
}

// EnergyReading is one power sample reported by a classroom device.
// Append-only; readings are never updated or deleted by the core.
type EnergyReading struct {
	ClassroomID int64
	Watts       float64
	Timestamp   time.Time
}

// DateKey formats t as the session date key in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
