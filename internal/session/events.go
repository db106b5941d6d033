package session

// EventKind identifies the outcome of one processed scan.
type EventKind string

const (
	EventIn        EventKind = "attendance_in"
	EventInvalid   EventKind = "attendance_invalid"
	EventDuplicate EventKind = "attendance_duplicate"
	EventError     EventKind = "attendance_error"
)

// AttendanceData is the dashboard-facing payload of an attendance event.
// Fields are populated per kind: in/invalid carry the full session view,
// duplicate carries teacher/classroom/message, error carries message and
// the raw tag value.
type AttendanceData struct {
	SessionID       string  `json:"session_id,omitempty"`
	Teacher         string  `json:"teacher,omitempty"`
	TeacherID       int64   `json:"teacher_id,omitempty"`
	Classroom       string  `json:"classroom,omitempty"`
	ClassroomID     int64   `json:"classroom_id,omitempty"`
	Time            string  `json:"time,omitempty"`
	ExpectedOut     *string `json:"expected_out,omitempty"`
	Status          string  `json:"status,omitempty"`
	ScheduleSubject *string `json:"schedule_subject,omitempty"`
	Message         string  `json:"message,omitempty"`
	RFIDUID         string  `json:"rfid_uid,omitempty"`
}

// Event is the ephemeral domain event a scan produces. It is broadcast to
// the classroom's dashboard group and never persisted.
type Event struct {
	Kind EventKind
	Data AttendanceData
}

// TimeoutData is the payload of an auto_timeout broadcast.
type TimeoutData struct {
	SessionID   string `json:"session_id"`
	Teacher     string `json:"teacher"`
	TeacherID   int64  `json:"teacher_id"`
	Classroom   string `json:"classroom"`
	ClassroomID int64  `json:"classroom_id"`
	TimeOut     string `json:"time_out"`
}
