package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/store"
)

// Timers arms the precise timeout path for a newly created session.
// Implemented by the timeout scheduler; a nil Timers skips arming, leaving
// the sweep to close the session.
type Timers interface {
	Arm(sess model.AttendanceSession)
}

// Service is the attendance state machine: one scan in, one state
// transition and one domain event out.
type Service struct {
	store  store.SessionStore
	timers Timers
	loc    *time.Location
	grace  time.Duration
	logger *zap.Logger
}

// NewService creates the state machine. loc is the deployment's governing
// time zone; schedule clock times and session dates are interpreted in it.
func NewService(st store.SessionStore, timers Timers, loc *time.Location, grace time.Duration, logger *zap.Logger) *Service {
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Service{store: st, timers: timers, loc: loc, grace: grace, logger: logger}
}

// RecordScan processes one RFID scan for a classroom. It never returns an
// error: every failure mode collapses into an attendance_error event so the
// gateway's acknowledgment path stays independent of storage health.
func (s *Service) RecordScan(ctx context.Context, classroom model.Classroom, rfidUID string, ts time.Time) Event {
	evt := s.recordScan(ctx, classroom, rfidUID, ts)
	metrics.ScansTotal.WithLabelValues(string(evt.Kind)).Inc()
	return evt
}

func (s *Service) recordScan(ctx context.Context, classroom model.Classroom, rfidUID string, ts time.Time) Event {
	teacher, err := s.store.TeacherByTag(ctx, rfidUID)
	if err != nil {
		s.logger.Error("teacher lookup failed", zap.String("rfid_uid", rfidUID), zap.Error(err))
		return Event{Kind: EventError, Data: AttendanceData{Message: "Attendance could not be recorded", RFIDUID: rfidUID}}
	}
	if teacher == nil {
		return Event{Kind: EventError, Data: AttendanceData{Message: "Unknown RFID tag", RFIDUID: rfidUID}}
	}

	local := ts.In(s.loc)
	date := model.DateKey(local, s.loc)

	existing, err := s.store.ActiveSession(ctx, teacher.ID, classroom.ID, date)
	if err != nil {
		s.logger.Error("active session lookup failed", zap.Int64("teacher_id", teacher.ID), zap.Error(err))
		return Event{Kind: EventError, Data: AttendanceData{Message: "Attendance could not be recorded", RFIDUID: rfidUID}}
	}
	if existing != nil {
		return s.duplicateEvent(teacher, classroom)
	}

	entries, err := s.store.SchedulesFor(ctx, teacher.ID, classroom.ID, local.Weekday())
	if err != nil {
		s.logger.Error("schedule lookup failed", zap.Int64("teacher_id", teacher.ID), zap.Error(err))
		return Event{Kind: EventError, Data: AttendanceData{Message: "Attendance could not be recorded", RFIDUID: rfidUID}}
	}
	sched := Resolve(entries, local, s.grace)

	sess := model.AttendanceSession{
		ID:          uuid.NewString(),
		TeacherID:   teacher.ID,
		ClassroomID: classroom.ID,
		Date:        date,
		TimeIn:      local,
		Status:      model.StatusInvalid,
		RFIDUIDUsed: rfidUID,
	}
	if sched != nil {
		expectedOut := sched.End.On(local, s.loc)
		sess.ScheduleID = &sched.ID
		sess.ExpectedOut = &expectedOut
		sess.Status = model.StatusIn
	}

	created, err := s.store.CreateSessionIfAbsent(ctx, sess)
	if err != nil {
		s.logger.Error("session create failed",
			zap.Int64("teacher_id", teacher.ID), zap.Int64("classroom_id", classroom.ID), zap.Error(err))
		return Event{Kind: EventError, Data: AttendanceData{Message: "Attendance could not be recorded", RFIDUID: rfidUID}}
	}
	if !created {
		// Lost the race against a concurrent scan for the same key.
		return s.duplicateEvent(teacher, classroom)
	}

	if sess.Status == model.StatusIn && sess.ExpectedOut != nil && s.timers != nil {
		s.timers.Arm(sess)
	}

	kind := EventIn
	if sess.Status == model.StatusInvalid {
		kind = EventInvalid
	}
	data := AttendanceData{
		SessionID:   sess.ID,
		Teacher:     teacher.Name,
		TeacherID:   teacher.ID,
		Classroom:   classroom.Name,
		ClassroomID: classroom.ID,
		Time:        local.Format("15:04"),
		Status:      string(sess.Status),
	}
	if sess.ExpectedOut != nil {
		out := sess.ExpectedOut.Format("15:04")
		data.ExpectedOut = &out
	}
	if sched != nil {
		subject := sched.Subject
		data.ScheduleSubject = &subject
	}
	return Event{Kind: kind, Data: data}
}

func (s *Service) duplicateEvent(teacher *model.Teacher, classroom model.Classroom) Event {
	return Event{Kind: EventDuplicate, Data: AttendanceData{
		Teacher:   teacher.Name,
		Classroom: classroom.Name,
		Message:   "Already timed in",
	}}
}
