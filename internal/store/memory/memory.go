// Package memory provides a mutex-guarded in-memory implementation of the
// store contract, used by tests and local development. It honors the same
// atomicity guarantees as the Postgres store: the conditional session
// create and the status compare-and-set are serialized under one lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"classtrack/internal/model"
	"classtrack/internal/store"
)

// Store implements store.Store with in-process maps.
type Store struct {
	mu         sync.Mutex
	loc        *time.Location
	teachers   map[int64]model.Teacher
	classrooms map[int64]model.Classroom
	schedules  map[int64]model.ScheduleEntry
	sessions   map[string]model.AttendanceSession
	readings   map[int64][]model.EnergyReading
	nextID     int64
}

// New creates an empty store. loc governs date formatting, matching the
// Postgres store.
func New(loc *time.Location) *Store {
	return &Store{
		loc:        loc,
		teachers:   make(map[int64]model.Teacher),
		classrooms: make(map[int64]model.Classroom),
		schedules:  make(map[int64]model.ScheduleEntry),
		sessions:   make(map[string]model.AttendanceSession),
		readings:   make(map[int64][]model.EnergyReading),
		nextID:     1,
	}
}

// AddTeacher seeds a teacher and returns it with an assigned ID.
func (s *Store) AddTeacher(t model.Teacher) model.Teacher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextID
		s.nextID++
	}
	s.teachers[t.ID] = t
	return t
}

// AddClassroom seeds a classroom and returns it with an assigned ID.
func (s *Store) AddClassroom(c model.Classroom) model.Classroom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID
		s.nextID++
	}
	s.classrooms[c.ID] = c
	return c
}

// AddSchedule seeds a schedule entry and returns it with an assigned ID.
func (s *Store) AddSchedule(e model.ScheduleEntry) model.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.nextID
		s.nextID++
	}
	s.schedules[e.ID] = e
	return e
}

// Session returns a stored session by ID for test assertions.
func (s *Store) Session(id string) (model.AttendanceSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionCount reports how many sessions exist.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) TeacherByTag(_ context.Context, tag string) (*model.Teacher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teachers {
		if t.IsActive && t.RFIDUID != nil && *t.RFIDUID == tag {
			out := t
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ClassroomByID(_ context.Context, id int64) (*model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classrooms[id]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (s *Store) ActiveClassrooms(_ context.Context) ([]model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Classroom
	for _, c := range s.classrooms {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SchedulesFor(_ context.Context, teacherID, classroomID int64, day time.Weekday) ([]model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ScheduleEntry
	for _, e := range s.schedules {
		if e.TeacherID == teacherID && e.Classroom == classroomID && e.Weekday == day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Minutes() != out[j].Start.Minutes() {
			return out[i].Start.Minutes() < out[j].Start.Minutes()
		}
		return out[i].End.Minutes() < out[j].End.Minutes()
	})
	return out, nil
}

func (s *Store) ActiveSession(_ context.Context, teacherID, classroomID int64, date string) (*model.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.activeLocked(teacherID, classroomID, date); sess != nil {
		out := *sess
		return &out, nil
	}
	return nil, nil
}

func (s *Store) activeLocked(teacherID, classroomID int64, date string) *model.AttendanceSession {
	for id, sess := range s.sessions {
		if sess.TeacherID == teacherID && sess.ClassroomID == classroomID &&
			sess.Date == date && sess.Status == model.StatusIn {
			found := s.sessions[id]
			return &found
		}
	}
	return nil
}

func (s *Store) CreateSessionIfAbsent(_ context.Context, sess model.AttendanceSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == model.StatusIn {
		if existing := s.activeLocked(sess.TeacherID, sess.ClassroomID, sess.Date); existing != nil {
			return false, nil
		}
	}
	sess.CreatedAt = time.Now()
	s.sessions[sess.ID] = sess
	return true, nil
}

func (s *Store) CloseSessionIfIn(_ context.Context, sessionID string, timeOut time.Time) (*store.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Status != model.StatusIn {
		return nil, nil
	}
	return s.closeLocked(sess, timeOut), nil
}

func (s *Store) closeLocked(sess model.AttendanceSession, timeOut time.Time) *store.ClosedSession {
	sess.Status = model.StatusAutoOut
	out := timeOut
	sess.TimeOut = &out
	s.sessions[sess.ID] = sess
	return &store.ClosedSession{
		Session:       sess,
		TeacherName:   s.teachers[sess.TeacherID].Name,
		ClassroomName: s.classrooms[sess.ClassroomID].Name,
	}
}

func (s *Store) CloseExpired(_ context.Context, now time.Time) ([]store.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ClosedSession
	for _, sess := range s.sessions {
		if sess.Status == model.StatusIn && sess.ExpectedOut != nil && !sess.ExpectedOut.After(now) {
			out = append(out, *s.closeLocked(sess, now))
		}
	}
	return out, nil
}

func (s *Store) InsertReading(_ context.Context, r model.EnergyReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[r.ClassroomID] = append(s.readings[r.ClassroomID], r)
	return nil
}

func (s *Store) LatestReading(_ context.Context, classroomID int64) (*model.EnergyReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	readings := s.readings[classroomID]
	if len(readings) == 0 {
		return nil, nil
	}
	latest := readings[0]
	for _, r := range readings[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &latest, nil
}

func (s *Store) DashboardSnapshot(ctx context.Context, classroomID *int64, now time.Time) (*store.Snapshot, error) {
	classrooms, err := s.ActiveClassrooms(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &store.Snapshot{Classrooms: []store.ClassroomState{}}
	today := model.DateKey(now, s.loc)
	for _, c := range classrooms {
		if classroomID != nil && c.ID != *classroomID {
			continue
		}
		state := store.ClassroomState{ID: c.ID, Name: c.Name}
		for _, sess := range s.sessions {
			if sess.ClassroomID != c.ID || sess.Status != model.StatusIn {
				continue
			}
			teacher := s.teachers[sess.TeacherID]
			state.CurrentTeacher = &store.TeacherRef{ID: teacher.ID, Name: teacher.Name}
			in := sess.TimeIn.In(s.loc).Format(time.RFC3339)
			state.TimeIn = &in
			if sess.ExpectedOut != nil {
				remaining := int64(sess.ExpectedOut.Sub(now).Seconds())
				if remaining < 0 {
					remaining = 0
				}
				state.CountdownSeconds = &remaining
			}
			break
		}
		if readings := s.readings[c.ID]; len(readings) > 0 {
			latest := readings[len(readings)-1]
			ts := latest.Timestamp.In(s.loc).Format(time.RFC3339)
			state.CurrentPower = &latest.Watts
			state.LastPowerUpdate = &ts
		}
		snap.Classrooms = append(snap.Classrooms, state)
	}

	for _, sess := range s.sessions {
		if sess.Status == model.StatusIn {
			snap.Stats.Active++
		}
		if sess.Date != today {
			continue
		}
		snap.Stats.TotalToday++
		switch sess.Status {
		case model.StatusAutoOut:
			snap.Stats.Completed++
		case model.StatusInvalid:
			snap.Stats.Invalid++
		}
	}
	return snap, nil
}
