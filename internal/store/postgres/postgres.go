package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classtrack/internal/model"
	"classtrack/internal/store"
)

// Store implements store.Store on Postgres.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// New creates a Postgres-backed store. loc is the deployment zone used when
// formatting session dates and countdowns.
func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

// TeacherByTag resolves an RFID tag to an active teacher.
func (s *Store) TeacherByTag(ctx context.Context, tag string) (*model.Teacher, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, rfid_uid, is_active
		FROM teachers
		WHERE rfid_uid = $1 AND is_active = TRUE
	`, tag)
	var t model.Teacher
	if err := row.Scan(&t.ID, &t.Name, &t.RFIDUID, &t.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ClassroomByID returns a classroom regardless of its active flag; the
// gateway decides how to treat inactive rooms.
func (s *Store) ClassroomByID(ctx context.Context, id int64) (*model.Classroom, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, device_token, is_active FROM classrooms WHERE id = $1
	`, id)
	var c model.Classroom
	if err := row.Scan(&c.ID, &c.Name, &c.DeviceToken, &c.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ActiveClassrooms lists classrooms with the active flag set.
func (s *Store) ActiveClassrooms(ctx context.Context) ([]model.Classroom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, device_token, is_active FROM classrooms WHERE is_active = TRUE ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Classroom
	for rows.Next() {
		var c model.Classroom
		if err := rows.Scan(&c.ID, &c.Name, &c.DeviceToken, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SchedulesFor returns the teacher's entries for a classroom and weekday,
// ordered by start then end time.
func (s *Store) SchedulesFor(ctx context.Context, teacherID, classroomID int64, day time.Weekday) ([]model.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, teacher_id, classroom_id, day_of_week, start_time, end_time, subject
		FROM schedules
		WHERE teacher_id = $1 AND classroom_id = $2 AND day_of_week = $3
		ORDER BY start_time, end_time
	`, teacherID, classroomID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScheduleEntry
	for rows.Next() {
		var (
			e          model.ScheduleEntry
			dow        int
			start, end time.Time
		)
		if err := rows.Scan(&e.ID, &e.TeacherID, &e.Classroom, &dow, &start, &end, &e.Subject); err != nil {
			return nil, err
		}
		e.Weekday = time.Weekday(dow)
		e.Start = model.ClockTime{Hour: start.Hour(), Minute: start.Minute()}
		e.End = model.ClockTime{Hour: end.Hour(), Minute: end.Minute()}
		out = append(out, e)
	}
	return out, rows.Err()
}

const sessionColumns = `id, teacher_id, classroom_id, schedule_id, to_char(date, 'YYYY-MM-DD'), time_in, time_out, expected_out, status, rfid_uid_used, created_at`

func scanSession(row interface{ Scan(...any) error }) (*model.AttendanceSession, error) {
	var (
		sess                 model.AttendanceSession
		timeOut, expectedOut sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.TeacherID, &sess.ClassroomID, &sess.ScheduleID, &sess.Date,
		&sess.TimeIn, &timeOut, &expectedOut, &sess.Status, &sess.RFIDUIDUsed, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	if timeOut.Valid {
		sess.TimeOut = &timeOut.Time
	}
	if expectedOut.Valid {
		sess.ExpectedOut = &expectedOut.Time
	}
	return &sess, nil
}

// ActiveSession returns the IN session for the key, nil when none exists.
func (s *Store) ActiveSession(ctx context.Context, teacherID, classroomID int64, date string) (*model.AttendanceSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE teacher_id = $1 AND classroom_id = $2 AND date = $3 AND status = 'IN'
	`, teacherID, classroomID, date)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// CreateSessionIfAbsent inserts sess unless an IN session already holds the
// (teacher, classroom, date) key. The conflict target is the partial unique
// index, so the check-and-insert is a single atomic statement.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, sess model.AttendanceSession) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, teacher_id, classroom_id, schedule_id, date, time_in, expected_out, status, rfid_uid_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (teacher_id, classroom_id, date) WHERE status = 'IN' DO NOTHING
	`, sess.ID, sess.TeacherID, sess.ClassroomID, sess.ScheduleID, sess.Date,
		sess.TimeIn, sess.ExpectedOut, sess.Status, sess.RFIDUIDUsed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const closeReturning = `
	RETURNING s.id, s.teacher_id, s.classroom_id, s.schedule_id, to_char(s.date, 'YYYY-MM-DD'),
		s.time_in, s.time_out, s.expected_out, s.status, s.rfid_uid_used, s.created_at, t.name, c.name`

func scanClosed(row interface{ Scan(...any) error }) (*store.ClosedSession, error) {
	var (
		cs                   store.ClosedSession
		timeOut, expectedOut sql.NullTime
	)
	sess := &cs.Session
	err := row.Scan(&sess.ID, &sess.TeacherID, &sess.ClassroomID, &sess.ScheduleID, &sess.Date,
		&sess.TimeIn, &timeOut, &expectedOut, &sess.Status, &sess.RFIDUIDUsed, &sess.CreatedAt,
		&cs.TeacherName, &cs.ClassroomName)
	if err != nil {
		return nil, err
	}
	if timeOut.Valid {
		sess.TimeOut = &timeOut.Time
	}
	if expectedOut.Valid {
		sess.ExpectedOut = &expectedOut.Time
	}
	return &cs, nil
}

// CloseSessionIfIn is the compare-and-set both timeout paths converge on.
// A session that is no longer IN yields nil without error.
func (s *Store) CloseSessionIfIn(ctx context.Context, sessionID string, timeOut time.Time) (*store.ClosedSession, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions AS s
		SET status = 'AUTO_OUT', time_out = $2
		FROM teachers t, classrooms c
		WHERE s.id = $1 AND s.status = 'IN' AND t.id = s.teacher_id AND c.id = s.classroom_id`+closeReturning,
		sessionID, timeOut)
	cs, err := scanClosed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cs, err
}

// CloseExpired transitions every IN session past its expected-out instant.
func (s *Store) CloseExpired(ctx context.Context, now time.Time) ([]store.ClosedSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE attendance_sessions AS s
		SET status = 'AUTO_OUT', time_out = $1
		FROM teachers t, classrooms c
		WHERE s.status = 'IN' AND s.expected_out <= $1 AND t.id = s.teacher_id AND c.id = s.classroom_id`+closeReturning,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ClosedSession
	for rows.Next() {
		cs, err := scanClosed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

// InsertReading appends one power sample.
func (s *Store) InsertReading(ctx context.Context, r model.EnergyReading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO energy_logs (classroom_id, watts, ts) VALUES ($1, $2, $3)
	`, r.ClassroomID, r.Watts, r.Timestamp)
	return err
}

// LatestReading returns the newest reading for a classroom, nil when the
// room has never reported.
func (s *Store) LatestReading(ctx context.Context, classroomID int64) (*model.EnergyReading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT classroom_id, watts, ts FROM energy_logs
		WHERE classroom_id = $1 ORDER BY ts DESC LIMIT 1
	`, classroomID)
	var r model.EnergyReading
	if err := row.Scan(&r.ClassroomID, &r.Watts, &r.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// DashboardSnapshot assembles the initial_data view: per-classroom current
// teacher, countdown to expected-out, latest power sample, plus today's
// totals.
func (s *Store) DashboardSnapshot(ctx context.Context, classroomID *int64, now time.Time) (*store.Snapshot, error) {
	query := `SELECT id, name, device_token, is_active FROM classrooms WHERE is_active = TRUE`
	args := []any{}
	if classroomID != nil {
		query += ` AND id = $1`
		args = append(args, *classroomID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classrooms []model.Classroom
	for rows.Next() {
		var c model.Classroom
		if err := rows.Scan(&c.ID, &c.Name, &c.DeviceToken, &c.IsActive); err != nil {
			return nil, err
		}
		classrooms = append(classrooms, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := &store.Snapshot{Classrooms: []store.ClassroomState{}}
	for _, c := range classrooms {
		state := store.ClassroomState{ID: c.ID, Name: c.Name}

		row := s.db.QueryRowContext(ctx, `
			SELECT s.time_in, s.expected_out, t.id, t.name
			FROM attendance_sessions s JOIN teachers t ON t.id = s.teacher_id
			WHERE s.classroom_id = $1 AND s.status = 'IN'
			LIMIT 1
		`, c.ID)
		var (
			timeIn      time.Time
			expectedOut sql.NullTime
			ref         store.TeacherRef
		)
		switch err := row.Scan(&timeIn, &expectedOut, &ref.ID, &ref.Name); {
		case err == nil:
			state.CurrentTeacher = &ref
			in := timeIn.In(s.loc).Format(time.RFC3339)
			state.TimeIn = &in
			if expectedOut.Valid {
				remaining := int64(expectedOut.Time.Sub(now).Seconds())
				if remaining < 0 {
					remaining = 0
				}
				state.CountdownSeconds = &remaining
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return nil, err
		}

		reading, err := s.LatestReading(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if reading != nil {
			watts := reading.Watts
			ts := reading.Timestamp.In(s.loc).Format(time.RFC3339)
			state.CurrentPower = &watts
			state.LastPowerUpdate = &ts
		}
		snap.Classrooms = append(snap.Classrooms, state)
	}

	today := model.DateKey(now, s.loc)
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE date = $1),
			COUNT(*) FILTER (WHERE status = 'IN'),
			COUNT(*) FILTER (WHERE date = $1 AND status = 'AUTO_OUT'),
			COUNT(*) FILTER (WHERE date = $1 AND status = 'INVALID')
		FROM attendance_sessions
	`, today)
	if err := row.Scan(&snap.Stats.TotalToday, &snap.Stats.Active, &snap.Stats.Completed, &snap.Stats.Invalid); err != nil {
		return nil, err
	}
	return snap, nil
}
