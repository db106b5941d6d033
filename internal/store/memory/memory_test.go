package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/model"
	"classtrack/internal/store/memory"
)

func newSession(teacherID, classroomID int64, status model.SessionStatus, expectedOut *time.Time) model.AttendanceSession {
	return model.AttendanceSession{
		ID:          uuid.NewString(),
		TeacherID:   teacherID,
		ClassroomID: classroomID,
		Date:        "2026-01-05",
		TimeIn:      time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
		Status:      status,
		ExpectedOut: expectedOut,
		RFIDUIDUsed: "A1B2",
	}
}

func TestCreateSessionIfAbsent_RejectsSecondIn(t *testing.T) {
	st := memory.New(time.UTC)
	ctx := context.Background()

	created, err := st.CreateSessionIfAbsent(ctx, newSession(1, 2, model.StatusIn, nil))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = st.CreateSessionIfAbsent(ctx, newSession(1, 2, model.StatusIn, nil))
	if err != nil {
		t.Fatalf("second create errored: %v", err)
	}
	if created {
		t.Fatal("second IN session for the same key must be rejected")
	}
}

func TestCreateSessionIfAbsent_InvalidSessionsMayCoexist(t *testing.T) {
	st := memory.New(time.UTC)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		created, err := st.CreateSessionIfAbsent(ctx, newSession(1, 2, model.StatusInvalid, nil))
		if err != nil || !created {
			t.Fatalf("invalid create %d: created=%v err=%v", i, created, err)
		}
	}
}

func TestCreateSessionIfAbsent_Concurrent(t *testing.T) {
	st := memory.New(time.UTC)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	createdCount := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := st.CreateSessionIfAbsent(ctx, newSession(7, 7, model.StatusIn, nil))
			if err != nil {
				t.Errorf("create failed: %v", err)
				return
			}
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	var wins int
	for created := range createdCount {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestCloseSessionIfIn_IsCompareAndSet(t *testing.T) {
	st := memory.New(time.UTC)
	ctx := context.Background()
	st.AddTeacher(model.Teacher{ID: 1, Name: "Alice", IsActive: true})
	st.AddClassroom(model.Classroom{ID: 2, Name: "Room 5", IsActive: true})

	sess := newSession(1, 2, model.StatusIn, nil)
	if _, err := st.CreateSessionIfAbsent(ctx, sess); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	closed, err := st.CloseSessionIfIn(ctx, sess.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if closed == nil || closed.Session.Status != model.StatusAutoOut {
		t.Fatalf("expected AUTO_OUT transition, got %+v", closed)
	}
	if closed.TeacherName != "Alice" || closed.ClassroomName != "Room 5" {
		t.Fatalf("closed session missing display names: %+v", closed)
	}

	// Second close must be a silent no-op.
	again, err := st.CloseSessionIfIn(ctx, sess.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("terminal session closed twice: %+v", again)
	}
}

func TestCloseExpired_OnlyPastDue(t *testing.T) {
	st := memory.New(time.UTC)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	expired := newSession(1, 1, model.StatusIn, &past)
	running := newSession(2, 1, model.StatusIn, &future)
	invalid := newSession(3, 1, model.StatusInvalid, nil)
	for _, sess := range []model.AttendanceSession{expired, running, invalid} {
		if _, err := st.CreateSessionIfAbsent(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	closed, err := st.CloseExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].Session.ID != expired.ID {
		t.Fatalf("expected only the expired session closed, got %+v", closed)
	}

	if sess, _ := st.Session(running.ID); sess.Status != model.StatusIn {
		t.Fatalf("future session must stay IN, got %s", sess.Status)
	}
	if sess, _ := st.Session(invalid.ID); sess.Status != model.StatusInvalid {
		t.Fatalf("invalid session must never auto-close, got %s", sess.Status)
	}
}
