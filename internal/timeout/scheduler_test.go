package timeout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classtrack/internal/bus"
	"classtrack/internal/model"
	"classtrack/internal/store/memory"
	"classtrack/internal/timeout"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New(time.UTC)
	st.AddTeacher(model.Teacher{ID: 1, Name: "Alice Cruz", IsActive: true})
	st.AddClassroom(model.Classroom{ID: 5, Name: "Room 5", IsActive: true})
	return st
}

func inSession(t *testing.T, st *memory.Store, expectedOut time.Time) model.AttendanceSession {
	t.Helper()
	sess := model.AttendanceSession{
		ID:          uuid.NewString(),
		TeacherID:   1,
		ClassroomID: 5,
		Date:        model.DateKey(time.Now(), time.UTC),
		TimeIn:      time.Now().Add(-time.Hour),
		ExpectedOut: &expectedOut,
		Status:      model.StatusIn,
		RFIDUIDUsed: "A1B2",
	}
	created, err := st.CreateSessionIfAbsent(context.Background(), sess)
	if err != nil || !created {
		t.Fatalf("seed session: created=%v err=%v", created, err)
	}
	return sess
}

// waitClosed polls until the session leaves IN or the deadline passes.
func waitClosed(t *testing.T, st *memory.Store, id string) model.AttendanceSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := st.Session(id); ok && sess.Status != model.StatusIn {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, _ := st.Session(id)
	t.Fatalf("session never closed, status=%s", sess.Status)
	return model.AttendanceSession{}
}

func drainTimeouts(sub *bus.Subscription, window time.Duration) int {
	count := 0
	deadline := time.After(window)
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return count
			}
			if msg.Type == "auto_timeout" {
				count++
			}
		case <-deadline:
			return count
		}
	}
}

func TestArm_PreciseTimerClosesSession(t *testing.T) {
	st := seedStore(t)
	fanout := bus.New(zap.NewNop())
	sub := fanout.Subscribe(bus.Dashboard(5))
	defer fanout.Unsubscribe(sub)

	// Long sweep interval so only the timer can fire.
	sched := timeout.New(st, fanout, time.UTC, time.Hour, zap.NewNop())
	sched.Start(context.Background())
	defer sched.Stop()

	sess := inSession(t, st, time.Now().Add(30*time.Millisecond))
	sched.Arm(sess)

	closed := waitClosed(t, st, sess.ID)
	if closed.Status != model.StatusAutoOut {
		t.Fatalf("expected AUTO_OUT, got %s", closed.Status)
	}
	if closed.TimeOut == nil {
		t.Fatal("time_out not recorded")
	}
	if got := drainTimeouts(sub, 200*time.Millisecond); got != 1 {
		t.Fatalf("expected 1 auto_timeout broadcast, got %d", got)
	}
}

func TestSweep_ClosesExpiredSessions(t *testing.T) {
	st := seedStore(t)
	fanout := bus.New(zap.NewNop())
	sub := fanout.Subscribe(bus.Dashboard(5))
	defer fanout.Unsubscribe(sub)

	// Session already past due before the scheduler starts, as after a
	// process restart. No timer is armed for it.
	sess := inSession(t, st, time.Now().Add(-time.Minute))

	sched := timeout.New(st, fanout, time.UTC, 10*time.Millisecond, zap.NewNop())
	sched.Start(context.Background())
	defer sched.Stop()

	closed := waitClosed(t, st, sess.ID)
	if closed.Status != model.StatusAutoOut {
		t.Fatalf("expected AUTO_OUT, got %s", closed.Status)
	}
	if got := drainTimeouts(sub, 200*time.Millisecond); got != 1 {
		t.Fatalf("expected 1 auto_timeout broadcast, got %d", got)
	}
}

func TestTimerAndSweep_ConvergeOnSingleTransition(t *testing.T) {
	st := seedStore(t)
	fanout := bus.New(zap.NewNop())
	sub := fanout.Subscribe(bus.Dashboard(5))
	defer fanout.Unsubscribe(sub)

	// Aggressive sweep so both paths race for the same session.
	sched := timeout.New(st, fanout, time.UTC, 5*time.Millisecond, zap.NewNop())
	sched.Start(context.Background())
	defer sched.Stop()

	sess := inSession(t, st, time.Now().Add(20*time.Millisecond))
	sched.Arm(sess)

	waitClosed(t, st, sess.ID)
	if got := drainTimeouts(sub, 300*time.Millisecond); got != 1 {
		t.Fatalf("dual-path timeout must broadcast exactly once, got %d", got)
	}
}

func TestArm_TerminalSessionIsNoOp(t *testing.T) {
	st := seedStore(t)
	fanout := bus.New(zap.NewNop())
	sub := fanout.Subscribe(bus.Dashboard(5))
	defer fanout.Unsubscribe(sub)

	sched := timeout.New(st, fanout, time.UTC, time.Hour, zap.NewNop())
	sched.Start(context.Background())
	defer sched.Stop()

	sess := inSession(t, st, time.Now().Add(10*time.Millisecond))
	if _, err := st.CloseSessionIfIn(context.Background(), sess.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	// Timer fires after the session is already terminal.
	sched.Arm(sess)
	if got := drainTimeouts(sub, 150*time.Millisecond); got != 0 {
		t.Fatalf("terminal session must not broadcast, got %d", got)
	}
}

func TestArm_WithoutExpectedOutIsIgnored(t *testing.T) {
	st := seedStore(t)
	fanout := bus.New(zap.NewNop())
	sched := timeout.New(st, fanout, time.UTC, time.Hour, zap.NewNop())
	sched.Start(context.Background())
	defer sched.Stop()

	sched.Arm(model.AttendanceSession{ID: uuid.NewString(), Status: model.StatusInvalid})
}
