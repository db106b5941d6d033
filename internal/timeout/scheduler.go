// Package timeout closes attendance sessions at their expected end.
//
// Two producers converge on one idempotent transition: a one-shot timer
// armed per session at creation, and a periodic sweep that catches sessions
// the timer missed (process restarts, clock drift). The store's
// compare-and-set on status makes double-firing a no-op, so neither path
// assumes exclusivity.
package timeout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"classtrack/internal/bus"
	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

// Scheduler runs both timeout paths. Create with New, then Start; Arm may
// be called concurrently from the scan pipeline.
type Scheduler struct {
	store    store.SessionStore
	bus      *bus.Bus
	loc      *time.Location
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a scheduler. interval is the sweep period; values <= 0 fall
// back to 45 seconds.
func New(st store.SessionStore, b *bus.Bus, loc *time.Location, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	return &Scheduler{
		store:    st,
		bus:      b,
		loc:      loc,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It sweeps once immediately to clear any
// backlog left from a previous run, then repeats on the interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.loop(s.ctx)
	s.logger.Info("timeout scheduler started", zap.Duration("sweep_interval", s.interval))
}

// Stop signals the sweep loop to exit and waits for it to finish. Armed
// timers are cancelled as well.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Arm schedules the precise one-shot close for a session. There is no
// cancellation path: a session closed by other means before the timer fires
// turns the fire into a no-op through the status guard.
func (s *Scheduler) Arm(sess model.AttendanceSession) {
	if sess.ExpectedOut == nil {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	delay := time.Until(*sess.ExpectedOut)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			s.expire(ctx, sess.ID)
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// expire is the precise path: re-check and close one session.
func (s *Scheduler) expire(ctx context.Context, sessionID string) {
	closed, err := s.store.CloseSessionIfIn(ctx, sessionID, time.Now())
	if err != nil {
		s.logger.Error("precise timeout failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if closed == nil {
		// Already terminal; the sweep or a manual close beat us here.
		s.logger.Debug("timer fired on settled session", zap.String("session_id", sessionID))
		return
	}
	metrics.AutoTimeoutsTotal.WithLabelValues("timer").Inc()
	s.logger.Info("session auto-closed by timer",
		zap.String("session_id", sessionID), zap.String("teacher", closed.TeacherName))
	s.broadcast(*closed)
}

// sweep is the fallback path: close everything past its expected end.
// A failure here is logged and retried on the next tick; it never aborts
// the loop.
func (s *Scheduler) sweep(ctx context.Context) {
	closed, err := s.store.CloseExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("timeout sweep failed", zap.Error(err))
		return
	}
	for _, cs := range closed {
		metrics.AutoTimeoutsTotal.WithLabelValues("sweep").Inc()
		s.logger.Info("session auto-closed by sweep",
			zap.String("session_id", cs.Session.ID), zap.String("teacher", cs.TeacherName))
		s.broadcast(cs)
	}
}

func (s *Scheduler) broadcast(cs store.ClosedSession) {
	timeOut := ""
	if cs.Session.TimeOut != nil {
		timeOut = cs.Session.TimeOut.In(s.loc).Format("15:04")
	}
	s.bus.Publish(bus.Dashboard(cs.Session.ClassroomID), bus.Message{
		Type: "auto_timeout",
		Data: session.TimeoutData{
			SessionID:   cs.Session.ID,
			Teacher:     cs.TeacherName,
			TeacherID:   cs.Session.TeacherID,
			Classroom:   cs.ClassroomName,
			ClassroomID: cs.Session.ClassroomID,
			TimeOut:     timeOut,
		},
	})
}
