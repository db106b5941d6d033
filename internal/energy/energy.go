// Package energy is the secondary ingestion path: every accepted power
// reading is appended to the store and fanned out as a power_update. No
// aggregation or rate limiting happens here; devices are trusted to
// self-throttle.
package energy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/store"
)

// PowerData is the payload of a power_update broadcast.
type PowerData struct {
	ClassroomID int64   `json:"classroom_id"`
	Watts       float64 `json:"watts"`
	Timestamp   string  `json:"timestamp"`
}

// Service appends readings and keeps the latest-power cache warm.
type Service struct {
	store  store.EnergyStore
	cache  *store.Redis
	logger *zap.Logger
}

// NewService creates the energy path. cache may be nil; the snapshot then
// always reads the database.
func NewService(st store.EnergyStore, cache *store.Redis, logger *zap.Logger) *Service {
	return &Service{store: st, cache: cache, logger: logger}
}

// Record appends one reading and returns the broadcast payload. The cache
// refresh is best-effort; only the append can fail the call.
func (s *Service) Record(ctx context.Context, classroomID int64, watts float64, ts time.Time) (PowerData, error) {
	reading := model.EnergyReading{ClassroomID: classroomID, Watts: watts, Timestamp: ts}
	if err := s.store.InsertReading(ctx, reading); err != nil {
		return PowerData{}, err
	}
	metrics.EnergyReadingsTotal.Inc()

	if err := s.cache.SetLatestPower(ctx, classroomID, watts, ts); err != nil {
		s.logger.Warn("power cache refresh failed", zap.Int64("classroom_id", classroomID), zap.Error(err))
	}

	return PowerData{
		ClassroomID: classroomID,
		Watts:       watts,
		Timestamp:   ts.Format(time.RFC3339),
	}, nil
}

// LatestCached returns the cached newest reading for a classroom, ok=false
// on a miss.
func (s *Service) LatestCached(ctx context.Context, classroomID int64) (watts float64, ts time.Time, ok bool) {
	return s.cache.LatestPower(ctx, classroomID)
}
