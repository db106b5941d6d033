package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// powerCacheTTL bounds how long a cached reading is served once a device
// goes quiet; the snapshot falls back to the database afterwards.
const powerCacheTTL = 10 * time.Minute

// Redis wraps the redis client used for health probes and the
// latest-power-per-classroom cache.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

type cachedPower struct {
	Watts     float64   `json:"watts"`
	Timestamp time.Time `json:"timestamp"`
}

func powerKey(classroomID int64) string {
	return fmt.Sprintf("classtrack:power:%d", classroomID)
}

// SetLatestPower caches a classroom's newest reading. Cache failures are
// returned for logging only; the reading is already persisted.
func (r *Redis) SetLatestPower(ctx context.Context, classroomID int64, watts float64, ts time.Time) error {
	if r == nil || r.Client == nil {
		return nil
	}
	payload, err := json.Marshal(cachedPower{Watts: watts, Timestamp: ts})
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, powerKey(classroomID), payload, powerCacheTTL).Err()
}

// LatestPower returns the cached reading for a classroom, or ok=false on a
// miss or any redis failure.
func (r *Redis) LatestPower(ctx context.Context, classroomID int64) (watts float64, ts time.Time, ok bool) {
	if r == nil || r.Client == nil {
		return 0, time.Time{}, false
	}
	payload, err := r.Client.Get(ctx, powerKey(classroomID)).Bytes()
	if err != nil {
		return 0, time.Time{}, false
	}
	var cached cachedPower
	if err := json.Unmarshal(payload, &cached); err != nil {
		return 0, time.Time{}, false
	}
	return cached.Watts, cached.Timestamp, true
}
