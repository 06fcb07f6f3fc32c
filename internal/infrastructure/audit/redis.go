package audit

import (
	"context"
	"time"

	"attack-graph/internal/domain/models"
	"attack-graph/internal/infrastructure/cache"
)

// jsonStore is the part of cache.RedisCache the recorder needs
type jsonStore interface {
	SetJSON(ctx context.Context, value any, ttl time.Duration, keys ...string) error
}

var _ jsonStore = (*cache.RedisCache)(nil)

// RedisRecorder keeps each report under run:<id> and the latest one under
// run:last
type RedisRecorder struct {
	store jsonStore
	ttl   time.Duration
}

// NewRedisRecorder creates a recorder; a zero ttl keeps reports forever
func NewRedisRecorder(store *cache.RedisCache, ttl time.Duration) *RedisRecorder {
	return &RedisRecorder{store: store, ttl: ttl}
}

func (r *RedisRecorder) Name() string { return "redis" }

func (r *RedisRecorder) Record(ctx context.Context, report *models.RunReport) error {
	return r.store.SetJSON(ctx, report, r.ttl, cache.RunKey(report.ID.String()), cache.KeyLastRun)
}
