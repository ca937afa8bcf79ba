package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

type audienceStore interface {
	Members(ctx context.Context, key string) ([]int64, error)
	Store(ctx context.Context, key string, ids []int64, ttl time.Duration) error
}

// CacheService fronts the audience store with hit and miss metrics. Store
// failures are logged and never reach callers.
type CacheService struct {
	store   audienceStore
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(store audienceStore, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.store != nil
}

// Lookup returns the cached audience under key and whether it was found.
func (s *CacheService) Lookup(ctx context.Context, key string) ([]int64, bool) {
	if !s.Enabled() {
		return nil, false
	}
	start := time.Now()
	ids, err := s.store.Members(ctx, key)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("audience cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return ids, true
}

// Remember caches an audience for the configured TTL.
func (s *CacheService) Remember(ctx context.Context, key string, ids []int64) {
	if !s.Enabled() {
		return
	}
	start := time.Now()
	err := s.store.Store(ctx, key, ids, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("audience cache write failed", zap.String("key", key), zap.Error(err))
	}
}
