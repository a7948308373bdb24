package jobs

import (
	"context"
	"log/slog"
	"time"

	"visitorstats/internal/responsecache"
)

// CacheJanitorJob removes expired rows from the database response cache.
// Expired rows are already ignored on read; this only reclaims space.
type CacheJanitorJob struct {
	cache   *responsecache.Database
	logger  *slog.Logger
	timeout time.Duration
}

func NewCacheJanitorJob(cache *responsecache.Database, logger *slog.Logger) *CacheJanitorJob {
	return &CacheJanitorJob{cache: cache, logger: logger, timeout: 30 * time.Second}
}

func (j *CacheJanitorJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	purged, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		j.logger.Debug("Purged expired cache entries", slog.Int64("count", purged))
	}
	return nil
}
