// Package responsecache is a shared TTL cache for rendered responses, keyed
// by canonical request URL. Entries expire by elapsed time only; there is no
// explicit invalidation.
package responsecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"visitorstats/internal/config"
)

// Entry is a cached response.
type Entry struct {
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// Cache is implemented by every backend.
type Cache interface {
	// Get returns the entry for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	// Set stores entry for ttl, overwriting any previous value.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Close() error
}

// Clock returns the current time. Backends that can use it take one so
// freshness can be tested without sleeping.
type Clock func() time.Time

// New builds the backend selected by the configuration.
func New(cfg *config.Config, dbConn *gorm.DB, logger *slog.Logger) (Cache, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		logger.Info("Using redis response cache", slog.String("addr", opts.Addr))
		return NewRedis(redis.NewClient(opts), logger), nil
	default:
		logger.Info("Using database response cache")
		return NewDatabase(dbConn, logger, time.Now), nil
	}
}
