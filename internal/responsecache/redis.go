package responsecache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cache keys in a shared redis.
const KeyPrefix = "visitorstats:response:"

// Redis stores each entry as a hash with a native expiry, so entries are
// shared by every instance pointing at the same server.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Cache = (*Redis)(nil)

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, KeyPrefix+key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	body, ok := fields["body"]
	if !ok {
		return Entry{}, false, nil
	}

	entry := Entry{Body: []byte(body), ContentType: fields["content_type"]}
	if ms, err := strconv.ParseInt(fields["stored_at"], 10, 64); err == nil {
		entry.StoredAt = time.UnixMilli(ms).UTC()
	}
	return entry, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyPrefix+key)
		pipe.HSet(ctx, KeyPrefix+key,
			"body", entry.Body,
			"content_type", entry.ContentType,
			"stored_at", storedAt.UnixMilli(),
		)
		pipe.PExpire(ctx, KeyPrefix+key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
