package responsecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// CacheEntry is the backing row of the database backend.
type CacheEntry struct {
	Key         string `gorm:"primaryKey"`
	Body        []byte `gorm:"not null"`
	ContentType string
	StoredAt    int64 `gorm:"not null"`       // unix millis
	ExpiresAt   int64 `gorm:"not null;index"` // unix millis
}

func (CacheEntry) TableName() string {
	return "response_cache"
}

// Database stores entries in the response_cache table.
type Database struct {
	dbConn *gorm.DB
	logger *slog.Logger
	now    Clock
}

var _ Cache = (*Database)(nil)

// NewDatabase creates the database backend. A nil clock means time.Now.
func NewDatabase(dbConn *gorm.DB, logger *slog.Logger, now Clock) *Database {
	if now == nil {
		now = time.Now
	}
	return &Database{dbConn: dbConn, logger: logger, now: now}
}

func (d *Database) Get(ctx context.Context, key string) (Entry, bool, error) {
	var row CacheEntry
	err := d.dbConn.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, d.now().UnixMilli()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return Entry{
		Body:        row.Body,
		ContentType: row.ContentType,
		StoredAt:    time.UnixMilli(row.StoredAt).UTC(),
	}, true, nil
}

func (d *Database) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = d.now()
	}
	expiresAt := d.now().Add(ttl).UnixMilli()

	return sqlite.PerformWrite(d.logger, d.dbConn.WithContext(ctx), func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO response_cache (key, body, content_type, stored_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				body = excluded.body,
				content_type = excluded.content_type,
				stored_at = excluded.stored_at,
				expires_at = excluded.expires_at
		`, key, entry.Body, entry.ContentType, storedAt.UnixMilli(), expiresAt).Error
		if err != nil {
			return fmt.Errorf("failed to write cache entry: %w", err)
		}
		return nil
	})
}

// PurgeExpired deletes entries past their expiry and reports how many.
func (d *Database) PurgeExpired(ctx context.Context) (int64, error) {
	result := d.dbConn.WithContext(ctx).
		Where("expires_at <= ?", d.now().UnixMilli()).
		Delete(&CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close is a no-op; the connection belongs to the database manager.
func (d *Database) Close() error {
	return nil
}
