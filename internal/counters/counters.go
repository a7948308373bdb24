// Package counters holds the running totals: the unique visitor set, the
// per-article counters and the site-wide singleton row. Every write is a
// single statement so concurrent hits never lose an update.
package counters

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GlobalStatsID is the primary key of the singleton site-wide row.
const GlobalStatsID = 1

// UniqueVisitor records the first time a fingerprint was seen.
type UniqueVisitor struct {
	IPHash    string `gorm:"column:ip_hash;primaryKey;size:16"`
	FirstSeen int64  `gorm:"not null"` // unix millis
}

// PageStats is the running visit counter of one article path.
type PageStats struct {
	PagePath    string `gorm:"primaryKey"`
	TotalVisits int64  `gorm:"not null;default:0"`
	LastUpdated int64  `gorm:"not null"` // unix millis
}

// TableName overrides the table name used by GORM.
func (PageStats) TableName() string {
	return "page_stats"
}

// GlobalStats is the site-wide singleton row.
type GlobalStats struct {
	ID                  uint  `gorm:"primaryKey"`
	TotalVisits         int64 `gorm:"not null;default:0"`
	TotalUniqueVisitors int64 `gorm:"not null;default:0"`
	LastUpdated         int64 // unix millis, zero until the first visit
}

func (GlobalStats) TableName() string {
	return "global_stats"
}

// PageSnapshot is the read view of PageStats. Found is false when the path
// has never been counted; the counters are zero in that case.
type PageSnapshot struct {
	Path        string
	TotalVisits int64
	LastUpdated *time.Time
	Found       bool
}

// GlobalSnapshot is the read view of GlobalStats.
type GlobalSnapshot struct {
	TotalVisits         int64
	TotalUniqueVisitors int64
	LastUpdated         *time.Time
	Found               bool
}

// Bootstrap creates the singleton global row if it is missing.
func Bootstrap(dbConn *gorm.DB) error {
	row := GlobalStats{ID: GlobalStatsID}
	if err := dbConn.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to bootstrap global stats: %w", err)
	}
	return nil
}

// InsertUniqueIfAbsent registers a fingerprint and reports whether this call
// was the first to do so. A duplicate is the common case and not an error;
// the stored first-seen time is never overwritten.
func InsertUniqueIfAbsent(dbConn *gorm.DB, hash string, firstSeenAt time.Time) (bool, error) {
	result := dbConn.Exec(
		`INSERT INTO unique_visitors (ip_hash, first_seen) VALUES (?, ?) ON CONFLICT(ip_hash) DO NOTHING`,
		hash, firstSeenAt.UnixMilli(),
	)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert unique visitor: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// IncrementGlobal adds one visit and uniqueDelta unique visitors to the
// singleton row as a relative increment.
func IncrementGlobal(dbConn *gorm.DB, uniqueDelta int, now time.Time) error {
	err := dbConn.Exec(`
		INSERT INTO global_stats (id, total_visits, total_unique_visitors, last_updated)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_visits = global_stats.total_visits + 1,
			total_unique_visitors = global_stats.total_unique_visitors + excluded.total_unique_visitors,
			last_updated = excluded.last_updated
	`, GlobalStatsID, uniqueDelta, now.UnixMilli()).Error
	if err != nil {
		return fmt.Errorf("failed to increment global stats: %w", err)
	}
	return nil
}

// UpsertPageStats creates the counter for path at 1 or increments it.
func UpsertPageStats(dbConn *gorm.DB, path string, now time.Time) error {
	err := dbConn.Exec(`
		INSERT INTO page_stats (page_path, total_visits, last_updated)
		VALUES (?, 1, ?)
		ON CONFLICT(page_path) DO UPDATE SET
			total_visits = page_stats.total_visits + 1,
			last_updated = excluded.last_updated
	`, path, now.UnixMilli()).Error
	if err != nil {
		return fmt.Errorf("failed to upsert page stats: %w", err)
	}
	return nil
}

// GetPageStats returns the counter of path, zero-filled when absent.
func GetPageStats(dbConn *gorm.DB, path string) (PageSnapshot, error) {
	snapshot := PageSnapshot{Path: path}

	var row PageStats
	err := dbConn.Where("page_path = ?", path).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return snapshot, fmt.Errorf("failed to load page stats: %w", err)
	}

	snapshot.TotalVisits = row.TotalVisits
	snapshot.LastUpdated = millisToTime(row.LastUpdated)
	snapshot.Found = true
	return snapshot, nil
}

// GetGlobalStats returns the singleton row, zero-filled when absent.
func GetGlobalStats(dbConn *gorm.DB) (GlobalSnapshot, error) {
	var snapshot GlobalSnapshot

	var row GlobalStats
	err := dbConn.Where("id = ?", GlobalStatsID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return snapshot, fmt.Errorf("failed to load global stats: %w", err)
	}

	snapshot.TotalVisits = row.TotalVisits
	snapshot.TotalUniqueVisitors = row.TotalUniqueVisitors
	snapshot.LastUpdated = millisToTime(row.LastUpdated)
	snapshot.Found = true
	return snapshot, nil
}

// CountUniqueVisitors returns the size of the unique visitor set.
func CountUniqueVisitors(dbConn *gorm.DB) (int64, error) {
	var count int64
	if err := dbConn.Model(&UniqueVisitor{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unique visitors: %w", err)
	}
	return count, nil
}

func millisToTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
