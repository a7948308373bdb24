// Package visits stores raw visit events and answers ad-hoc counts over them.
package visits

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field limits applied before a visit is stored.
const (
	MaxUserAgentLength = 1000
	MaxRefererLength   = 500
)

// Visit is one raw page hit. Rows are append-only and only ever removed by
// the retention purge.
type Visit struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	VisitTime int64  `gorm:"not null;index"` // unix millis
	PagePath  string `gorm:"not null;index"`
	IPHash    string `gorm:"column:ip_hash;size:16;not null;index"`
	UserAgent string `gorm:"size:1000"`
	Referer   string `gorm:"size:500"`
	Country   string
}

// Filter narrows CountVisits and CountDistinctVisitors.
// A nil Since and an empty Path mean no restriction.
type Filter struct {
	Since *time.Time
	Path  string
}

// Append inserts a visit event.
func Append(dbConn *gorm.DB, visit *Visit) error {
	if err := dbConn.Create(visit).Error; err != nil {
		return fmt.Errorf("failed to append visit: %w", err)
	}
	return nil
}

func filtered(dbConn *gorm.DB, filter Filter) *gorm.DB {
	query := dbConn.Model(&Visit{})
	if filter.Since != nil {
		query = query.Where("visit_time > ?", filter.Since.UnixMilli())
	}
	if filter.Path != "" {
		query = query.Where("page_path = ?", filter.Path)
	}
	return query
}

// CountVisits counts raw events matching the filter.
func CountVisits(dbConn *gorm.DB, filter Filter) (int64, error) {
	var count int64
	if err := filtered(dbConn, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return count, nil
}

// CountDistinctVisitors counts distinct fingerprints among raw events
// matching the filter.
func CountDistinctVisitors(dbConn *gorm.DB, filter Filter) (int64, error) {
	var count int64
	if err := filtered(dbConn, filter).Distinct("ip_hash").Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count distinct visitors: %w", err)
	}
	return count, nil
}

// CountOlderThan counts events a purge with the same cutoff would delete.
func CountOlderThan(dbConn *gorm.DB, cutoff time.Time) (int64, error) {
	var count int64
	err := dbConn.Model(&Visit{}).Where("visit_time < ?", cutoff.UnixMilli()).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count expired visits: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes at most batchSize events with visit_time strictly
// before cutoff and reports how many were removed.
func PurgeOlderThan(dbConn *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	result := dbConn.Exec(
		`DELETE FROM visits WHERE id IN (SELECT id FROM visits WHERE visit_time < ? LIMIT ?)`,
		cutoff.UnixMilli(), batchSize,
	)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge visits: %w", result.Error)
	}
	return result.RowsAffected, nil
}
