// Package ingestion turns one page hit into a raw visit event plus the
// matching counter updates.
package ingestion

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitorstats/internal/counters"
	"visitorstats/internal/paths"
	"visitorstats/internal/visitors"
	"visitorstats/internal/visits"
)

// ErrIngestionFailed wraps any store error raised while recording a visit.
var ErrIngestionFailed = errors.New("failed to record visit")

// VisitInput is what the tracking endpoint extracts from a request.
type VisitInput struct {
	Address   string
	UserAgent string
	Referer   string
	Country   string
	RawPath   string
	Timestamp time.Time
}

// VisitResult describes what a successful ingestion did.
type VisitResult struct {
	Path           string
	Fingerprint    string
	NewVisitor     bool
	ArticleCounted bool
}

// CollectVisit records one visit. The raw event, the unique visitor insert
// and the counter increments are written in one transaction, in that order,
// so a failure leaves no partial counters behind.
func CollectVisit(dbConn *gorm.DB, logger *slog.Logger, salt string, input VisitInput) (*VisitResult, error) {
	now := input.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	result := &VisitResult{
		Path:        paths.Normalize(input.RawPath),
		Fingerprint: visitors.Fingerprint(input.Address, salt),
	}
	result.ArticleCounted = paths.IsArticlePath(result.Path)

	visit := &visits.Visit{
		VisitTime: now.UnixMilli(),
		PagePath:  result.Path,
		IPHash:    result.Fingerprint,
		UserAgent: truncate(input.UserAgent, visits.MaxUserAgentLength),
		Referer:   truncate(input.Referer, visits.MaxRefererLength),
		Country:   input.Country,
	}

	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		if err := visits.Append(tx, visit); err != nil {
			return err
		}

		inserted, err := counters.InsertUniqueIfAbsent(tx, result.Fingerprint, now)
		if err != nil {
			return err
		}
		uniqueDelta := 0
		if inserted {
			uniqueDelta = 1
		}

		if err := counters.IncrementGlobal(tx, uniqueDelta, now); err != nil {
			return err
		}

		if result.ArticleCounted {
			if err := counters.UpsertPageStats(tx, result.Path, now); err != nil {
				return err
			}
		}

		result.NewVisitor = inserted
		return nil
	})
	if err != nil {
		logger.Error("Failed to record visit",
			slog.String("path", result.Path),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrIngestionFailed, err)
	}

	logger.Debug("Visit recorded",
		slog.String("path", result.Path),
		slog.Bool("new_visitor", result.NewVisitor),
		slog.Bool("article", result.ArticleCounted))
	return result, nil
}

// truncate cuts s to at most limit characters without splitting a rune.
func truncate(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
