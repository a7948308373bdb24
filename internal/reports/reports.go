// Package reports answers the read-only aggregate queries.
//
// Page and site snapshots come from the running counters. Realtime windows
// are counted on demand from raw visits, so after a retention purge they
// can be lower than the lifetime counters.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"visitorstats/internal/counters"
	"visitorstats/internal/paths"
	"visitorstats/internal/pkg/async"
	"visitorstats/internal/visits"
)

// ErrInvalidPath is returned for page queries on non-article paths.
var ErrInvalidPath = errors.New("path must be an article path like /post/<slug> or /posts/<slug>")

// Periods accepted by Realtime.
const (
	PeriodToday = "today"
	PeriodAll   = "all"
)

// PageReport is the per-article snapshot.
type PageReport struct {
	Path               string `json:"path"`
	ArticleTotal       int64  `json:"articleTotal"`
	ArticleLastUpdated *int64 `json:"articleLastUpdated"`
	SiteTotal          int64  `json:"siteTotal"`
	SiteUnique         int64  `json:"siteUnique"`
	SiteLastUpdated    *int64 `json:"siteLastUpdated"`
}

// SiteReport is the site-wide snapshot.
type SiteReport struct {
	SiteTotal       int64  `json:"siteTotal"`
	SiteUnique      int64  `json:"siteUnique"`
	SiteLastUpdated *int64 `json:"siteLastUpdated"`
}

// RealtimeQuery selects a window over raw visits. Now and Location default
// to time.Now and time.Local.
type RealtimeQuery struct {
	Period   string
	Path     string
	Now      time.Time
	Location *time.Location
}

// RealtimeReport counts raw visits in a window.
type RealtimeReport struct {
	Total  int64  `json:"total"`
	Unique int64  `json:"unique"`
	Period string `json:"period"`
	Path   string `json:"path,omitempty"`
}

// PageSnapshot validates rawPath and returns its counters with the site
// totals. Non-article paths fail with ErrInvalidPath before any read.
func PageSnapshot(dbConn *gorm.DB, rawPath string) (*PageReport, error) {
	path := paths.Normalize(rawPath)
	if !paths.IsArticlePath(path) {
		return nil, ErrInvalidPath
	}

	page, err := counters.GetPageStats(dbConn, path)
	if err != nil {
		return nil, err
	}
	site, err := counters.GetGlobalStats(dbConn)
	if err != nil {
		return nil, err
	}

	return &PageReport{
		Path:               path,
		ArticleTotal:       page.TotalVisits,
		ArticleLastUpdated: toMillis(page.LastUpdated),
		SiteTotal:          site.TotalVisits,
		SiteUnique:         site.TotalUniqueVisitors,
		SiteLastUpdated:    toMillis(site.LastUpdated),
	}, nil
}

// SiteSnapshot returns the lifetime site counters.
func SiteSnapshot(dbConn *gorm.DB) (*SiteReport, error) {
	site, err := counters.GetGlobalStats(dbConn)
	if err != nil {
		return nil, err
	}
	return &SiteReport{
		SiteTotal:       site.TotalVisits,
		SiteUnique:      site.TotalUniqueVisitors,
		SiteLastUpdated: toMillis(site.LastUpdated),
	}, nil
}

// NormalizePeriod maps anything other than "all" to "today".
func NormalizePeriod(period string) string {
	if period == PeriodAll {
		return PeriodAll
	}
	return PeriodToday
}

// StartOfDay returns local midnight of now in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Realtime counts visits and distinct visitors in the requested window.
// "today" includes events strictly after local midnight.
func Realtime(ctx context.Context, dbConn *gorm.DB, query RealtimeQuery) (*RealtimeReport, error) {
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := query.Location
	if loc == nil {
		loc = time.Local
	}

	report := &RealtimeReport{Period: NormalizePeriod(query.Period)}
	filter := visits.Filter{}
	if report.Period == PeriodToday {
		since := StartOfDay(now, loc)
		filter.Since = &since
	}
	if query.Path != "" {
		filter.Path = paths.Normalize(query.Path)
		report.Path = filter.Path
	}

	db := dbConn.WithContext(ctx)
	pool := async.NewPool(2)
	results := pool.Execute(ctx, []async.Task{
		{Name: "total", Execute: func() (any, error) { return visits.CountVisits(db, filter) }},
		{Name: "unique", Execute: func() (any, error) { return visits.CountDistinctVisitors(db, filter) }},
	})

	for _, name := range []string{"total", "unique"} {
		result, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("realtime %s count did not complete: %w", name, ctx.Err())
		}
		if result.Err != nil {
			return nil, result.Err
		}
	}

	report.Total = results["total"].Data.(int64)
	report.Unique = results["unique"].Data.(int64)
	return report, nil
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
