// Package seeder fills a development database with plausible traffic.
// Every visit goes through the regular ingestion path, so the counters and
// the raw events stay consistent with each other.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"

	"visitorstats/internal/ingestion"
	"visitorstats/internal/settings"
)

// DefaultOrigin is allowed when the allow-list is still empty.
const DefaultOrigin = "http://localhost:3000"

// Seeder handles the data seeding process
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	Salt       string
	VisitCount int
	Days       int
	Now        func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, salt string, visitCount, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if days <= 0 {
		days = 1
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		Salt:       salt,
		VisitCount: visitCount,
		Days:       days,
		Now:        time.Now,
	}
}

// Run allows DefaultOrigin if no origin is configured yet and then records
// VisitCount visits spread over the last Days days.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("visitCount", s.VisitCount), slog.Int("days", s.Days))

	if err := s.seedOrigins(); err != nil {
		return fmt.Errorf("failed to seed origins: %w", err)
	}

	created, err := s.generateVisits(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate visits: %w", err)
	}

	s.Logger.Info("Seeding completed successfully", slog.Int("visits", created), slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedOrigins() error {
	db := s.DBManager.GetConnection()

	origins, err := settings.GetAllowedOrigins(db)
	if err != nil {
		return err
	}
	if len(origins) > 0 {
		return nil
	}

	s.Logger.Info("Allowing default origin", slog.String("origin", DefaultOrigin))
	return settings.SaveAllowedOrigins(s.Logger, db, []string{DefaultOrigin})
}

// generateVisits replays journeys from a fixed visitor pool so repeat
// visitors show up in the unique counts.
func (s *Seeder) generateVisits(ctx context.Context) (int, error) {
	db := s.DBManager.GetConnection()
	ipPool := generateIPPool(max(s.VisitCount/10, 1))
	userAgents := getUserAgents()
	referrers := getReferrers()
	countries := []string{"US", "DE", "GB", "FR", "ES", "BR", "IN", "JP", ""}

	journeyTemplates := [][]string{
		{"/", "/post/hello-world"},
		{"/", "/about"},
		{"/posts/go-concurrency", "/post/hello-world", "/"},
		{"/post/sqlite-in-production"},
		{"/", "/posts/go-concurrency", "/about"},
		{"/tags/go", "/post/sqlite-in-production", "/posts/go-concurrency"},
	}

	now := s.Now()
	window := time.Duration(s.Days) * 24 * time.Hour
	created := 0

	for created < s.VisitCount {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		address := ipPool[rand.IntN(len(ipPool))]
		userAgent := userAgents[rand.IntN(len(userAgents))]
		referer := referrers[rand.IntN(len(referrers))]
		country := countries[rand.IntN(len(countries))]
		journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
		at := now.Add(-time.Duration(rand.Int64N(int64(window))))

		for _, path := range journey {
			if created >= s.VisitCount {
				break
			}
			_, err := ingestion.CollectVisit(db, s.Logger, s.Salt, ingestion.VisitInput{
				Address:   address,
				UserAgent: userAgent,
				Referer:   referer,
				Country:   country,
				RawPath:   path,
				Timestamp: at,
			})
			if err != nil {
				return created, err
			}
			created++
			at = at.Add(time.Duration(rand.IntN(120)+5) * time.Second)
			if at.After(now) {
				at = now
			}
			referer = DefaultOrigin + path
		}

		if created%1000 == 0 {
			s.Logger.Info("Seeding progress", slog.Int("visits", created))
		}
	}

	return created, nil
}

// generateIPPool returns count distinct public-looking IPv4 addresses
func generateIPPool(count int) []string {
	ipPool := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if !ipPool[ip] {
			ipPool[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns a list of common user agent strings
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"",
	}
}

// getReferrers returns a list of common referrers, empty meaning direct
func getReferrers() []string {
	return []string{
		"",
		"https://google.com/",
		"https://duckduckgo.com/",
		"https://news.ycombinator.com/",
		"https://github.com/",
	}
}
