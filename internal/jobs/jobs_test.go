package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitorstats/internal/config"
	"visitorstats/internal/counters"
	"visitorstats/internal/ingestion"
	"visitorstats/internal/jobs"
	"visitorstats/internal/responsecache"
	"visitorstats/internal/testsupport"
	"visitorstats/internal/visits"
)

func insertVisit(t *testing.T, db *gorm.DB, at time.Time, path string) {
	t.Helper()
	require.NoError(t, visits.Append(db, &visits.Visit{VisitTime: at.UnixMilli(), PagePath: path, IPHash: "0123456789abcdef"}))
}

func TestRetentionJob(t *testing.T) {
	now := time.Date(2024, 8, 1, 3, 0, 0, 0, time.UTC)
	retention := 90 * 24 * time.Hour

	newJob := func(t *testing.T) (*jobs.RetentionJob, *gorm.DB) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		job := jobs.NewRetentionJob(dbManager, logger, retention)
		job.Now = func() time.Time { return now }
		job.BatchPause = 0
		return job, db
	}

	t.Run("purges just past the cutoff and keeps just inside it", func(t *testing.T) {
		job, db := newJob(t)
		cutoff := job.Cutoff()
		assert.Equal(t, now.Add(-retention), cutoff)

		insertVisit(t, db, cutoff.Add(-time.Millisecond), "/old")
		insertVisit(t, db, cutoff, "/edge")
		insertVisit(t, db, cutoff.Add(time.Millisecond), "/new")

		deleted, err := job.Sweep()
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		var remaining []visits.Visit
		require.NoError(t, db.Order("visit_time").Find(&remaining).Error)
		require.Len(t, remaining, 2)
		assert.Equal(t, "/edge", remaining[0].PagePath)
		assert.Equal(t, "/new", remaining[1].PagePath)
	})

	t.Run("never alters counters", func(t *testing.T) {
		job, db := newJob(t)
		logger := testsupport.GetLogger()

		_, err := ingestion.CollectVisit(db, logger, "salt", ingestion.VisitInput{
			Address: "1.2.3.4", RawPath: "/post/old", Timestamp: now.Add(-100 * 24 * time.Hour),
		})
		require.NoError(t, err)

		before, err := counters.GetGlobalStats(db)
		require.NoError(t, err)
		page, err := counters.GetPageStats(db, "/post/old")
		require.NoError(t, err)

		require.NoError(t, job.Run())

		count, err := visits.CountVisits(db, visits.Filter{})
		require.NoError(t, err)
		assert.Zero(t, count)

		after, err := counters.GetGlobalStats(db)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		pageAfter, err := counters.GetPageStats(db, "/post/old")
		require.NoError(t, err)
		assert.Equal(t, page, pageAfter)

		unique, err := counters.CountUniqueVisitors(db)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unique)
	})

	t.Run("deletes in batches", func(t *testing.T) {
		job, db := newJob(t)
		job.BatchSize = 3

		for i := 0; i < 7; i++ {
			insertVisit(t, db, now.Add(-100*24*time.Hour).Add(time.Duration(i)*time.Second), "/old")
		}
		insertVisit(t, db, now, "/new")

		deleted, err := job.Sweep()
		require.NoError(t, err)
		assert.Equal(t, int64(7), deleted)

		count, err := visits.CountVisits(db, visits.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("is not an error when nothing matches", func(t *testing.T) {
		job, db := newJob(t)
		insertVisit(t, db, now, "/new")

		deleted, err := job.Sweep()
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestCacheJanitorJob(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	logger := testsupport.GetLogger()

	current := time.Date(2024, 8, 1, 3, 0, 0, 0, time.UTC)
	cache := responsecache.NewDatabase(db, logger, func() time.Time { return current })
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "expired", responsecache.Entry{Body: []byte("a")}, time.Second))
	require.NoError(t, cache.Set(ctx, "fresh", responsecache.Entry{Body: []byte("b")}, time.Hour))

	current = current.Add(time.Minute)
	require.NoError(t, jobs.NewCacheJanitorJob(cache, logger).Run())

	var keys []string
	require.NoError(t, db.Model(&responsecache.CacheEntry{}).Pluck("key", &keys).Error)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestScheduler(t *testing.T) {
	t.Run("runs the retention purge on start", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		cfg := *config.GetConfig()
		cfg.RetentionDays = 90
		cfg.RetentionIntervalHours = 24
		cfg.CacheJanitorIntervalSeconds = 300

		insertVisit(t, db, time.Now().Add(-91*24*time.Hour), "/old")
		insertVisit(t, db, time.Now(), "/new")

		scheduler := jobs.NewScheduler(dbManager, logger, &cfg, responsecache.NewDatabase(db, logger, nil))
		require.NoError(t, scheduler.Start())
		defer scheduler.Stop()
		assert.True(t, scheduler.IsRunning())

		require.Eventually(t, func() bool {
			count, err := visits.CountVisits(db, visits.Filter{})
			return err == nil && count == 1
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("stops cleanly", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		cfg := *config.GetConfig()

		scheduler := jobs.NewScheduler(dbManager, logger, &cfg, nil)
		require.NoError(t, scheduler.Start())
		scheduler.Stop()
		assert.False(t, scheduler.IsRunning())
	})
}
