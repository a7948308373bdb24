package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"visitorstats/internal/visits"
)

// Defaults for the retention purge.
const (
	DefaultRetentionBatchSize = 1000
	DefaultRetentionPause     = 100 * time.Millisecond
)

// RetentionJob deletes raw visits older than the retention period. It never
// touches the unique visitor set or the running counters.
type RetentionJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	retention time.Duration

	BatchSize  int
	BatchPause time.Duration
	Now        func() time.Time
}

func NewRetentionJob(dbManager cartridge.DBManager, logger *slog.Logger, retention time.Duration) *RetentionJob {
	return &RetentionJob{
		dbManager:  dbManager,
		logger:     logger,
		retention:  retention,
		BatchSize:  DefaultRetentionBatchSize,
		BatchPause: DefaultRetentionPause,
		Now:        time.Now,
	}
}

// Cutoff returns the instant before which visits are purged.
func (j *RetentionJob) Cutoff() time.Time {
	return j.Now().Add(-j.retention)
}

// Run purges expired visits.
func (j *RetentionJob) Run() error {
	_, err := j.Sweep()
	return err
}

// Sweep purges expired visits in batches and reports how many were removed.
// Zero matching rows is not an error.
func (j *RetentionJob) Sweep() (int64, error) {
	db := j.dbManager.GetConnection()
	cutoff := j.Cutoff()

	j.logger.Info("Starting retention purge of old visits",
		slog.Duration("retention", j.retention),
		slog.Time("cutoff", cutoff))

	// Count visits to be deleted first
	countToDelete, err := visits.CountOlderThan(db, cutoff)
	if err != nil {
		j.logger.Error("Failed to count old visits", slog.Any("error", err))
		return 0, err
	}

	if countToDelete == 0 {
		j.logger.Debug("No old visits to purge")
		return 0, nil
	}

	// Delete in batches to avoid locking the database for too long
	totalDeleted := int64(0)
	for {
		deleted, err := visits.PurgeOlderThan(db, cutoff, j.BatchSize)
		if err != nil {
			j.logger.Error("Failed to delete old visits",
				slog.Any("error", err),
				slog.Int64("deleted_so_far", totalDeleted))
			return totalDeleted, err
		}

		totalDeleted += deleted

		if deleted < int64(j.BatchSize) {
			break
		}

		time.Sleep(j.BatchPause)
	}

	j.logger.Info("Purged old visits",
		slog.Int64("deleted_count", totalDeleted),
		slog.Time("cutoff", cutoff))

	return totalDeleted, nil
}
