package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"visitorstats/internal/config"
	"visitorstats/internal/responsecache"
)

// Scheduler runs the retention purge and the cache janitor in the
// background. It implements cartridge.BackgroundWorker.
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool

	// Guards against overlapping runs of the same job
	processingMutex sync.Mutex
	processing      map[string]bool

	retentionJob      *RetentionJob
	retentionInterval time.Duration

	janitorJob      *CacheJanitorJob
	janitorInterval time.Duration
}

// NewScheduler wires the jobs from the configuration. The janitor only runs
// when cache is the database backend.
func NewScheduler(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config, cache responsecache.Cache) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
		processing:        make(map[string]bool),
		retentionJob:      NewRetentionJob(dbManager, logger, cfg.RetentionPeriod()),
		retentionInterval: time.Duration(cfg.RetentionIntervalHours) * time.Hour,
		janitorInterval:   time.Duration(cfg.CacheJanitorIntervalSeconds) * time.Second,
	}

	if dbCache, ok := cache.(*responsecache.Database); ok {
		s.janitorJob = NewCacheJanitorJob(dbCache, logger)
	}

	return s
}

// RetentionJob exposes the purge job for manual runs.
func (s *Scheduler) RetentionJob() *RetentionJob {
	return s.retentionJob
}

// executeJobSafely runs a job unless a previous run of the same job is still
// executing. Different jobs never block each other.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still active", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		delete(s.processing, jobName)
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	s.startJob("retention", s.retentionInterval, true, s.retentionJob.Run)
	if s.janitorJob != nil && s.janitorInterval > 0 {
		s.startJob("cache_janitor", s.janitorInterval, false, s.janitorJob.Run)
	}

	s.logger.Info("Background jobs started")
	return nil
}

func (s *Scheduler) startJob(name string, interval time.Duration, runNow bool, run func() error) {
	if interval <= 0 {
		s.logger.Warn("Job disabled by non-positive interval", slog.String("job", name))
		return
	}
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		if runNow {
			s.executeJobSafely(name, run)
		}

		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(name, run)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
