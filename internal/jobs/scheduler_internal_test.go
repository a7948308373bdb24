package jobs

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return &Scheduler{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		processing: make(map[string]bool),
	}
}

func TestExecuteJobSafely(t *testing.T) {
	t.Run("a running job does not block a different job", func(t *testing.T) {
		s := newTestScheduler()
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})

		go func() {
			defer close(done)
			s.executeJobSafely("cache_janitor", func() error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		var retentionRuns atomic.Int32
		s.executeJobSafely("retention", func() error {
			retentionRuns.Add(1)
			return nil
		})
		assert.Equal(t, int32(1), retentionRuns.Load())

		close(release)
		<-done
	})

	t.Run("an overlapping run of the same job is skipped", func(t *testing.T) {
		s := newTestScheduler()
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})

		go func() {
			defer close(done)
			s.executeJobSafely("retention", func() error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		var overlapping atomic.Int32
		s.executeJobSafely("retention", func() error {
			overlapping.Add(1)
			return nil
		})
		assert.Zero(t, overlapping.Load())

		close(release)
		<-done

		s.executeJobSafely("retention", func() error {
			overlapping.Add(1)
			return nil
		})
		assert.Equal(t, int32(1), overlapping.Load(), "the guard is released after the run")
	})

	t.Run("a panic releases the guard", func(t *testing.T) {
		s := newTestScheduler()

		s.executeJobSafely("retention", func() error { panic("boom") })

		ran := false
		s.executeJobSafely("retention", func() error {
			ran = true
			return nil
		})
		require.True(t, ran)
	})
}
