package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/models"
)

// Sweeper periodically re-checks crawls enrolled in the finalize set. A
// crawl lands there when it approaches its page limit; if the last
// MarkPageDone lost the race against its own finalize attempt, the sweeper
// closes the crawl on the next tick.
type Sweeper struct {
	client   *redis.Client
	tracker  *Tracker
	jobs     JobStore
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper. interval <= 0 defaults to 30s.
func NewSweeper(client *redis.Client, tracker *Tracker, jobs JobStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		client:   client,
		tracker:  tracker,
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep walks the finalize set once. Already-finalized or cancelled members
// just get dropped; live ones get a finalize attempt against their limit.
func (s *Sweeper) Sweep(ctx context.Context) {
	jobIDs, err := s.client.SMembers(ctx, PendingFinalizeSet).Result()
	if err != nil {
		s.logger.Error("failed to read finalize set", "error", err)
		return
	}

	for _, jobID := range jobIDs {
		snap, err := s.tracker.Snapshot(ctx, jobID)
		if err != nil {
			s.logger.Warn("sweep snapshot failed", "job_id", jobID, "error", err)
			continue
		}
		if snap.Finalized || snap.Cancelled {
			s.client.SRem(ctx, PendingFinalizeSet, jobID)
			continue
		}

		job, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			s.logger.Warn("sweep job lookup failed", "job_id", jobID, "error", err)
			continue
		}
		if job == nil {
			s.client.SRem(ctx, PendingFinalizeSet, jobID)
			continue
		}

		seed, _ := models.ParseCrawlPayload(job.PayloadJSON)
		finalized, err := s.tracker.TryFinalize(ctx, jobID, job.QueueName, FinalizeOptions{
			Target: seed.Options.EffectiveLimit(0),
		})
		if err != nil {
			s.logger.Warn("sweep finalize failed", "job_id", jobID, "error", err)
			continue
		}
		if finalized {
			s.logger.Info("sweeper finalized crawl", "job_id", jobID)
		}
	}
}
