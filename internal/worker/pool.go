// Package worker consumes the engine-specific job queues. Each registered
// queue gets its own set of consumer goroutines; the per-job active lock
// guarantees at most one handler per job id across the fleet.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/queue"
)

// Handler processes one queue entry. A nil return acks the entry; an error
// schedules a retry until the attempt budget runs out.
type Handler func(ctx context.Context, entry *queue.Job) error

// FailureFunc is called once when an entry exhausts its retries. The pool
// acks the entry afterwards regardless.
type FailureFunc func(ctx context.Context, entry *queue.Job, cause error)

// Config holds worker pool configuration.
type Config struct {
	// Concurrency is the number of consumer goroutines per queue.
	Concurrency int
	// PopTimeout bounds each blocking pop so shutdown is prompt.
	PopTimeout time.Duration
	// PromoteInterval is how often delayed entries are checked for promotion.
	PromoteInterval time.Duration
	// RequeueDelay is applied when a consumer loses the active-lock race.
	RequeueDelay time.Duration
}

// Pool runs handlers against named queues.
type Pool struct {
	queues    *queue.Registry
	cfg       Config
	onFailure FailureFunc
	logger    *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker pool. onFailure may be nil.
func New(queues *queue.Registry, cfg Config, onFailure FailureFunc, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 5 * time.Second
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queues:    queues,
		cfg:       cfg,
		onFailure: onFailure,
		logger:    logger.With("component", "worker"),
		handlers:  make(map[string]Handler),
	}
}

// Register attaches a handler to a queue name. Must be called before Start.
func (p *Pool) Register(queueName string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queueName] = handler
}

// Start launches the consumer goroutines and the delayed-entry promoter.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	p.mu.Unlock()

	p.logger.Info("starting", "queues", names, "concurrency", p.cfg.Concurrency)
	for _, name := range names {
		q := p.queues.Get(name)
		handler := p.handlers[name]
		for i := 0; i < p.cfg.Concurrency; i++ {
			p.wg.Add(1)
			go p.consume(ctx, q, handler)
		}
	}

	p.wg.Add(1)
	go p.promote(ctx, names)
}

// Stop cancels the consumers and waits for in-flight handlers to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("stopped")
}

func (p *Pool) consume(ctx context.Context, q *queue.Queue, handler Handler) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		entry, err := q.Pop(ctx, p.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to pop entry", "queue", q.Name(), "error", err)
			time.Sleep(p.cfg.PopTimeout)
			continue
		}
		if entry == nil {
			continue
		}
		p.handle(ctx, q, handler, entry)
	}
}

func (p *Pool) handle(ctx context.Context, q *queue.Queue, handler Handler, entry *queue.Job) {
	acquired, err := q.AcquireActive(ctx, entry.ID, p.lockTTL(q.Name()))
	if err != nil {
		p.logger.Error("failed to acquire active lock", "job_id", entry.ID, "error", err)
		return
	}
	if !acquired {
		// Another worker holds this job id; put the entry back for later.
		if err := q.Requeue(ctx, entry.ID, p.cfg.RequeueDelay); err != nil {
			p.logger.Error("failed to requeue entry", "job_id", entry.ID, "error", err)
		}
		return
	}

	start := time.Now()
	handleErr := p.invoke(ctx, handler, entry)
	if handleErr == nil {
		if err := q.Ack(ctx, entry.ID); err != nil {
			p.logger.Warn("failed to ack entry", "job_id", entry.ID, "error", err)
		}
		p.logger.Debug("entry processed",
			"queue", q.Name(),
			"job_id", entry.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	retried, err := q.Retry(ctx, entry)
	if err != nil {
		p.logger.Error("failed to schedule retry", "job_id", entry.ID, "error", err)
		return
	}
	if retried {
		p.logger.Warn("entry failed, retry scheduled",
			"queue", q.Name(),
			"job_id", entry.ID,
			"attempt", entry.Attempts+1,
			"error", handleErr,
		)
		return
	}

	p.logger.Error("entry exhausted retries",
		"queue", q.Name(),
		"job_id", entry.ID,
		"error", handleErr,
	)
	if p.onFailure != nil {
		p.onFailure(ctx, entry, handleErr)
	}
	if err := q.Ack(ctx, entry.ID); err != nil {
		p.logger.Warn("failed to ack exhausted entry", "job_id", entry.ID, "error", err)
	}
}

// invoke runs the handler, converting panics into errors so one bad page
// cannot take a consumer down.
func (p *Pool) invoke(ctx context.Context, handler Handler, entry *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, entry)
}

func (p *Pool) promote(ctx context.Context, names []string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range names {
				if _, err := p.queues.Get(name).PromoteDelayed(ctx); err != nil {
					p.logger.Warn("failed to promote delayed entries", "queue", name, "error", err)
				}
			}
		}
	}
}

// lockTTL derives the active-lock TTL from the queue's task type: twice the
// type's runtime ceiling, so a crashed worker's lock expires well after any
// legitimate run would have finished.
func (p *Pool) lockTTL(queueName string) time.Duration {
	taskType, _, _ := strings.Cut(queueName, "-")
	ttl := constants.MaxExecutionRuntime(taskType)
	if ttl <= 0 {
		// Crawl entries are page-scoped; the scrape ceiling fits.
		ttl = constants.MaxScrapeRuntime
	}
	return 2 * ttl
}
