package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/resilience"
)

// Job is one turn awaiting persistence.
type Job struct {
	SessionID string
	Speaker   string
	Text      string
}

// Queue feeds jobs to a single consumer goroutine. Enqueue never
// blocks: when the buffer is full the job is dropped and logged.
// Persistence is best-effort; the session keeps its own in-memory
// history, so a lost row degrades the archive, not the interview.
type Queue struct {
	store       Store
	jobs        chan Job
	maxAttempts int
	logger      zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue and starts its consumer.
func NewQueue(store Store, size, maxAttempts int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	q := &Queue{
		store:       store,
		jobs:        make(chan Job, size),
		maxAttempts: maxAttempts,
		logger:      logger,
	}

	q.wg.Add(1)
	go q.consume()
	return q
}

// Enqueue submits a job without blocking the caller. Jobs arriving
// after Close are dropped; a turn finishing during shutdown must not
// crash the drain.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		observability.RecordTranscriptJob("dropped")
		q.logger.Warn().
			Str("session_id", job.SessionID).
			Str("speaker", job.Speaker).
			Msg("transcript queue closed, dropping turn")
		return
	}

	select {
	case q.jobs <- job:
	default:
		observability.RecordTranscriptJob("dropped")
		q.logger.Warn().
			Str("session_id", job.SessionID).
			Str("speaker", job.Speaker).
			Msg("transcript queue full, dropping turn")
	}
}

func (q *Queue) consume() {
	defer q.wg.Done()

	for job := range q.jobs {
		q.process(job)
	}
}

func (q *Queue) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := resilience.Retry(ctx, func() error {
		return q.store.SaveTurn(ctx, job.SessionID, job.Speaker, job.Text)
	}, &resilience.RetryConfig{
		MaxAttempts:    q.maxAttempts,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		RetryIf:        retryableSaveError,
	})

	if err != nil {
		observability.RecordTranscriptJob("failed")
		q.logger.Error().
			Err(err).
			Str("session_id", job.SessionID).
			Str("speaker", job.Speaker).
			Int("attempts", q.maxAttempts).
			Msg("giving up on transcript turn")
		return
	}

	observability.RecordTranscriptJob("saved")
}

// retryableSaveError reports whether a failed save may succeed on a
// later attempt. Network faults and lock contention are transient;
// anything else would fail identically.
func retryableSaveError(err error) bool {
	if resilience.IsRetryableNetworkError(err) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// Close stops accepting jobs and waits for the consumer to drain.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
	q.wg.Wait()
}
