package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// Job describes one generation run. Its logical identity is the assistant
// message id: re-delivery of the same job re-runs the relay against the same
// placeholder and can never create a second assistant message.
type Job struct {
	// ID tags log lines across deliveries of the same job.
	ID                 string
	AssistantMessageID int64
	History            []llm.Message
	Model              string
	Attempt            int
}

// JobRunner executes one delivery of a job. Returning an error requests
// re-delivery (up to the scheduler's attempt limit).
type JobRunner interface {
	Run(ctx context.Context, job Job) error
}

// PendingStore is the store surface needed for crash recovery.
type PendingStore interface {
	ListPendingMessages(ctx context.Context) ([]*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

const (
	defaultQueueDepth  = 256
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
)

// Scheduler decouples the request that created an assistant placeholder from
// the long-running generation work.
//
// Delivery is at-least-once: a job is re-enqueued after a retryable failure,
// and placeholders left incomplete by a crash are re-enqueued on startup via
// RecoverPending. Everything the runner does must therefore be safe to
// repeat, which holds because content patches are sequence-guarded overwrites
// and completion marking is idempotent.
type Scheduler struct {
	runner JobRunner

	queue chan Job
	sem   *semaphore.Weighted
	wg    sync.WaitGroup

	// inFlight maps assistant message id -> cancel func of the running job.
	// It both prevents two concurrent runs against one message (single-writer
	// invariant) and lets Cancel stop a run when its conversation is deleted.
	inFlight sync.Map

	maxAttempts int
	retryDelay  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler running at most slots jobs concurrently.
func NewScheduler(runner JobRunner, slots int) *Scheduler {
	if slots <= 0 {
		slots = 8
	}
	return &Scheduler{
		runner:      runner,
		queue:       make(chan Job, defaultQueueDepth),
		sem:         semaphore.NewWeighted(int64(slots)),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the dispatch loop. ctx bounds the lifetime of all jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case job := <-s.queue:
				if err := s.sem.Acquire(ctx, 1); err != nil {
					return
				}
				s.wg.Add(1)
				go func(job Job) {
					defer s.wg.Done()
					defer s.sem.Release(1)
					s.deliver(ctx, job)
				}(job)
			}
		}
	}()
}

// Shutdown stops accepting new work and waits for running jobs until ctx
// expires. Unfinished placeholders are picked up by RecoverPending on the
// next start.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Scheduler shutdown timeout, jobs will be recovered on restart")
	}
}

// Enqueue hands off a job for asynchronous execution after the given delay.
// It returns immediately; the job runs independent of the caller's lifetime.
func (s *Scheduler) Enqueue(delay time.Duration, job Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	jobsEnqueued.Inc()

	submit := func() {
		select {
		case s.queue <- job:
		case <-s.stopCh:
			slog.Warn("Scheduler stopped, job dropped until recovery",
				"job_id", job.ID,
				"assistant_message_id", job.AssistantMessageID,
			)
		}
	}

	if delay <= 0 {
		submit()
		return
	}
	time.AfterFunc(delay, submit)
}

// Cancel stops the in-flight job for the given assistant message, if any.
func (s *Scheduler) Cancel(assistantMessageID int64) {
	if v, ok := s.inFlight.Load(assistantMessageID); ok {
		if cancel, ok := v.(context.CancelFunc); ok {
			cancel()
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, job Job) {
	// One run per message at a time. A duplicate delivery while a run is in
	// flight is redundant by construction and gets dropped here.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, loaded := s.inFlight.LoadOrStore(job.AssistantMessageID, cancel); loaded {
		slog.Debug("Duplicate delivery for in-flight message, dropping",
			"job_id", job.ID,
			"assistant_message_id", job.AssistantMessageID,
		)
		return
	}
	defer s.inFlight.Delete(job.AssistantMessageID)

	job.Attempt++
	slog.Info("Running generation job",
		"job_id", job.ID,
		"assistant_message_id", job.AssistantMessageID,
		"model", job.Model,
		"attempt", job.Attempt,
	)

	err := s.runner.Run(jobCtx, job)
	if err == nil {
		return
	}
	if jobCtx.Err() != nil {
		// Cancelled: the owning conversation is gone, nothing to redeliver.
		slog.Info("Generation job cancelled", "job_id", job.ID, "assistant_message_id", job.AssistantMessageID)
		return
	}

	if job.Attempt >= s.maxAttempts {
		slog.Error("Generation job exhausted attempts",
			"job_id", job.ID,
			"assistant_message_id", job.AssistantMessageID,
			"attempts", job.Attempt,
			"error", err,
		)
		return
	}

	jobsRedelivered.Inc()
	slog.Warn("Re-delivering generation job",
		"job_id", job.ID,
		"assistant_message_id", job.AssistantMessageID,
		"attempt", job.Attempt,
		"error", err,
	)
	s.Enqueue(s.retryDelay*time.Duration(job.Attempt), job)
}

// RecoverPending re-enqueues generation jobs for assistant placeholders that
// are neither complete nor failed, typically after a crash or redeploy. The
// history is rebuilt from the persisted conversation.
func (s *Scheduler) RecoverPending(ctx context.Context, st PendingStore) error {
	pending, err := st.ListPendingMessages(ctx)
	if err != nil {
		return classifyStoreErr(err, "list pending messages")
	}
	if len(pending) == 0 {
		return nil
	}

	slog.Info("Recovering pending generation jobs", "count", len(pending))
	for _, m := range pending {
		messages, err := st.ListMessages(ctx, &store.FindMessage{ConversationID: &m.ConversationID})
		if err != nil {
			slog.Error("Failed to rebuild history for pending message",
				"message_id", m.ID,
				"error", err,
			)
			continue
		}
		s.Enqueue(0, Job{
			AssistantMessageID: m.ID,
			History:            History(messages, m.ID),
			Model:              m.Model,
		})
	}
	return nil
}
