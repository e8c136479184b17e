package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// generationSystemPrompt is the fixed system instruction for every
// conversational generation.
const generationSystemPrompt = "You are a professional assistant ready to help"

// TokenStreamer is the provider surface the relay needs.
type TokenStreamer interface {
	ChatStream(ctx context.Context, model string, messages []llm.Message) (<-chan string, <-chan error)
}

// RelayConfig carries the streaming persistence tunables.
type RelayConfig struct {
	// FlushInterval is the minimum spacing between content patches. Tokens
	// arriving faster than this are coalesced into the next patch; the final
	// accumulated value is always flushed before completion, so the interval
	// trades write amplification for reader latency without affecting the
	// persisted result.
	FlushInterval time.Duration
	// StreamTimeout bounds the total duration of one token stream.
	StreamTimeout time.Duration
	// WriteRetries is the number of extra attempts for a failed persistence
	// write before the job is surfaced for re-delivery.
	WriteRetries int
}

func (c *RelayConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 150 * time.Millisecond
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = 5 * time.Minute
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = 3
	}
}

// Relay drives the model token stream for one scheduled job and persists the
// accumulated reply through the ledger.
//
// It is the single writer for its message: all patches are issued from one
// loop with strictly increasing sequence numbers, so the store applies them
// in emission order even if a stale duplicate ever reaches it.
type Relay struct {
	ledger *Ledger
	llm    TokenStreamer
	cfg    RelayConfig
}

// NewRelay creates a relay over the given ledger and provider client.
func NewRelay(ledger *Ledger, streamer TokenStreamer, cfg RelayConfig) *Relay {
	cfg.applyDefaults()
	return &Relay{ledger: ledger, llm: streamer, cfg: cfg}
}

// Run executes one delivery of a generation job.
//
// State machine for the managed message:
// placeholder -> streaming (repeated patches) -> complete | failed.
// A nil return means the message reached a terminal state; an error return
// asks the scheduler for re-delivery.
func (r *Relay) Run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
	defer cancel()

	started := time.Now()
	defer func() { streamDuration.Observe(time.Since(started).Seconds()) }()

	// Resume from the stored sequence: a redelivered job must issue patches
	// that are newer than anything its previous run persisted, or the
	// write_seq guard rejects the whole re-run as stale.
	placeholder, err := r.ledger.Get(ctx, job.AssistantMessageID)
	if err != nil {
		if IsNotFound(err) {
			slog.Info("Message gone before streaming, dropping job",
				"job_id", job.ID,
				"assistant_message_id", job.AssistantMessageID,
			)
			return nil
		}
		return err
	}
	if placeholder.IsComplete {
		// A previous delivery already finished this message.
		return nil
	}

	messages := make([]llm.Message, 0, len(job.History)+1)
	messages = append(messages, llm.SystemPrompt(generationSystemPrompt))
	messages = append(messages, job.History...)

	contentChan, errChan := r.llm.ChatStream(ctx, job.Model, messages)

	var accumulated strings.Builder
	seq := placeholder.WriteSeq
	limiter := rate.NewLimiter(rate.Every(r.cfg.FlushInterval), 1)

	flush := func() error {
		seq++
		return r.patchWithRetry(ctx, job.AssistantMessageID, seq, accumulated.String())
	}

	for chunk := range contentChan {
		accumulated.WriteString(chunk)
		if !limiter.Allow() {
			continue
		}
		if err := flush(); err != nil {
			if IsNotFound(err) {
				// The message was deleted underneath us; stop generating.
				slog.Info("Message gone during streaming, dropping job",
					"job_id", job.ID,
					"assistant_message_id", job.AssistantMessageID,
				)
				return nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return r.failTimeout(ctx, job)
			}
			return err
		}
	}

	// The stream exceeded its duration bound: terminal failure, not redelivery.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return r.failTimeout(ctx, job)
	}

	// The content channel closed: either normal stream end or a provider
	// failure reported on the error channel.
	if streamErr := <-errChan; streamErr != nil {
		jobsFailed.Inc()
		slog.Error("Token stream failed",
			"job_id", job.ID,
			"assistant_message_id", job.AssistantMessageID,
			"accumulated_len", accumulated.Len(),
			"error", streamErr,
		)
		// Preserve whatever arrived, then record the terminal failure.
		if accumulated.Len() > 0 {
			if err := flush(); err != nil && !IsNotFound(err) {
				return err
			}
		}
		if err := r.ledger.MarkFailed(ctx, job.AssistantMessageID, providerFailureReason(streamErr)); err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		return nil
	}

	// Final unconditional flush so the persisted content equals the full
	// concatenation regardless of the flush interval.
	if err := flush(); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := r.ledger.MarkComplete(ctx, job.AssistantMessageID); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	jobsCompleted.Inc()
	slog.Info("Generation complete",
		"job_id", job.ID,
		"assistant_message_id", job.AssistantMessageID,
		"content_len", accumulated.Len(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// failTimeout records the terminal timeout state for the managed message.
// The write runs on a fresh context because the stream context just expired.
func (r *Relay) failTimeout(ctx context.Context, job Job) error {
	jobsFailed.Inc()
	slog.Error("Token stream exceeded duration bound",
		"job_id", job.ID,
		"assistant_message_id", job.AssistantMessageID,
		"timeout", r.cfg.StreamTimeout,
	)
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.ledger.MarkFailed(mctx, job.AssistantMessageID, "generation timed out"); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// patchWithRetry persists one accumulated snapshot, retrying transient store
// failures. The cancellation check runs before every write so a deleted
// conversation stops the stream at the next persistence point.
func (r *Relay) patchWithRetry(ctx context.Context, messageID, seq int64, content string) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.WriteRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(ErrPersistence, "cancelled before write")
		}
		err := r.ledger.PatchContent(ctx, messageID, seq, store.TextContent(content))
		if err == nil {
			patchWrites.Inc()
			return nil
		}
		if IsNotFound(err) {
			return err
		}
		lastErr = err
		slog.Warn("Content patch failed, retrying",
			"message_id", messageID,
			"write_seq", seq,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return errors.Wrap(ErrPersistence, "cancelled during write retry")
		}
	}
	return lastErr
}

// providerFailureReason trims provider errors to a short user-visible reason.
func providerFailureReason(err error) string {
	reason := err.Error()
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return "generation failed: " + reason
}
