package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// scriptedStreamer emits a fixed chunk sequence, then optionally a terminal
// stream error, mirroring the llm.Service channel contract.
type scriptedStreamer struct {
	chunks []string
	err    error
}

func (s *scriptedStreamer) ChatStream(ctx context.Context, _ string, _ []llm.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		for _, chunk := range s.chunks {
			select {
			case contentChan <- chunk:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if s.err != nil {
			errChan <- s.err
		}
	}()
	return contentChan, errChan
}

// stallingStreamer emits one chunk and then blocks until the stream context
// expires.
type stallingStreamer struct{}

func (s *stallingStreamer) ChatStream(ctx context.Context, _ string, _ []llm.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		contentChan <- "partial "
		<-ctx.Done()
		errChan <- ctx.Err()
	}()
	return contentChan, errChan
}

func newRelayFixture(t *testing.T, streamer TokenStreamer, cfg RelayConfig) (*mockStore, *Relay, *store.Message) {
	t.Helper()
	st := newMockStore()
	ledger := NewLedger(st)
	placeholder, err := ledger.AppendTurn(context.Background(), 1, "user-1", store.TextContent("hi"), "")
	require.NoError(t, err)
	return st, NewRelay(ledger, streamer, cfg), placeholder
}

func TestRelayPersistsFullContent(t *testing.T) {
	chunks := []string{"The ", "quick ", "brown ", "fox ", "jumps"}
	// A huge flush interval coalesces everything after the first patch; the
	// final flush must still converge on the full concatenation.
	st, relay, placeholder := newRelayFixture(t, &scriptedStreamer{chunks: chunks}, RelayConfig{
		FlushInterval: time.Hour,
	})

	err := relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(chunks, ""), m.Content.Flatten())
	assert.True(t, m.IsComplete)
	assert.False(t, m.Failed())
}

func TestRelayRedeliveryConverges(t *testing.T) {
	chunks := []string{"The ", "full ", "answer."}
	st, relay, placeholder := newRelayFixture(t, &scriptedStreamer{chunks: chunks}, RelayConfig{})

	// A previous delivery advanced the sequence and left partial content
	// behind before crashing.
	applied, err := st.PatchMessageContent(context.Background(), &store.PatchMessageContent{
		ID:       placeholder.ID,
		WriteSeq: 10,
		Content:  store.TextContent("stale partial answer from attempt 1"),
	})
	require.NoError(t, err)
	require.True(t, applied)

	err = relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(chunks, ""), m.Content.Flatten())
	assert.True(t, m.IsComplete)
	assert.Greater(t, m.WriteSeq, int64(10))
}

func TestRelaySkipsCompletedMessage(t *testing.T) {
	st, relay, placeholder := newRelayFixture(t, &scriptedStreamer{chunks: []string{"second answer"}}, RelayConfig{})

	applied, err := st.PatchMessageContent(context.Background(), &store.PatchMessageContent{
		ID:       placeholder.ID,
		WriteSeq: 1,
		Content:  store.TextContent("first answer"),
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, st.MarkMessageComplete(context.Background(), placeholder.ID))

	// A duplicate delivery after completion must not rewrite the message.
	err = relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, "first answer", m.Content.Flatten())
	assert.True(t, m.IsComplete)
}

func TestRelayProviderFailure(t *testing.T) {
	streamer := &scriptedStreamer{
		chunks: []string{"Once upon "},
		err:    errors.New("rate limit exceeded"),
	}
	st, relay, placeholder := newRelayFixture(t, streamer, RelayConfig{})

	err := relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.True(t, m.Failed())
	assert.Equal(t, "generation failed: rate limit exceeded", m.FailureReason)
	// Tokens that arrived before the failure stay readable.
	assert.Equal(t, "Once upon ", m.Content.Flatten())
}

func TestRelayRetriesPersistenceWrites(t *testing.T) {
	st, relay, placeholder := newRelayFixture(t, &scriptedStreamer{chunks: []string{"hello"}}, RelayConfig{
		WriteRetries: 3,
	})
	st.failPatches = 2

	err := relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content.Flatten())
	assert.True(t, m.IsComplete)
}

func TestRelayDropsJobWhenMessageDeleted(t *testing.T) {
	st, relay, placeholder := newRelayFixture(t, &scriptedStreamer{chunks: []string{"a", "b"}}, RelayConfig{})
	st.mu.Lock()
	delete(st.messages, placeholder.ID)
	st.mu.Unlock()

	// No message left to write into: the run ends cleanly without requesting
	// re-delivery.
	err := relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)
}

func TestRelayStreamTimeout(t *testing.T) {
	st, relay, placeholder := newRelayFixture(t, &stallingStreamer{}, RelayConfig{
		StreamTimeout: 50 * time.Millisecond,
	})

	err := relay.Run(context.Background(), Job{AssistantMessageID: placeholder.ID})
	require.NoError(t, err)

	m, err := st.GetMessage(context.Background(), placeholder.ID)
	require.NoError(t, err)
	assert.True(t, m.Failed())
	assert.Equal(t, "generation timed out", m.FailureReason)
}
