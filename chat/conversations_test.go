package chat

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// fakeTitleLLM answers the one-shot title call with a scripted response.
type fakeTitleLLM struct {
	response    string
	err         error
	calls       int
	gotMessages []llm.Message
}

func (f *fakeTitleLLM) Chat(_ context.Context, _ string, messages []llm.Message) (string, error) {
	f.calls++
	f.gotMessages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeTitleLLM) ChatStream(_ context.Context, _ string, _ []llm.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)
	close(contentChan)
	close(errChan)
	return contentChan, errChan
}

type conversationsFixture struct {
	store     *mockStore
	ledger    *Ledger
	scheduler *Scheduler
	service   *Conversations
}

func newConversationsFixture(titleLLM llm.Service) *conversationsFixture {
	st := newMockStore()
	ledger := NewLedger(st)
	titler := NewTitler(titleLLM, "title-model", time.Second)
	scheduler := NewScheduler(nopRunner{}, 2)
	return &conversationsFixture{
		store:     st,
		ledger:    ledger,
		scheduler: scheduler,
		service:   NewConversations(st, ledger, titler, scheduler),
	}
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, Job) error { return nil }

// nextJob drains the scheduler queue directly; the scheduler is not started
// in these tests so enqueued jobs stay buffered.
func (f *conversationsFixture) nextJob(t *testing.T) Job {
	t.Helper()
	select {
	case job := <-f.scheduler.queue:
		return job
	case <-time.After(time.Second):
		t.Fatal("no job was enqueued")
		return Job{}
	}
}

func TestCreateConversation(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Recursion Explained Step Wise"})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("Explain recursion"), "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "Recursion Explained Step Wise", conversation.Title)
	assert.Equal(t, store.TitleSourceAuto, conversation.TitleSource)
	assert.Equal(t, "user-1", conversation.OwnerID)
	assert.NotEmpty(t, conversation.UID)

	messages, err := f.service.Messages(ctx, "user-1", conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.True(t, messages[0].IsComplete)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	assert.False(t, messages[1].IsComplete)

	job := f.nextJob(t)
	assert.Equal(t, messages[1].ID, job.AssistantMessageID)
	assert.Equal(t, "gpt-4o-mini", job.Model)
	require.Len(t, job.History, 1)
	assert.Equal(t, "Explain recursion", job.History[0].Content)
}

func TestCreateConversationTitleDegrades(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{err: errors.New("title model down")})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("Explain recursion"), "")
	require.NoError(t, err)
	assert.Equal(t, FallbackTitle, conversation.Title)
	assert.Equal(t, store.TitleSourceDefault, conversation.TitleSource)

	// The turn is still appended and scheduled.
	f.nextJob(t)
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Sorting Questions"})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("Explain recursion"), "")
	require.NoError(t, err)
	f.nextJob(t)

	history := []llm.Message{
		{Role: "user", Content: "Explain recursion"},
		{Role: "assistant", Content: "Recursion is when a function calls itself."},
		{Role: "user", Content: "Show me an example"},
	}
	require.NoError(t, f.service.SendMessage(ctx, "user-1", conversation.ID, history, "gpt-4o-mini"))

	messages, err := f.service.Messages(ctx, "user-1", conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "Show me an example", messages[2].Content.Flatten())

	job := f.nextJob(t)
	assert.Equal(t, messages[3].ID, job.AssistantMessageID)
	assert.Equal(t, history, job.History)
}

func TestSendMessageForeignConversation(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Title"})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("hello"), "")
	require.NoError(t, err)
	f.nextJob(t)

	err = f.service.SendMessage(ctx, "user-2", conversation.ID, []llm.Message{{Role: "user", Content: "hi"}}, "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = f.service.Messages(ctx, "user-2", conversation.ID)
	assert.True(t, IsNotFound(err))
}

func TestUnauthenticatedCaller(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Title"})

	_, err := f.service.Create(ctx, "", store.TextContent("hello"), "")
	assert.True(t, IsUnauthenticated(err))
	_, err = f.service.List(ctx, "")
	assert.True(t, IsUnauthenticated(err))
	err = f.service.Delete(ctx, "", 1)
	assert.True(t, IsUnauthenticated(err))
}

func TestListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Title"})

	first, err := f.service.Create(ctx, "user-1", store.TextContent("one"), "")
	require.NoError(t, err)
	second, err := f.service.Create(ctx, "user-1", store.TextContent("two"), "")
	require.NoError(t, err)
	_, err = f.service.Create(ctx, "user-2", store.TextContent("other owner"), "")
	require.NoError(t, err)

	conversations, err := f.service.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, second.ID, conversations[0].ID)
	assert.Equal(t, first.ID, conversations[1].ID)
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Title"})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("hello"), "")
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, "user-1", conversation.ID))

	_, err = f.service.Messages(ctx, "user-1", conversation.ID)
	assert.True(t, IsNotFound(err))
	conversationID := conversation.ID
	messages, err := f.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

// TestConversationRoundTrip drives the whole pipeline: create a conversation,
// pick up the scheduled job, stream the reply through the relay, and read the
// finished turn back.
func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newConversationsFixture(&fakeTitleLLM{response: "Recursion Basics"})

	conversation, err := f.service.Create(ctx, "user-1", store.TextContent("Explain recursion"), "gpt-4o-mini")
	require.NoError(t, err)

	job := f.nextJob(t)
	relay := NewRelay(f.ledger, &scriptedStreamer{
		chunks: []string{"Recursion ", "is ", "self-reference."},
	}, RelayConfig{FlushInterval: time.Hour})
	require.NoError(t, relay.Run(ctx, job))

	messages, err := f.service.Messages(ctx, "user-1", conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assistant := messages[1]
	assert.True(t, assistant.IsComplete)
	assert.Equal(t, "Recursion is self-reference.", assistant.Content.Flatten())
	assert.Positive(t, assistant.WriteSeq)
}
