package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// ConversationStore is the store surface the conversation service needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error)
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error
}

// Conversations owns conversation records and drives the send-message flow:
// append the turn, then hand the generation job to the scheduler.
type Conversations struct {
	store     ConversationStore
	ledger    *Ledger
	titler    *Titler
	scheduler *Scheduler
}

// NewConversations creates the conversation service.
func NewConversations(st ConversationStore, ledger *Ledger, titler *Titler, scheduler *Scheduler) *Conversations {
	return &Conversations{
		store:     st,
		ledger:    ledger,
		titler:    titler,
		scheduler: scheduler,
	}
}

// Create opens a conversation from its first user message: resolve a title
// (best-effort), insert the conversation record, then append the first turn
// and schedule generation exactly like SendMessage.
func (c *Conversations) Create(ctx context.Context, ownerID string, firstMessage store.MessageContent, model string) (*store.Conversation, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}

	// Title generation is bounded and can only degrade the title, never the
	// conversation: a provider failure yields the fixed fallback.
	title, titleSource := c.titler.Title(ctx, firstMessage.Flatten())

	now := time.Now().UnixMilli()
	conversation, err := c.store.CreateConversation(ctx, &store.Conversation{
		UID:         shortuuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		TitleSource: titleSource,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	if err != nil {
		return nil, classifyStoreErr(err, "create conversation")
	}

	slog.Info("Created conversation",
		"conversation_id", conversation.ID,
		"owner_id", ownerID,
		"title_source", titleSource,
	)

	history := []llm.Message{llm.UserMessage(firstMessage.Flatten())}
	if err := c.appendAndSchedule(ctx, conversation.ID, ownerID, firstMessage, history, model); err != nil {
		return nil, err
	}
	return conversation, nil
}

// SendMessage appends the next user turn to an existing conversation and
// schedules its generation. history is the full ordered context including the
// new user message as its last entry.
func (c *Conversations) SendMessage(ctx context.Context, ownerID string, conversationID int64, history []llm.Message, model string) error {
	if ownerID == "" {
		return ErrUnauthenticated
	}
	if len(history) == 0 {
		return classifyStoreErr(store.ErrNotFound, "empty history")
	}

	if _, err := c.getOwned(ctx, ownerID, conversationID); err != nil {
		return err
	}

	userContent := store.TextContent(history[len(history)-1].Content)
	return c.appendAndSchedule(ctx, conversationID, ownerID, userContent, history, model)
}

// appendAndSchedule is the shared tail of Create and SendMessage: persist the
// turn, bump the conversation timestamp, enqueue the job. The request returns
// as soon as the job is handed off.
func (c *Conversations) appendAndSchedule(ctx context.Context, conversationID int64, authorID string, userContent store.MessageContent, history []llm.Message, model string) error {
	placeholder, err := c.ledger.AppendTurn(ctx, conversationID, authorID, userContent, model)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := c.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:        conversationID,
		UpdatedTs: &now,
	}); err != nil {
		slog.Warn("Failed to update conversation timestamp",
			"conversation_id", conversationID,
			"error", err,
		)
	}

	c.scheduler.Enqueue(0, Job{
		AssistantMessageID: placeholder.ID,
		History:            history,
		Model:              model,
	})
	return nil
}

// List returns the caller's conversations, newest first.
func (c *Conversations) List(ctx context.Context, ownerID string) ([]*store.Conversation, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}
	conversations, err := c.store.ListConversations(ctx, &store.FindConversation{OwnerID: &ownerID})
	if err != nil {
		return nil, classifyStoreErr(err, "list conversations")
	}
	return conversations, nil
}

// Messages returns the conversation's messages in stable creation order,
// after checking ownership.
func (c *Conversations) Messages(ctx context.Context, ownerID string, conversationID int64) ([]*store.Message, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}
	if _, err := c.getOwned(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	return c.ledger.ListByConversation(ctx, conversationID)
}

// Delete removes the conversation and all of its messages, and cancels any
// in-flight generation against them so the relay stops writing.
func (c *Conversations) Delete(ctx context.Context, ownerID string, conversationID int64) error {
	if ownerID == "" {
		return ErrUnauthenticated
	}
	if _, err := c.getOwned(ctx, ownerID, conversationID); err != nil {
		return err
	}

	messages, err := c.ledger.ListByConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if m.Role == store.RoleAssistant && !m.IsComplete {
			c.scheduler.Cancel(m.ID)
		}
	}

	if err := c.store.DeleteConversation(ctx, &store.DeleteConversation{ID: conversationID}); err != nil {
		return classifyStoreErr(err, "delete conversation")
	}

	slog.Info("Deleted conversation", "conversation_id", conversationID, "owner_id", ownerID)
	return nil
}

// getOwned resolves the conversation and enforces ownership. A foreign
// conversation reads as not found to avoid leaking existence.
func (c *Conversations) getOwned(ctx context.Context, ownerID string, conversationID int64) (*store.Conversation, error) {
	conversations, err := c.store.ListConversations(ctx, &store.FindConversation{
		ID:      &conversationID,
		OwnerID: &ownerID,
	})
	if err != nil {
		return nil, classifyStoreErr(err, "get conversation")
	}
	if len(conversations) == 0 {
		return nil, ErrNotFound
	}
	return conversations[0], nil
}
