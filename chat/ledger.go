package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// MessageStore is the store surface the ledger needs.
type MessageStore interface {
	CreateTurn(ctx context.Context, userMessage, placeholder *store.CreateMessage) (*store.Message, error)
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	PatchMessageContent(ctx context.Context, patch *store.PatchMessageContent) (bool, error)
	MarkMessageComplete(ctx context.Context, id int64) error
	MarkMessageFailed(ctx context.Context, id int64, reason string) error
}

// Ledger owns message records: it appends turns, applies sequenced content
// patches while generation is in flight, and marks terminal states.
type Ledger struct {
	store MessageStore
}

// NewLedger creates a message ledger over the given store.
func NewLedger(store MessageStore) *Ledger {
	return &Ledger{store: store}
}

// AppendTurn inserts the user message (complete) and the assistant
// placeholder (incomplete, empty content, model recorded) as one logical
// step, and returns the placeholder.
func (l *Ledger) AppendTurn(ctx context.Context, conversationID int64, authorID string, userContent store.MessageContent, model string) (*store.Message, error) {
	now := time.Now().UnixMilli()

	userMessage := &store.CreateMessage{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Role:           store.RoleUser,
		Content:        userContent,
		Model:          model,
		IsComplete:     true,
		CreatedTs:      now,
	}
	placeholder := &store.CreateMessage{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Role:           store.RoleAssistant,
		Content:        store.TextContent(""),
		Model:          model,
		IsComplete:     false,
		CreatedTs:      now,
	}

	created, err := l.store.CreateTurn(ctx, userMessage, placeholder)
	if err != nil {
		return nil, classifyStoreErr(err, "append turn")
	}

	slog.Info("Appended turn",
		"conversation_id", conversationID,
		"assistant_message_id", created.ID,
		"model", model,
	)
	return created, nil
}

// PatchContent replaces the message content with the full accumulated value
// so far. seq must increase per message; a stale patch is silently ignored so
// re-delivered or re-ordered writes can never truncate newer content.
func (l *Ledger) PatchContent(ctx context.Context, messageID int64, seq int64, content store.MessageContent) error {
	applied, err := l.store.PatchMessageContent(ctx, &store.PatchMessageContent{
		ID:       messageID,
		WriteSeq: seq,
		Content:  content,
	})
	if err != nil {
		return classifyStoreErr(err, "patch content")
	}
	if !applied {
		slog.Debug("Ignored stale content patch", "message_id", messageID, "write_seq", seq)
	}
	return nil
}

// MarkComplete flips the completion flag. Calling it again is a no-op.
func (l *Ledger) MarkComplete(ctx context.Context, messageID int64) error {
	if err := l.store.MarkMessageComplete(ctx, messageID); err != nil {
		return classifyStoreErr(err, "mark complete")
	}
	return nil
}

// MarkFailed records the terminal failure state with a user-visible reason.
// A message that already completed is left untouched.
func (l *Ledger) MarkFailed(ctx context.Context, messageID int64, reason string) error {
	if err := l.store.MarkMessageFailed(ctx, messageID, reason); err != nil {
		return classifyStoreErr(err, "mark failed")
	}
	slog.Warn("Marked message failed", "message_id", messageID, "reason", reason)
	return nil
}

// Get returns a single message.
func (l *Ledger) Get(ctx context.Context, messageID int64) (*store.Message, error) {
	m, err := l.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, classifyStoreErr(err, "get message")
	}
	return m, nil
}

// ListByConversation returns the conversation's messages in stable creation
// order.
func (l *Ledger) ListByConversation(ctx context.Context, conversationID int64) ([]*store.Message, error) {
	messages, err := l.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	if err != nil {
		return nil, classifyStoreErr(err, "list messages")
	}
	return messages, nil
}

// History converts the messages before the given assistant placeholder into
// model context, newest last. Tool messages and failed assistant turns are
// skipped, and multi-part bodies are flattened to their text projection.
func History(messages []*store.Message, beforeID int64) []llm.Message {
	history := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID >= beforeID {
			break
		}
		if m.Role == store.RoleTool || m.Failed() {
			continue
		}
		if m.Role == store.RoleAssistant && !m.IsComplete {
			continue
		}
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content.Flatten()})
	}
	return history
}
