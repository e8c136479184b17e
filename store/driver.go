package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a referenced conversation or message is absent.
var ErrNotFound = errors.New("not found")

// Driver is an interface for store operations implemented per database.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Conversation model.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	// DeleteConversation removes the conversation and all of its messages in
	// one transaction, so a concurrent reader sees neither afterwards.
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// Message model.
	// CreateTurn inserts the user message and the assistant placeholder in one
	// transaction and returns the placeholder.
	CreateTurn(ctx context.Context, userMessage, placeholder *CreateMessage) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	// PatchMessageContent applies a sequenced content overwrite. It returns
	// false without error when the patch is stale (sequence not newer than the
	// stored one) and ErrNotFound when the message no longer exists.
	PatchMessageContent(ctx context.Context, patch *PatchMessageContent) (bool, error)
	// MarkMessageComplete is idempotent; completing a completed message is a no-op.
	MarkMessageComplete(ctx context.Context, id int64) error
	// MarkMessageFailed records a terminal failure reason. It never downgrades
	// a message that already completed.
	MarkMessageFailed(ctx context.Context, id int64, reason string) error
	// ListPendingMessages returns assistant placeholders that are neither
	// complete nor failed, oldest first. Used for job recovery after restart.
	ListPendingMessages(ctx context.Context) ([]*Message, error)
}
