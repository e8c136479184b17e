package store

import (
	"context"

	"github.com/nvoss/typewriter/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

func (s *Store) CreateTurn(ctx context.Context, userMessage, placeholder *CreateMessage) (*Message, error) {
	return s.driver.CreateTurn(ctx, userMessage, placeholder)
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	return s.driver.GetMessage(ctx, id)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) PatchMessageContent(ctx context.Context, patch *PatchMessageContent) (bool, error) {
	return s.driver.PatchMessageContent(ctx, patch)
}

func (s *Store) MarkMessageComplete(ctx context.Context, id int64) error {
	return s.driver.MarkMessageComplete(ctx, id)
}

func (s *Store) MarkMessageFailed(ctx context.Context, id int64, reason string) error {
	return s.driver.MarkMessageFailed(ctx, id, reason)
}

func (s *Store) ListPendingMessages(ctx context.Context) ([]*Message, error) {
	return s.driver.ListPendingMessages(ctx)
}
