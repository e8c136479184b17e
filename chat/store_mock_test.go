package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvoss/typewriter/store"
)

// mockStore is an in-memory store.Driver subset shared by the chat tests.
// Writes hold a single mutex, so the sequenced-patch semantics match the real
// drivers without a database.
type mockStore struct {
	mu            sync.Mutex
	nextID        int64
	conversations map[int64]*store.Conversation
	messages      map[int64]*store.Message

	// failPatches makes the next N PatchMessageContent calls fail, for
	// exercising write retries.
	failPatches int
	patchCalls  int
}

func newMockStore() *mockStore {
	return &mockStore{
		conversations: map[int64]*store.Conversation{},
		messages:      map[int64]*store.Message{},
	}
}

func (s *mockStore) CreateConversation(_ context.Context, create *store.Conversation) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	conversation := *create
	conversation.ID = s.nextID
	s.conversations[conversation.ID] = &conversation
	out := conversation
	return &out, nil
}

func (s *mockStore) ListConversations(_ context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*store.Conversation
	for _, conversation := range s.conversations {
		if find.ID != nil && conversation.ID != *find.ID {
			continue
		}
		if find.UID != nil && conversation.UID != *find.UID {
			continue
		}
		if find.OwnerID != nil && conversation.OwnerID != *find.OwnerID {
			continue
		}
		out := *conversation
		list = append(list, &out)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (s *mockStore) UpdateConversation(_ context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[update.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if update.Title != nil {
		conversation.Title = *update.Title
	}
	if update.TitleSource != nil {
		conversation.TitleSource = *update.TitleSource
	}
	if update.UpdatedTs != nil {
		conversation.UpdatedTs = *update.UpdatedTs
	}
	out := *conversation
	return &out, nil
}

func (s *mockStore) DeleteConversation(_ context.Context, del *store.DeleteConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[del.ID]; !ok {
		return store.ErrNotFound
	}
	for id, m := range s.messages {
		if m.ConversationID == del.ID {
			delete(s.messages, id)
		}
	}
	delete(s.conversations, del.ID)
	return nil
}

func (s *mockStore) CreateTurn(_ context.Context, userMessage, placeholder *store.CreateMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(userMessage)
	created := s.insertLocked(placeholder)
	out := *created
	return &out, nil
}

func (s *mockStore) insertLocked(create *store.CreateMessage) *store.Message {
	s.nextID++
	m := &store.Message{
		UID:            create.UID,
		ConversationID: create.ConversationID,
		AuthorID:       create.AuthorID,
		Role:           create.Role,
		Content:        create.Content,
		Model:          create.Model,
		IsComplete:     create.IsComplete,
		CreatedTs:      create.CreatedTs,
		ID:             s.nextID,
	}
	s.messages[m.ID] = m
	return m
}

func (s *mockStore) GetMessage(_ context.Context, id int64) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *mockStore) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*store.Message
	for _, m := range s.messages {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		if find.Role != nil && m.Role != *find.Role {
			continue
		}
		out := *m
		list = append(list, &out)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *mockStore) PatchMessageContent(_ context.Context, patch *store.PatchMessageContent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchCalls++
	if s.failPatches > 0 {
		s.failPatches--
		return false, errors.New("simulated write failure")
	}
	m, ok := s.messages[patch.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if m.WriteSeq >= patch.WriteSeq {
		return false, nil
	}
	m.Content = patch.Content
	m.WriteSeq = patch.WriteSeq
	return true, nil
}

func (s *mockStore) MarkMessageComplete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.IsComplete = true
	m.FailureReason = ""
	return nil
}

func (s *mockStore) MarkMessageFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if m.IsComplete {
		return nil
	}
	m.FailureReason = reason
	return nil
}

func (s *mockStore) ListPendingMessages(_ context.Context) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*store.Message
	for _, m := range s.messages {
		if m.Role == store.RoleAssistant && !m.IsComplete && m.FailureReason == "" {
			out := *m
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}
