package database

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// MemoryStore keeps messages and conversations in process memory. It backs
// tests and single-node development setups.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string]*types.Message
	byConv        map[string][]string
	conversations map[string]*types.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string]*types.Message),
		byConv:        make(map[string][]string),
		conversations: make(map[string]*types.Conversation),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, params CreateMessageParams) (types.Message, error) {
	if params.ConversationId == "" {
		return types.Message{}, fmt.Errorf("create message: missing conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := newMessage(uuid.NewString(), params, now())
	s.messages[msg.Id] = &msg
	s.byConv[msg.ConversationId] = append(s.byConv[msg.ConversationId], msg.Id)

	return copyMessage(msg), nil
}

func (s *MemoryStore) GetMessageById(_ context.Context, id string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return types.Message{}, ErrNotFound
	}

	return copyMessage(*msg), nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id string, update MessageUpdate) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return types.Message{}, ErrNotFound
	}

	update.Apply(msg, now())
	return copyMessage(*msg), nil
}

func (s *MemoryStore) GetMessagesSince(_ context.Context, conversationId string, since time.Time) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]types.Message, 0)
	for _, id := range s.byConv[conversationId] {
		msg := s.messages[id]
		if since.IsZero() || msg.CreatedAt.After(since) {
			msgs = append(msgs, copyMessage(*msg))
		}
	}

	slices.SortStableFunc(msgs, func(a, b types.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return msgs, nil
}

func (s *MemoryStore) MarkConversationSeen(_ context.Context, conversationId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	for _, id := range s.byConv[conversationId] {
		msg := s.messages[id]
		if !msg.Seen {
			msg.Seen = true
			msg.UpdatedAt = ts
		}
	}

	return nil
}

func (s *MemoryStore) DeleteConversationMessages(_ context.Context, conversationId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byConv[conversationId] {
		delete(s.messages, id)
	}
	delete(s.byConv, conversationId)

	return nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, params CreateConversationParams) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := newConversation(uuid.NewString(), params, now())
	s.conversations[conv.Id] = &conv

	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversationById(_ context.Context, id string) (types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return types.Conversation{}, ErrNotFound
	}

	return copyConversation(*conv), nil
}

func (s *MemoryStore) UpdateMembers(_ context.Context, id string, update MembersUpdate) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return types.Conversation{}, ErrNotFound
	}

	conv.Members = slices.Clone(update.Members)
	conv.Admin = update.Admin
	conv.Admin2 = update.Admin2
	conv.UpdatedAt = now()

	return copyConversation(*conv), nil
}

func (s *MemoryStore) UpdateLastMessage(_ context.Context, id, messageId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	conv.LastMessage = messageId
	conv.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) UpdateGroupInfo(_ context.Context, id string, update GroupInfoUpdate) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return types.Conversation{}, ErrNotFound
	}

	update.Apply(conv, now())
	return copyConversation(*conv), nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)

	return nil
}

func copyMessage(m types.Message) types.Message {
	m.DeletedBy = slices.Clone(m.DeletedBy)
	reactions := make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		reactions[emoji] = slices.Clone(users)
	}
	m.Reactions = reactions
	return m
}

func copyConversation(c types.Conversation) types.Conversation {
	c.Members = slices.Clone(c.Members)
	return c
}

var _ Store = (*MemoryStore)(nil)
