package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockStore) GetMessageById(ctx context.Context, id string) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (types.Message, error) {
	args := m.Called(ctx, id, update)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockStore) GetMessagesSince(ctx context.Context, conversationId string, since time.Time) ([]types.Message, error) {
	args := m.Called(ctx, conversationId, since)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) MarkConversationSeen(ctx context.Context, conversationId string) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
func (m *MockStore) DeleteConversationMessages(ctx context.Context, conversationId string) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
func (m *MockStore) CreateConversation(ctx context.Context, params CreateConversationParams) (types.Conversation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) GetConversationById(ctx context.Context, id string) (types.Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) UpdateMembers(ctx context.Context, id string, update MembersUpdate) (types.Conversation, error) {
	args := m.Called(ctx, id, update)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) UpdateLastMessage(ctx context.Context, id, messageId string) error {
	args := m.Called(ctx, id, messageId)
	return args.Error(0)
}
func (m *MockStore) UpdateGroupInfo(ctx context.Context, id string, update GroupInfoUpdate) (types.Conversation, error) {
	args := m.Called(ctx, id, update)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ Store = (*MockStore)(nil)
