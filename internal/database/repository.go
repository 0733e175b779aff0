package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// ErrNotFound is returned by every store when the referenced document does not exist.
var ErrNotFound = errors.New("not found")

type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	GetMessageById(ctx context.Context, id string) (types.Message, error)
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) (types.Message, error)
	// GetMessagesSince returns the conversation's messages created strictly after since,
	// oldest first. A zero since returns every message.
	GetMessagesSince(ctx context.Context, conversationId string, since time.Time) ([]types.Message, error)
	MarkConversationSeen(ctx context.Context, conversationId string) error
	DeleteConversationMessages(ctx context.Context, conversationId string) error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, params CreateConversationParams) (types.Conversation, error)
	GetConversationById(ctx context.Context, id string) (types.Conversation, error)
	UpdateMembers(ctx context.Context, id string, update MembersUpdate) (types.Conversation, error)
	UpdateLastMessage(ctx context.Context, id, messageId string) error
	UpdateGroupInfo(ctx context.Context, id string, update GroupInfoUpdate) (types.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Store is a complete backend for the realtime core.
type Store interface {
	MessageStore
	ConversationStore
	Ping(ctx context.Context) error
	Close() error
}
