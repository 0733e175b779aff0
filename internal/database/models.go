package database

import (
	"slices"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

type CreateMessageParams struct {
	ConversationId    string
	Sender            string
	Content           string
	Type              types.MessageType
	SystemType        types.SystemType
	ReferencedMessage string
	FileUrl           string
	FileName          string
	FileType          string
	IsForwarded       bool
	OriginalMessage   string
	ForwardedBy       string
	OriginalSender    string
}

type Reaction struct {
	Emoji  string
	UserId string
}

type PinState struct {
	Pinned bool
	By     string
	At     time.Time
}

// MessageUpdate describes a change to the mutable flags of a message.
// IsRevoked can only be set, never cleared.
type MessageUpdate struct {
	Seen           *bool
	Revoke         bool
	AddDeletedBy   string
	AddReaction    *Reaction
	RemoveReaction *Reaction
	Pin            *PinState
}

// Apply mutates m in place. Every store goes through it so the flag rules
// are identical across backends.
func (u MessageUpdate) Apply(m *types.Message, now time.Time) {
	if u.Seen != nil {
		m.Seen = *u.Seen
	}

	if u.Revoke && !m.IsRevoked {
		m.IsRevoked = true
		m.RevokedAt = &now
	}

	if u.AddDeletedBy != "" && !slices.Contains(m.DeletedBy, u.AddDeletedBy) {
		m.DeletedBy = append(m.DeletedBy, u.AddDeletedBy)
	}

	if r := u.AddReaction; r != nil {
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		if !slices.Contains(m.Reactions[r.Emoji], r.UserId) {
			m.Reactions[r.Emoji] = append(m.Reactions[r.Emoji], r.UserId)
		}
	}

	if r := u.RemoveReaction; r != nil && m.Reactions != nil {
		users := slices.DeleteFunc(m.Reactions[r.Emoji], func(id string) bool { return id == r.UserId })
		if len(users) == 0 {
			delete(m.Reactions, r.Emoji)
		} else {
			m.Reactions[r.Emoji] = users
		}
	}

	if p := u.Pin; p != nil {
		m.IsPinned = p.Pinned
		if p.Pinned {
			at := p.At
			m.PinnedBy = p.By
			m.PinnedAt = &at
		} else {
			m.PinnedBy = ""
			m.PinnedAt = nil
		}
	}

	m.UpdatedAt = now
}

type CreateConversationParams struct {
	Type        types.ConversationType
	Name        string
	Avatar      string
	Description string
	Admin       string
	Members     []types.Member
	Permissions *types.Permissions
}

// MembersUpdate replaces the member list together with the admin roles.
// An empty Admin2 clears the role.
type MembersUpdate struct {
	Members []types.Member
	Admin   string
	Admin2  string
}

type GroupInfoUpdate struct {
	Name        *string
	Avatar      *string
	Permissions *types.Permissions
}

func (u GroupInfoUpdate) Apply(c *types.Conversation, now time.Time) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Avatar != nil {
		c.Avatar = *u.Avatar
	}
	if u.Permissions != nil {
		c.Permissions = *u.Permissions
	}
	c.UpdatedAt = now
}

func newMessage(id string, params CreateMessageParams, now time.Time) types.Message {
	msgType := params.Type
	if msgType == "" {
		msgType = types.MessageText
	}

	return types.Message{
		Id:                id,
		ConversationId:    params.ConversationId,
		Sender:            params.Sender,
		Content:           params.Content,
		Type:              msgType,
		SystemType:        params.SystemType,
		ReferencedMessage: params.ReferencedMessage,
		FileUrl:           params.FileUrl,
		FileName:          params.FileName,
		FileType:          params.FileType,
		IsForwarded:       params.IsForwarded,
		OriginalMessage:   params.OriginalMessage,
		ForwardedBy:       params.ForwardedBy,
		OriginalSender:    params.OriginalSender,
		DeletedBy:         []string{},
		Reactions:         map[string][]string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newConversation(id string, params CreateConversationParams, now time.Time) types.Conversation {
	perms := types.DefaultPermissions()
	if params.Permissions != nil {
		perms = *params.Permissions
	}

	return types.Conversation{
		Id:          id,
		Type:        params.Type,
		Name:        params.Name,
		Avatar:      params.Avatar,
		Description: params.Description,
		Admin:       params.Admin,
		Members:     slices.Clone(params.Members),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// now matches the millisecond precision every backend can store.
func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
