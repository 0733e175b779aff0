package server

import (
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// Emit is one multicast produced by a handler. Targets are the union of
// Rooms, ToConn and, with Broadcast, every connection. Except is removed
// from the final set.
type Emit struct {
	Event     string
	Payload   any
	Rooms     []string
	ToConn    string
	Broadcast bool
	Except    string
}

func toRooms(event string, payload any, rooms ...string) *Emit {
	return &Emit{Event: event, Payload: payload, Rooms: rooms}
}

func toConversation(event string, payload any, conversationId string) *Emit {
	return toRooms(event, payload, ConversationRoom(conversationId))
}

func toMailbox(event string, payload any, userId string) *Emit {
	return toRooms(event, payload, MailboxRoom(userId))
}

func broadcast(event string, payload any) *Emit {
	return &Emit{Event: event, Payload: payload, Broadcast: true}
}

func (e *Emit) except(connId string) *Emit {
	e.Except = connId
	return e
}

// ConversationPreview is the reduced conversation shape pushed to mailboxes
// when a new message arrives. UnreadCount is advisory: 0 for the sender, 1
// for everyone else.
type ConversationPreview struct {
	Id          string                 `json:"_id"`
	Name        string                 `json:"name,omitempty"`
	Type        types.ConversationType `json:"type"`
	Avatar      string                 `json:"avatar,omitempty"`
	LastMessage types.Message          `json:"lastMessage"`
	UnreadCount int                    `json:"unreadCount"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

type ConversationListUpdate struct {
	Conversation any       `json:"conversation"`
	Action       string    `json:"action,omitempty"`
	IsNew        bool      `json:"isNew,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// newMessageEmits fans a created message out as one full emit to the
// conversation room and one preview per member mailbox.
func newMessageEmits(conv types.Conversation, msg types.Message, exceptConn string) []*Emit {
	emits := make([]*Emit, 0, len(conv.Members)+1)
	emits = append(emits, toConversation(EventNewMessage, msg, conv.Id).except(exceptConn))

	ts := Now()
	for _, userId := range conv.MemberIds() {
		unread := 1
		if userId == msg.Sender {
			unread = 0
		}

		preview := ConversationPreview{
			Id:          conv.Id,
			Name:        conv.Name,
			Type:        conv.Type,
			Avatar:      conv.Avatar,
			LastMessage: msg,
			UnreadCount: unread,
			UpdatedAt:   ts,
		}
		emits = append(emits, toMailbox(EventUpdateConversationList, ConversationListUpdate{
			Conversation: preview,
			Timestamp:    ts,
		}, userId))
	}

	return emits
}

// listRefresh pushes the conversation to each of userIds' mailboxes.
func listRefresh(conv types.Conversation, action string, userIds []string) []*Emit {
	ts := Now()
	emits := make([]*Emit, 0, len(userIds))
	for _, userId := range userIds {
		emits = append(emits, toMailbox(EventUpdateConversationList, ConversationListUpdate{
			Conversation: conv,
			Action:       action,
			Timestamp:    ts,
		}, userId))
	}
	return emits
}

// groupMutation orders the emits of a group change: the snapshot to the
// conversation room, then the targeted notifications, then a list refresh
// for every remaining member.
func groupMutation(conv types.Conversation, snapshot *Emit, targeted []*Emit, action string) []*Emit {
	emits := make([]*Emit, 0, 1+len(targeted)+len(conv.Members))
	if snapshot != nil {
		emits = append(emits, snapshot)
	}
	emits = append(emits, targeted...)
	return append(emits, listRefresh(conv, action, conv.MemberIds())...)
}

func groupUpdated(conv types.Conversation) *Emit {
	return toConversation(EventGroupUpdated, conv, conv.Id)
}

type MemberAdded struct {
	Conversation types.Conversation `json:"conversation"`
	Member       types.Member       `json:"member"`
}

type RemovedFromGroup struct {
	ConversationId string `json:"conversationId"`
	MemberId       string `json:"memberId"`
	RemovedBy      string `json:"removedBy"`
	GroupName      string `json:"groupName,omitempty"`
}

type ConversationDeleted struct {
	ConversationId string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type GroupMember struct {
	ConversationId string    `json:"conversationId"`
	UserId         string    `json:"userId"`
	Timestamp      time.Time `json:"timestamp"`
}

type GroupDeleted struct {
	ConversationId string    `json:"conversationId"`
	DeletedBy      string    `json:"deletedBy"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageRevoked struct {
	MessageId      string            `json:"messageId"`
	ConversationId string            `json:"conversationId"`
	Type           types.MessageType `json:"type"`
	HasFile        bool              `json:"hasFile"`
	RevokedAt      *time.Time        `json:"revokedAt"`
	RevokedBy      string            `json:"revokedBy"`
}

type MessageDeleted struct {
	MessageId      string `json:"messageId"`
	ConversationId string `json:"conversationId"`
	ForUser        string `json:"forUser"`
}

type MessageReaction struct {
	MessageId      string              `json:"messageId"`
	ConversationId string              `json:"conversationId"`
	Emoji          string              `json:"emoji"`
	UserId         string              `json:"userId"`
	Action         string              `json:"action"`
	Reactions      map[string][]string `json:"reactions"`
}

type MessagePinned struct {
	Message       types.Message  `json:"message"`
	Conversation  string         `json:"conversation"`
	SystemMessage *types.Message `json:"systemMessage,omitempty"`
}

type MessageUnpinned struct {
	MessageId     string         `json:"messageId"`
	Conversation  string         `json:"conversation"`
	SystemMessage *types.Message `json:"systemMessage,omitempty"`
}

type ConversationActivity struct {
	UserId         string    `json:"userId"`
	ConversationId string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type UserLeft struct {
	ConnectionId   string `json:"connectionId"`
	UserId         string `json:"userId,omitempty"`
	ConversationId string `json:"conversationId"`
}

// presenceChange announces userId's status to every other connection.
func presenceChange(status types.Status, userId, exceptConn string) *Emit {
	event := EventUserOnline
	if status == types.StatusOffline {
		event = EventUserOffline
	}
	return broadcast(event, userId).except(exceptConn)
}
