package types

import (
	"slices"
	"time"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleAdmin2 Role = "admin2"
)

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageFile         MessageType = "file"
	MessageVideo        MessageType = "video"
	MessageAudio        MessageType = "audio"
	MessageSystem       MessageType = "system"
	MessagePdf          MessageType = "pdf"
	MessageDoc          MessageType = "doc"
	MessageExcel        MessageType = "excel"
	MessagePresentation MessageType = "presentation"
	MessageGif          MessageType = "gif"
)

var messageTypes = []MessageType{
	MessageText, MessageImage, MessageFile, MessageVideo, MessageAudio, MessageSystem,
	MessagePdf, MessageDoc, MessageExcel, MessagePresentation, MessageGif,
}

func (t MessageType) Valid() bool {
	return slices.Contains(messageTypes, t)
}

type SystemType string

const (
	SystemPinMessage        SystemType = "pin_message"
	SystemUnpinMessage      SystemType = "unpin_message"
	SystemAddMember         SystemType = "add_member"
	SystemRemoveMember      SystemType = "remove_member"
	SystemLeaveGroup        SystemType = "leave_group"
	SystemChangeGroupName   SystemType = "change_group_name"
	SystemChangeGroupAvatar SystemType = "change_group_avatar"
	SystemSetAdmin2         SystemType = "set_admin2"
	SystemRemoveAdmin2      SystemType = "remove_admin2"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type Message struct {
	Id                string              `json:"_id"`
	ConversationId    string              `json:"idConversation"`
	Sender            string              `json:"sender"`
	Content           string              `json:"content"`
	Type              MessageType         `json:"type"`
	SystemType        SystemType          `json:"systemType,omitempty"`
	ReferencedMessage string              `json:"referencedMessage,omitempty"`
	Seen              bool                `json:"seen"`
	FileUrl           string              `json:"fileUrl,omitempty"`
	FileName          string              `json:"fileName,omitempty"`
	FileType          string              `json:"fileType,omitempty"`
	IsRevoked         bool                `json:"isRevoked"`
	RevokedAt         *time.Time          `json:"revokedAt,omitempty"`
	DeletedBy         []string            `json:"deletedBy"`
	Reactions         map[string][]string `json:"reactions"`
	IsForwarded       bool                `json:"isForwarded"`
	OriginalMessage   string              `json:"originalMessage,omitempty"`
	ForwardedBy       string              `json:"forwardedBy,omitempty"`
	OriginalSender    string              `json:"originalSender,omitempty"`
	IsPinned          bool                `json:"isPinned"`
	PinnedBy          string              `json:"pinnedBy,omitempty"`
	PinnedAt          *time.Time          `json:"pinnedAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// DeletedFor reports whether userId has hidden the message for themselves.
func (m Message) DeletedFor(userId string) bool {
	return slices.Contains(m.DeletedBy, userId)
}

type Member struct {
	UserId string `json:"idUser"`
	Role   Role   `json:"role"`
}

type Permissions struct {
	ChangeName    bool `json:"changeName"`
	ChangeAvatar  bool `json:"changeAvatar"`
	AddMembers    bool `json:"addMembers"`
	RemoveMembers bool `json:"removeMembers"`
	DeleteGroup   bool `json:"deleteGroup"`
	PinMessages   bool `json:"pinMessages"`
}

func DefaultPermissions() Permissions {
	return Permissions{
		ChangeName:    true,
		ChangeAvatar:  true,
		AddMembers:    true,
		RemoveMembers: true,
		DeleteGroup:   true,
		PinMessages:   true,
	}
}

type Conversation struct {
	Id          string           `json:"_id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name,omitempty"`
	Avatar      string           `json:"avatar,omitempty"`
	Description string           `json:"description,omitempty"`
	LastMessage string           `json:"lastMessage,omitempty"`
	Members     []Member         `json:"members"`
	Admin       string           `json:"admin,omitempty"`
	Admin2      string           `json:"admin2,omitempty"`
	Permissions Permissions      `json:"permissions"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (c Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

func (c Conversation) HasMember(userId string) bool {
	return c.memberIndex(userId) >= 0
}

func (c Conversation) memberIndex(userId string) int {
	return slices.IndexFunc(c.Members, func(m Member) bool { return m.UserId == userId })
}

// MemberIds returns the user ids of all members in membership order.
func (c Conversation) MemberIds() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserId)
	}
	return ids
}

// IsManager reports whether userId is the group's admin or admin2.
func (c Conversation) IsManager(userId string) bool {
	return userId != "" && (c.Admin == userId || c.Admin2 == userId)
}

// WithoutMember returns a copy of the member list with userId removed.
func (c Conversation) WithoutMember(userId string) []Member {
	return slices.DeleteFunc(slices.Clone(c.Members), func(m Member) bool {
		return m.UserId == userId
	})
}

type Device struct {
	UserId     string    `json:"userId"`
	DeviceId   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType,omitempty"`
	Registered time.Time `json:"registeredAt"`
}
