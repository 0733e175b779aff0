package server

import (
	"slices"
	"strings"
)

const (
	conversationRoomPrefix = "conversation:"
	mailboxRoomPrefix      = "mailbox:"
)

// ConversationRoom names the room carrying a conversation's live traffic.
func ConversationRoom(conversationId string) string {
	return conversationRoomPrefix + conversationId
}

// MailboxRoom names the room every connection of userId joins on registration.
func MailboxRoom(userId string) string {
	return mailboxRoomPrefix + userId
}

func isMailboxRoom(roomId string) bool {
	return strings.HasPrefix(roomId, mailboxRoomPrefix)
}

// RoomMembership tracks which connections belong to which rooms. Membership
// is never persisted.
type RoomMembership interface {
	Join(connId, roomId string)
	Leave(connId, roomId string)
	JoinMany(connId string, roomIds []string)
	// LeaveAll removes connId from every room and returns the rooms it left.
	LeaveAll(connId string) []string
	ListMembers(roomId string) []string
	RoomsOf(connId string) []string
}

// Rooms is an in-memory RoomMembership indexed both ways. It is not safe for
// concurrent use.
type Rooms struct {
	members map[string]map[string]struct{}
	joined  map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(connId, roomId string) {
	if connId == "" || roomId == "" {
		return
	}
	addTo(r.members, roomId, connId)
	addTo(r.joined, connId, roomId)
}

func (r *Rooms) Leave(connId, roomId string) {
	removeFrom(r.members, roomId, connId)
	removeFrom(r.joined, connId, roomId)
}

func (r *Rooms) JoinMany(connId string, roomIds []string) {
	for _, id := range roomIds {
		r.Join(connId, id)
	}
}

func (r *Rooms) LeaveAll(connId string) []string {
	left := sortedKeys(r.joined[connId])
	for _, roomId := range left {
		removeFrom(r.members, roomId, connId)
	}
	delete(r.joined, connId)
	return left
}

func (r *Rooms) ListMembers(roomId string) []string {
	return sortedKeys(r.members[roomId])
}

func (r *Rooms) RoomsOf(connId string) []string {
	return sortedKeys(r.joined[connId])
}

func addTo(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
