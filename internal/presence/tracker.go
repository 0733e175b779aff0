// Package presence tracks which users have at least one live connection.
//
// A Tracker is not safe for concurrent use. The chat server's dispatcher
// goroutine owns it and serializes every call.
package presence

import (
	"slices"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

type Tracker struct {
	conns  map[string]map[string]struct{}
	owners map[string]string
	status map[string]types.Status
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{
		conns:  make(map[string]map[string]struct{}),
		owners: make(map[string]string),
		status: make(map[string]types.Status),
	}
}

// Register binds connId to userId. It reports true when the user went from
// zero to one active connection.
func (t *Tracker) Register(userId, connId string) bool {
	if t.closed || userId == "" || connId == "" {
		return false
	}

	if prev, ok := t.owners[connId]; ok {
		if prev == userId {
			return false
		}
		t.Deregister(connId)
	}

	set, ok := t.conns[userId]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userId] = set
	}
	set[connId] = struct{}{}
	t.owners[connId] = userId

	if len(set) == 1 {
		t.status[userId] = types.StatusOnline
		return true
	}
	return false
}

// Deregister unbinds connId. It returns the owning user and true when that
// user has no connections left.
func (t *Tracker) Deregister(connId string) (string, bool) {
	userId, ok := t.owners[connId]
	if !ok {
		return "", false
	}
	delete(t.owners, connId)

	set := t.conns[userId]
	delete(set, connId)
	if len(set) > 0 {
		return userId, false
	}

	delete(t.conns, userId)
	t.status[userId] = types.StatusOffline
	return userId, true
}

// SetStatus records an explicit status and reports whether it differs from
// the cached one.
func (t *Tracker) SetStatus(userId string, status types.Status) bool {
	if t.closed || userId == "" {
		return false
	}
	if t.Status(userId) == status {
		return false
	}
	t.status[userId] = status
	return true
}

// Status returns the cached status, offline for unknown users.
func (t *Tracker) Status(userId string) types.Status {
	if s, ok := t.status[userId]; ok {
		return s
	}
	return types.StatusOffline
}

func (t *Tracker) Online(userId string) bool {
	return len(t.conns[userId]) > 0
}

func (t *Tracker) Connections(userId string) []string {
	ids := make([]string, 0, len(t.conns[userId]))
	for id := range t.conns[userId] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *Tracker) UserOf(connId string) (string, bool) {
	userId, ok := t.owners[connId]
	return userId, ok
}

func (t *Tracker) OnlineUsers() []string {
	users := make([]string, 0, len(t.conns))
	for id := range t.conns {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// Close drops all state. Later registrations are ignored.
func (t *Tracker) Close() {
	t.closed = true
	clear(t.conns)
	clear(t.owners)
	clear(t.status)
}
