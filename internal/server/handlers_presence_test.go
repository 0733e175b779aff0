package server

import (
	"testing"

	"github.com/npezzotti/go-chat-realtime/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleJoinRoom(t *testing.T) {
	t.Run("binds the connection", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "")

		sendEvent(t, cs, c, EventJoinRoom, map[string]string{"_id": "u1"})

		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, successEvent(EventJoinRoom), msgs[0].Event)
		assert.Equal(t, "u1", c.UserId())
		assert.Equal(t, []string{MailboxRoom("u1")}, cs.rooms.RoomsOf(c.id))
	})

	t.Run("missing user", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "")

		sendEvent(t, cs, c, EventJoinRoom, map[string]string{})

		assertErrorCode(t, drain(c), errorEvent(EventJoinRoom), CodeMissingData)
		assert.Empty(t, c.UserId())
	})

	t.Run("authenticated connection cannot claim another user", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "u1")

		sendEvent(t, cs, c, EventJoinRoom, map[string]string{"userId": "u2"})

		assertErrorCode(t, drain(c), errorEvent(EventJoinRoom), CodeForbidden)
		assert.Equal(t, "u1", c.UserId())
	})
}

func TestHandleLeaveRoom(t *testing.T) {
	cs, _ := startTestChatServer(t)
	observer := connect(t, cs, "observer", "")
	c := connect(t, cs, "c1", "")
	sendEvent(t, cs, c, EventJoinRoom, map[string]string{"userId": "u1"})
	drain(observer)
	drain(c)

	sendEvent(t, cs, c, EventLeaveRoom, map[string]string{"userId": "u1"})

	assert.Equal(t, []string{successEvent(EventLeaveRoom)}, eventNames(drain(c)))
	assert.Equal(t, []string{EventUserOffline}, eventNames(drain(observer)))
	assert.Empty(t, c.UserId())
	assert.Empty(t, cs.rooms.RoomsOf(c.id))
}

func TestHandleUserStatus(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]string
		wantCode string
	}{
		{
			name:     "missing status",
			data:     map[string]string{"userId": "u1"},
			wantCode: CodeMissingData,
		},
		{
			name:     "unknown status",
			data:     map[string]string{"userId": "u1", "status": "away"},
			wantCode: CodeInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, _ := startTestChatServer(t)
			c := connect(t, cs, "c1", "")

			sendEvent(t, cs, c, EventUserStatus, tt.data)

			assertErrorCode(t, drain(c), errorEvent(EventUserStatus), tt.wantCode)
		})
	}

	t.Run("repeated status broadcasts once", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		observer := connect(t, cs, "observer", "")
		c := connect(t, cs, "c1", "")

		status := map[string]string{"userId": "u9", "status": string(types.StatusOnline)}
		sendEvent(t, cs, c, EventUserStatus, status)
		sendEvent(t, cs, c, EventUserStatus, status)

		assert.Equal(t, []string{EventUserOnline}, eventNames(drain(observer)))
		assert.Equal(t, []string{successEvent(EventUserStatus), successEvent(EventUserStatus)}, eventNames(drain(c)))
	})
}

func TestHandleUserStatus_boundConnection(t *testing.T) {
	t.Run("rejects another user", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		observer := connect(t, cs, "observer", "")
		u2 := connect(t, cs, "b1", "u2")
		a1 := connect(t, cs, "a1", "u1")
		drain(observer)

		sendEvent(t, cs, a1, EventUserStatus, map[string]string{"userId": "u2", "status": string(types.StatusOffline)})

		assertErrorCode(t, drain(a1), errorEvent(EventUserStatus), CodeForbidden)
		assert.Empty(t, drain(observer))

		info, err := cs.Presence("u2")
		require.NoError(t, err)
		assert.Equal(t, types.StatusOnline, info.Status)

		cs.DeregisterClient(u2)
		flush(cs)
		assert.Equal(t, []string{EventUserOffline}, eventNames(drain(observer)))
	})

	t.Run("defaults to the bound user", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		observer := connect(t, cs, "observer", "")
		a1 := connect(t, cs, "a1", "u1")
		drain(observer)

		sendEvent(t, cs, a1, EventUserStatus, map[string]string{"status": string(types.StatusOffline)})

		msg := findEvent(t, drain(a1), successEvent(EventUserStatus))
		assert.Equal(t, "u1", msg.Data.(map[string]any)["userId"])
		assert.Equal(t, []string{EventUserOffline}, eventNames(drain(observer)))
	})
}

func TestHandleAvatarUpdated(t *testing.T) {
	cs, _ := startTestChatServer(t)
	observer := connect(t, cs, "observer", "")
	c := connect(t, cs, "c1", "")

	sendEvent(t, cs, c, EventAvatarUpdated, map[string]string{"userId": "u1", "avatarUrl": "https://cdn/a.png"})

	assert.Empty(t, drain(c))
	msg := findEvent(t, drain(observer), EventAvatarUpdated)
	assert.Equal(t, "https://cdn/a.png", msg.Data.(map[string]any)["avatarUrl"])

	bound := connect(t, cs, "c2", "u2")
	sendEvent(t, cs, bound, EventAvatarUpdated, map[string]string{"userId": "u1", "avatarUrl": "https://cdn/b.png"})
	assertErrorCode(t, drain(bound), errorEvent(EventAvatarUpdated), CodeForbidden)
}

func TestHandleConversationRooms(t *testing.T) {
	t.Run("join accepts a bare id or an object", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "")

		sendEvent(t, cs, c, EventJoinConversation, "conv1")
		sendEvent(t, cs, c, EventJoinConversation, map[string]string{"idConversation": "conv2"})

		assert.Equal(t, []string{ConversationRoom("conv1"), ConversationRoom("conv2")}, cs.rooms.RoomsOf(c.id))
	})

	t.Run("join all", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "")

		sendEvent(t, cs, c, EventJoinAllConversation, []string{"a", "b"})
		sendEvent(t, cs, c, EventJoinAllConversation, map[string][]string{"conversationIds": {"c"}})
		sendEvent(t, cs, c, EventJoinAllConversation, []string{})

		msgs := drain(c)
		assert.Equal(t, 2, countEvent(msgs, successEvent(EventJoinAllConversation)))
		assertErrorCode(t, msgs, errorEvent(EventJoinAllConversation), CodeMissingData)
		assert.Len(t, cs.rooms.RoomsOf(c.id), 3)
	})

	t.Run("leave notifies the room", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "u1")
		other := connect(t, cs, "c2", "u2")
		sendEvent(t, cs, c, EventJoinConversation, "conv1")
		sendEvent(t, cs, other, EventJoinConversation, "conv1")
		drain(c)
		drain(other)

		sendEvent(t, cs, c, EventLeaveConversation, map[string]string{"conversationId": "conv1"})

		assert.Equal(t, []string{successEvent(EventLeaveConversation)}, eventNames(drain(c)))
		left := findEvent(t, drain(other), EventUserLeft).Data.(UserLeft)
		assert.Equal(t, "u1", left.UserId)
		assert.Equal(t, []string{other.id}, cs.rooms.ListMembers(ConversationRoom("conv1")))
	})

	t.Run("missing conversation id", func(t *testing.T) {
		cs, _ := startTestChatServer(t)
		c := connect(t, cs, "c1", "")

		sendEvent(t, cs, c, EventJoinConversation, map[string]string{})

		assertErrorCode(t, drain(c), errorEvent(EventJoinConversation), CodeMissingData)
	})
}
