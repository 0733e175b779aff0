package server

import (
	"testing"

	"github.com/npezzotti/go-chat-realtime/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageEmits(t *testing.T) {
	conv := types.Conversation{
		Id:      "conv1",
		Type:    types.ConversationGroup,
		Members: []types.Member{{UserId: "u1"}, {UserId: "u2"}, {UserId: "u3"}},
	}
	msg := types.Message{Id: "m1", ConversationId: "conv1", Sender: "u2"}

	emits := newMessageEmits(conv, msg, "conn-x")
	require.Len(t, emits, 4)

	assert.Equal(t, EventNewMessage, emits[0].Event)
	assert.Equal(t, []string{ConversationRoom("conv1")}, emits[0].Rooms)
	assert.Equal(t, "conn-x", emits[0].Except)

	for i, userId := range []string{"u1", "u2", "u3"} {
		e := emits[i+1]
		assert.Equal(t, EventUpdateConversationList, e.Event)
		assert.Equal(t, []string{MailboxRoom(userId)}, e.Rooms)
		assert.Empty(t, e.Except)

		preview := e.Payload.(ConversationListUpdate).Conversation.(ConversationPreview)
		if userId == "u2" {
			assert.Equal(t, 0, preview.UnreadCount)
		} else {
			assert.Equal(t, 1, preview.UnreadCount)
		}
	}
}

func TestGroupMutation(t *testing.T) {
	conv := types.Conversation{Id: "g1", Members: []types.Member{{UserId: "u1"}, {UserId: "u2"}}}
	targeted := toMailbox(EventRemovedFromGroup, nil, "u3")

	emits := groupMutation(conv, groupUpdated(conv), []*Emit{targeted}, "remove_member")

	events := make([]string, 0, len(emits))
	for _, e := range emits {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{
		EventGroupUpdated,
		EventRemovedFromGroup,
		EventUpdateConversationList,
		EventUpdateConversationList,
	}, events)
	assert.Equal(t, "remove_member", emits[2].Payload.(ConversationListUpdate).Action)
}

func TestPresenceChange(t *testing.T) {
	e := presenceChange(types.StatusOffline, "u1", "c1")
	assert.Equal(t, EventUserOffline, e.Event)
	assert.True(t, e.Broadcast)
	assert.Equal(t, "c1", e.Except)
	assert.Equal(t, "u1", e.Payload)

	assert.Equal(t, EventUserOnline, presenceChange(types.StatusOnline, "u1", "").Event)
}
