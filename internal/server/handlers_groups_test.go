package server

import (
	"context"
	"testing"

	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCreateConversation(t *testing.T) {
	cs, _ := startTestChatServer(t)
	alice := connect(t, cs, "alice", "u1")
	bob := connect(t, cs, "bob", "u2")
	drain(alice)

	sendEvent(t, cs, alice, EventCreateConversation, map[string]string{"userFrom": "u1", "userTo": "u2"})

	assert.Equal(t, []string{EventNewConversation, EventUpdateConversationList, successEvent(EventCreateConversation)},
		eventNames(drain(alice)))
	msgs := drain(bob)
	assert.Equal(t, []string{EventNewConversation, EventUpdateConversationList}, eventNames(msgs))
	assert.True(t, msgs[1].Data.(ConversationListUpdate).IsNew)

	sendEvent(t, cs, alice, EventCreateConversation, map[string]string{"userTo": "u1"})
	assertErrorCode(t, drain(alice), errorEvent(EventCreateConversation), CodeInvalidData)
}

func TestHandleCreateGroup(t *testing.T) {
	cs, _ := startTestChatServer(t)
	admin := connect(t, cs, "admin", "u1")
	member := connect(t, cs, "member", "u2")
	drain(admin)

	sendEvent(t, cs, admin, EventCreateGroup, map[string]any{
		"name":    "team",
		"admin":   "u1",
		"members": []string{"u2", "u3", "u2", "u1"},
	})

	msgs := drain(admin)
	assert.Equal(t, []string{EventGroupCreated, successEvent(EventCreateGroup)}, eventNames(msgs))
	conv := msgs[1].Data.(types.Conversation)
	assert.Equal(t, []string{"u1", "u2", "u3"}, conv.MemberIds())
	assert.Equal(t, types.RoleAdmin, conv.Members[0].Role)
	assert.Equal(t, types.DefaultPermissions(), conv.Permissions)

	update := findEvent(t, drain(member), EventUpdateConversationList).Data.(ConversationListUpdate)
	assert.Equal(t, "add_group", update.Action)

	sendEvent(t, cs, admin, EventCreateGroup, map[string]any{"name": "solo", "members": []string{"u1"}})
	assertErrorCode(t, drain(admin), errorEvent(EventCreateGroup), CodeMissingData)
}

func TestHandleAddMember(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	clients := joinAll(t, cs, conv.Id, "u1", "u2")
	newcomer := connect(t, cs, "conn-u3", "u3")
	for _, c := range clients {
		drain(c)
	}

	sendEvent(t, cs, clients[0], EventAddMemberToGroup, map[string]string{"groupId": conv.Id, "memberId": "u3"})

	assert.Equal(t, []string{EventMemberAdded, EventUpdateConversationList}, eventNames(drain(clients[1])))
	assert.Equal(t, []string{EventMemberAdded, EventUpdateConversationList}, eventNames(drain(newcomer)))
	assert.Equal(t, []string{EventMemberAdded, EventUpdateConversationList, successEvent(EventAddMemberToGroup)},
		eventNames(drain(clients[0])))

	stored, err := store.GetConversationById(context.Background(), conv.Id)
	require.NoError(t, err)
	assert.True(t, stored.HasMember("u3"))

	sendEvent(t, cs, clients[0], EventAddMemberToGroup, map[string]string{"groupId": conv.Id, "memberId": "u3"})
	assertErrorCode(t, drain(clients[0]), errorEvent(EventAddMemberToGroup), CodeMemberExists)
}

func TestHandleAddMember_permissions(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	perms := types.DefaultPermissions()
	perms.AddMembers = false
	_, err := store.UpdateGroupInfo(context.Background(), conv.Id, database.GroupInfoUpdate{Permissions: &perms})
	require.NoError(t, err)

	c := connect(t, cs, "c2", "u2")
	sendEvent(t, cs, c, EventAddMemberToGroup, map[string]string{"groupId": conv.Id, "memberId": "u3"})
	assertErrorCode(t, drain(c), errorEvent(EventAddMemberToGroup), CodeForbidden)

	outsider := connect(t, cs, "c9", "u9")
	sendEvent(t, cs, outsider, EventAddMemberToGroup, map[string]string{"groupId": conv.Id, "memberId": "u3"})
	assertErrorCode(t, drain(outsider), errorEvent(EventAddMemberToGroup), CodeNotAMember)
}

func TestHandleRemoveMember(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "m1", "m1", "m2", "m3")
	clients := joinAll(t, cs, conv.Id, "m1", "m2", "m3")
	m1, m2, m3 := clients[0], clients[1], clients[2]

	sendEvent(t, cs, m1, EventRemoveMemberFromGroup, map[string]string{"groupId": conv.Id, "memberId": "m3"})

	removed := drain(m3)
	assert.Equal(t, []string{EventRemovedFromGroup, EventConversationDeleted}, eventNames(removed))
	assert.Equal(t, "m1", removed[0].Data.(RemovedFromGroup).RemovedBy)

	assert.Equal(t, []string{EventGroupUpdated, EventUpdateConversationList}, eventNames(drain(m2)))
	assert.Equal(t, []string{EventGroupUpdated, EventUpdateConversationList, successEvent(EventRemoveMemberFromGroup)},
		eventNames(drain(m1)))

	assert.NotContains(t, cs.rooms.ListMembers(ConversationRoom(conv.Id)), m3.id)
	assert.Equal(t, []string{MailboxRoom("m3")}, cs.rooms.RoomsOf(m3.id))

	stored, err := store.GetConversationById(context.Background(), conv.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, stored.MemberIds())
}

func TestHandleRemoveMember_rules(t *testing.T) {
	tests := []struct {
		name     string
		actor    string
		memberId string
		wantCode string
	}{
		{name: "plain member", actor: "m3", memberId: "m4", wantCode: CodeForbidden},
		{name: "admin cannot be removed", actor: "m2", memberId: "m1", wantCode: CodeForbidden},
		{name: "admin2 cannot remove admin2", actor: "m2", memberId: "m2", wantCode: CodeForbidden},
		{name: "unknown member", actor: "m1", memberId: "m9", wantCode: CodeMemberNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, store := startTestChatServer(t)
			conv := seedConversation(t, store, types.ConversationGroup, "m1", "m1", "m2", "m3", "m4")
			_, err := store.UpdateMembers(context.Background(), conv.Id, database.MembersUpdate{
				Members: conv.Members, Admin: "m1", Admin2: "m2",
			})
			require.NoError(t, err)

			c := connect(t, cs, "c-"+tt.actor, tt.actor)
			sendEvent(t, cs, c, EventRemoveMemberFromGroup, map[string]string{"groupId": conv.Id, "memberId": tt.memberId})

			assertErrorCode(t, drain(c), errorEvent(EventRemoveMemberFromGroup), tt.wantCode)
		})
	}

	t.Run("removing admin2 clears the role", func(t *testing.T) {
		cs, store := startTestChatServer(t)
		conv := seedConversation(t, store, types.ConversationGroup, "m1", "m1", "m2", "m3")
		_, err := store.UpdateMembers(context.Background(), conv.Id, database.MembersUpdate{
			Members: conv.Members, Admin: "m1", Admin2: "m2",
		})
		require.NoError(t, err)

		c := connect(t, cs, "c-m1", "m1")
		sendEvent(t, cs, c, EventRemoveMemberFromGroup, map[string]string{"groupId": conv.Id, "memberId": "m2"})

		stored, err := store.GetConversationById(context.Background(), conv.Id)
		require.NoError(t, err)
		assert.Empty(t, stored.Admin2)
		assert.Equal(t, []string{"m1", "m3"}, stored.MemberIds())
	})
}

func TestHandleLeaveGroup(t *testing.T) {
	t.Run("admin hands over", func(t *testing.T) {
		cs, store := startTestChatServer(t)
		conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2", "u3")
		clients := joinAll(t, cs, conv.Id, "u1", "u2", "u3")

		sendEvent(t, cs, clients[0], EventLeaveGroup, map[string]string{"groupId": conv.Id})

		assert.Equal(t, []string{EventGroupLeft, successEvent(EventLeaveGroup)}, eventNames(drain(clients[0])))
		assert.Equal(t, []string{EventGroupUpdated, EventUpdateConversationList}, eventNames(drain(clients[1])))

		stored, err := store.GetConversationById(context.Background(), conv.Id)
		require.NoError(t, err)
		assert.Equal(t, "u2", stored.Admin)
		assert.Equal(t, types.RoleAdmin, stored.Members[0].Role)
		assert.Equal(t, []string{"u2", "u3"}, stored.MemberIds())
	})

	t.Run("last member deletes the group", func(t *testing.T) {
		cs, store := startTestChatServer(t)
		conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1")
		seedMessage(t, store, conv.Id, "u1")
		clients := joinAll(t, cs, conv.Id, "u1")

		sendEvent(t, cs, clients[0], EventLeaveGroup, map[string]string{"groupId": conv.Id})

		assert.Equal(t, []string{EventGroupLeft, successEvent(EventLeaveGroup)}, eventNames(drain(clients[0])))
		_, err := store.GetConversationById(context.Background(), conv.Id)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.Empty(t, cs.rooms.ListMembers(ConversationRoom(conv.Id)))
	})

	t.Run("not a member", func(t *testing.T) {
		cs, store := startTestChatServer(t)
		conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
		c := connect(t, cs, "c9", "u9")

		sendEvent(t, cs, c, EventLeaveGroup, map[string]string{"groupId": conv.Id})

		assertErrorCode(t, drain(c), errorEvent(EventLeaveGroup), CodeNotAMember)
	})
}

func TestHandleUpdateGroupInfo(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	perms := types.DefaultPermissions()
	perms.ChangeName = false
	_, err := store.UpdateGroupInfo(context.Background(), conv.Id, database.GroupInfoUpdate{Permissions: &perms})
	require.NoError(t, err)
	clients := joinAll(t, cs, conv.Id, "u1", "u2")

	sendEvent(t, cs, clients[1], EventUpdateGroupInfo, map[string]string{"groupId": conv.Id, "name": "renamed"})
	assertErrorCode(t, drain(clients[1]), errorEvent(EventUpdateGroupInfo), CodeForbidden)

	sendEvent(t, cs, clients[1], EventUpdateGroupInfo, map[string]string{"groupId": conv.Id, "avatar": "a.png"})
	msgs := drain(clients[1])
	assert.Equal(t, []string{EventGroupUpdated, EventUpdateConversationList, successEvent(EventUpdateGroupInfo)}, eventNames(msgs))
	assert.Equal(t, "a.png", msgs[0].Data.(types.Conversation).Avatar)

	sendEvent(t, cs, clients[0], EventUpdateGroupInfo, map[string]string{"groupId": conv.Id, "name": "renamed"})
	updated := findEvent(t, drain(clients[1]), EventGroupUpdated).Data.(types.Conversation)
	assert.Equal(t, "renamed", updated.Name)
}

func TestHandleUpdateGroupPermissions(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	clients := joinAll(t, cs, conv.Id, "u1", "u2")
	perms := map[string]any{"groupId": conv.Id, "permissions": types.Permissions{ChangeName: true}}

	sendEvent(t, cs, clients[1], EventUpdateGroupPermissions, perms)
	assertErrorCode(t, drain(clients[1]), errorEvent(EventUpdateGroupPermissions), CodeForbidden)

	sendEvent(t, cs, clients[0], EventUpdateGroupPermissions, perms)
	updated := findEvent(t, drain(clients[1]), EventGroupUpdated).Data.(types.Conversation)
	assert.Equal(t, types.Permissions{ChangeName: true}, updated.Permissions)
}

func TestHandleAdmin2(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2", "u3")
	clients := joinAll(t, cs, conv.Id, "u1", "u2", "u3")

	sendEvent(t, cs, clients[1], EventSetAdmin2, map[string]string{"groupId": conv.Id, "memberId": "u2"})
	assertErrorCode(t, drain(clients[1]), errorEvent(EventSetAdmin2), CodeForbidden)

	sendEvent(t, cs, clients[0], EventSetAdmin2, map[string]string{"groupId": conv.Id, "memberId": "u2"})
	assert.Equal(t, []string{EventGroupUpdated, EventAdmin2Assigned, EventUpdateConversationList}, eventNames(drain(clients[1])))
	assert.Equal(t, []string{EventGroupUpdated, EventUpdateConversationList}, eventNames(drain(clients[2])))

	stored, err := store.GetConversationById(context.Background(), conv.Id)
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.Admin2)
	assert.Equal(t, types.RoleAdmin2, stored.Members[1].Role)

	sendEvent(t, cs, clients[0], EventRemoveAdmin2, map[string]string{"groupId": conv.Id})
	assert.Equal(t, []string{EventGroupUpdated, EventAdmin2Removed, EventUpdateConversationList}, eventNames(drain(clients[1])))

	stored, err = store.GetConversationById(context.Background(), conv.Id)
	require.NoError(t, err)
	assert.Empty(t, stored.Admin2)
	assert.Equal(t, types.RoleMember, stored.Members[1].Role)

	sendEvent(t, cs, clients[0], EventRemoveAdmin2, map[string]string{"groupId": conv.Id})
	assertErrorCode(t, drain(clients[0]), errorEvent(EventRemoveAdmin2), CodeMemberNotFound)
}

func TestHandleDeleteGroup(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	msg := seedMessage(t, store, conv.Id, "u2")
	clients := joinAll(t, cs, conv.Id, "u1", "u2")
	away := connect(t, cs, "away-u2", "u2")

	sendEvent(t, cs, clients[0], EventDeleteGroup, map[string]string{"groupId": conv.Id})

	assert.Equal(t, []string{EventGroupDeleted}, eventNames(drain(clients[1])), "room and mailbox deliver once")
	assert.Equal(t, []string{EventGroupDeleted}, eventNames(drain(away)))
	assert.Equal(t, []string{EventGroupDeleted, successEvent(EventDeleteGroup)}, eventNames(drain(clients[0])))
	assert.Empty(t, cs.rooms.ListMembers(ConversationRoom(conv.Id)))

	_, err := store.GetConversationById(context.Background(), conv.Id)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = store.GetMessageById(context.Background(), msg.Id)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestHandleDeleteGroup_forbidden(t *testing.T) {
	cs, store := startTestChatServer(t)
	conv := seedConversation(t, store, types.ConversationGroup, "u1", "u1", "u2")
	perms := types.DefaultPermissions()
	perms.DeleteGroup = false
	_, err := store.UpdateGroupInfo(context.Background(), conv.Id, database.GroupInfoUpdate{Permissions: &perms})
	require.NoError(t, err)

	c := connect(t, cs, "c2", "u2")
	sendEvent(t, cs, c, EventDeleteGroup, map[string]string{"groupId": conv.Id})

	assertErrorCode(t, drain(c), errorEvent(EventDeleteGroup), CodeForbidden)
	_, err = store.GetConversationById(context.Background(), conv.Id)
	assert.NoError(t, err)
}

func TestHandleGroupActivity(t *testing.T) {
	cs, _ := startTestChatServer(t)
	clients := joinAll(t, cs, "conv1", "u1", "u2")

	sendEvent(t, cs, clients[0], EventGroupActivity, map[string]any{
		"conversationId": "conv1",
		"activityType":   "rename",
		"details":        map[string]string{"name": "new"},
	})

	data := findEvent(t, drain(clients[1]), EventGroupActivity).Data.(map[string]any)
	assert.Equal(t, "rename", data["activityType"])
	assert.Equal(t, "u1", data["actorId"])

	sendEvent(t, cs, clients[0], EventGroupActivity, map[string]any{"conversationId": "conv1"})
	assertErrorCode(t, drain(clients[0]), errorEvent(EventGroupActivity), CodeMissingData)
}
