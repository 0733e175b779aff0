package server

import (
	"context"
	"slices"

	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// groupRequest is the common shape of group mutation payloads.
type groupRequest struct {
	GroupId        string `json:"groupId"`
	ConversationId string `json:"conversationId"`
	MemberId       string `json:"memberId"`
	UserId         string `json:"userId"`
	ActorId        string `json:"actorId"`
}

func (r groupRequest) group() string {
	return firstNonEmpty(r.GroupId, r.ConversationId)
}

// loadGroup fetches a conversation and checks that it is a group.
func (cs *ChatServer) loadGroup(ctx context.Context, id string) (types.Conversation, *EventError) {
	conv, err := cs.store.GetConversationById(ctx, id)
	if err != nil {
		return conv, lookupError(err, CodeConversationNotFound, "conversation not found")
	}
	if !conv.IsGroup() {
		return conv, ValidationError(CodeInvalidData, "conversation is not a group")
	}
	return conv, nil
}

// withRoles rewrites each member's role from the admin assignments.
func withRoles(members []types.Member, admin, admin2 string) []types.Member {
	out := slices.Clone(members)
	for i := range out {
		switch out[i].UserId {
		case admin:
			out[i].Role = types.RoleAdmin
		case admin2:
			out[i].Role = types.RoleAdmin2
		default:
			out[i].Role = types.RoleMember
		}
	}
	return out
}

func (cs *ChatServer) updateMembers(ctx context.Context, conv types.Conversation, members []types.Member, admin, admin2 string) (types.Conversation, *EventError) {
	updated, err := cs.store.UpdateMembers(ctx, conv.Id, database.MembersUpdate{
		Members: withRoles(members, admin, admin2),
		Admin:   admin,
		Admin2:  admin2,
	})
	if err != nil {
		return conv, lookupError(err, CodeConversationNotFound, "conversation not found")
	}
	return updated, nil
}

func (cs *ChatServer) handleCreateConversation(ctx context.Context, req *Request) Result {
	var body struct {
		UserFrom string `json:"userFrom"`
		UserTo   string `json:"userTo"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.UserTo == "" {
		return fail(missingData("userFrom", "userTo"))
	}
	userFrom, evErr := req.actor(body.UserFrom)
	if evErr != nil {
		return fail(evErr)
	}
	if userFrom == body.UserTo {
		return fail(ValidationError(CodeInvalidData, "cannot start a conversation with yourself"))
	}

	conv, err := cs.store.CreateConversation(ctx, database.CreateConversationParams{
		Type: types.ConversationPrivate,
		Members: []types.Member{
			{UserId: userFrom, Role: types.RoleMember},
			{UserId: body.UserTo, Role: types.RoleMember},
		},
	})
	if err != nil {
		return fail(StoreError(err))
	}

	ts := Now()
	emits := []*Emit{
		toMailbox(EventNewConversation, conv, userFrom),
		toMailbox(EventNewConversation, conv, body.UserTo),
	}
	for _, userId := range conv.MemberIds() {
		emits = append(emits, toMailbox(EventUpdateConversationList, ConversationListUpdate{
			Conversation: conv,
			IsNew:        true,
			Timestamp:    ts,
		}, userId))
	}

	return reply(conv, emits...)
}

func (cs *ChatServer) handleCreateGroup(ctx context.Context, req *Request) Result {
	var body struct {
		Name        string             `json:"name"`
		Admin       string             `json:"admin"`
		Members     []string           `json:"members"`
		Avatar      string             `json:"avatar"`
		Description string             `json:"description"`
		Permissions *types.Permissions `json:"permissions"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	admin, evErr := req.actor(body.Admin)
	if evErr != nil {
		return fail(evErr)
	}

	members := []types.Member{{UserId: admin, Role: types.RoleAdmin}}
	for _, id := range body.Members {
		if id == "" || slices.ContainsFunc(members, func(m types.Member) bool { return m.UserId == id }) {
			continue
		}
		members = append(members, types.Member{UserId: id, Role: types.RoleMember})
	}
	if body.Name == "" || len(members) < 2 {
		return fail(missingData("name", "admin", "members"))
	}

	conv, err := cs.store.CreateConversation(ctx, database.CreateConversationParams{
		Type:        types.ConversationGroup,
		Name:        body.Name,
		Avatar:      body.Avatar,
		Description: body.Description,
		Admin:       admin,
		Members:     members,
		Permissions: body.Permissions,
	})
	if err != nil {
		return fail(StoreError(err))
	}

	ts := Now()
	emits := []*Emit{toMailbox(EventGroupCreated, conv, admin)}
	for _, userId := range conv.MemberIds() {
		if userId == admin {
			continue
		}
		emits = append(emits, toMailbox(EventUpdateConversationList, ConversationListUpdate{
			Conversation: conv,
			Action:       "add_group",
			IsNew:        true,
			Timestamp:    ts,
		}, userId))
	}

	return reply(conv, emits...)
}

func (cs *ChatServer) handleAddMember(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" || body.MemberId == "" {
		return fail(missingData("groupId", "memberId"))
	}
	actor, evErr := req.actor(body.ActorId, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if !conv.HasMember(actor) {
		return fail(AuthorizationError(CodeNotAMember, "not a member of the group"))
	}
	if !conv.IsManager(actor) && !conv.Permissions.AddMembers {
		return fail(AuthorizationError(CodeForbidden, "not allowed to add members"))
	}
	if conv.HasMember(body.MemberId) {
		return fail(ConflictError(CodeMemberExists, "user is already a member"))
	}

	member := types.Member{UserId: body.MemberId, Role: types.RoleMember}
	updated, evErr := cs.updateMembers(ctx, conv, append(slices.Clone(conv.Members), member), conv.Admin, conv.Admin2)
	if evErr != nil {
		return fail(evErr)
	}

	payload := MemberAdded{Conversation: updated, Member: member}
	return reply(updated, groupMutation(updated,
		toConversation(EventMemberAdded, payload, updated.Id),
		[]*Emit{toMailbox(EventMemberAdded, payload, member.UserId)},
		"add_member")...)
}

func (cs *ChatServer) handleRemoveMember(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" || body.MemberId == "" {
		return fail(missingData("groupId", "memberId"))
	}
	actor, evErr := req.actor(body.ActorId, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if !conv.IsManager(actor) {
		return fail(AuthorizationError(CodeForbidden, "only the admins can remove members"))
	}
	if body.MemberId == conv.Admin {
		return fail(AuthorizationError(CodeForbidden, "the group admin cannot be removed"))
	}
	if actor == conv.Admin2 && body.MemberId == conv.Admin2 {
		return fail(AuthorizationError(CodeForbidden, "admin2 cannot remove admin2"))
	}
	if !conv.HasMember(body.MemberId) {
		return fail(NotFoundError(CodeMemberNotFound, "member not found"))
	}

	admin2 := conv.Admin2
	if admin2 == body.MemberId {
		admin2 = ""
	}
	updated, evErr := cs.updateMembers(ctx, conv, conv.WithoutMember(body.MemberId), conv.Admin, admin2)
	if evErr != nil {
		return fail(evErr)
	}

	cs.evict(body.MemberId, ConversationRoom(conv.Id))

	ts := Now()
	targeted := []*Emit{
		toMailbox(EventRemovedFromGroup, RemovedFromGroup{
			ConversationId: conv.Id,
			MemberId:       body.MemberId,
			RemovedBy:      actor,
			GroupName:      conv.Name,
		}, body.MemberId),
		toMailbox(EventConversationDeleted, ConversationDeleted{ConversationId: conv.Id, Timestamp: ts}, body.MemberId),
	}

	return reply(updated, groupMutation(updated, groupUpdated(updated), targeted, "remove_member")...)
}

func (cs *ChatServer) handleLeaveGroup(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" {
		return fail(missingData("groupId"))
	}
	actor, evErr := req.actor(body.UserId, body.ActorId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if !conv.HasMember(actor) {
		return fail(AuthorizationError(CodeNotAMember, "not a member of the group"))
	}

	room := ConversationRoom(conv.Id)
	left := toMailbox(EventGroupLeft, GroupMember{ConversationId: conv.Id, UserId: actor, Timestamp: Now()}, actor)

	remaining := conv.WithoutMember(actor)
	if len(remaining) == 0 {
		if evErr := cs.deleteGroup(ctx, conv.Id); evErr != nil {
			return fail(evErr)
		}
		cs.evict(actor, room)
		res := reply(map[string]any{"conversationId": conv.Id, "deleted": true}, left)
		res.closeRooms = []string{room}
		return res
	}

	admin, admin2 := conv.Admin, conv.Admin2
	if actor == admin {
		admin = remaining[0].UserId
	}
	if actor == admin2 || admin == admin2 {
		admin2 = ""
	}

	updated, evErr := cs.updateMembers(ctx, conv, remaining, admin, admin2)
	if evErr != nil {
		return fail(evErr)
	}

	cs.evict(actor, room)

	return reply(map[string]any{"conversationId": conv.Id, "deleted": false},
		groupMutation(updated, groupUpdated(updated), []*Emit{left}, "leave_group")...)
}

func (cs *ChatServer) handleUpdateGroupInfo(ctx context.Context, req *Request) Result {
	var body struct {
		groupRequest
		Name   *string `json:"name"`
		Avatar *string `json:"avatar"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" || (body.Name == nil && body.Avatar == nil) {
		return fail(missingData("groupId", "name", "avatar"))
	}
	if body.Name != nil && *body.Name == "" {
		return fail(ValidationError(CodeInvalidData, "group name cannot be empty"))
	}
	actor, evErr := req.actor(body.UserId, body.ActorId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if !conv.HasMember(actor) {
		return fail(AuthorizationError(CodeNotAMember, "not a member of the group"))
	}
	if actor != conv.Admin {
		if body.Name != nil && !conv.Permissions.ChangeName {
			return fail(AuthorizationError(CodeForbidden, "not allowed to change the group name"))
		}
		if body.Avatar != nil && !conv.Permissions.ChangeAvatar {
			return fail(AuthorizationError(CodeForbidden, "not allowed to change the group avatar"))
		}
	}

	updated, err := cs.store.UpdateGroupInfo(ctx, conv.Id, database.GroupInfoUpdate{Name: body.Name, Avatar: body.Avatar})
	if err != nil {
		return fail(lookupError(err, CodeConversationNotFound, "conversation not found"))
	}

	return reply(updated, groupMutation(updated, groupUpdated(updated), nil, "update_group")...)
}

func (cs *ChatServer) handleUpdateGroupPermissions(ctx context.Context, req *Request) Result {
	var body struct {
		groupRequest
		Permissions *types.Permissions `json:"permissions"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" || body.Permissions == nil {
		return fail(missingData("groupId", "permissions"))
	}
	actor, evErr := req.actor(body.UserId, body.ActorId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if actor != conv.Admin {
		return fail(AuthorizationError(CodeForbidden, "only the admin can change permissions"))
	}

	updated, err := cs.store.UpdateGroupInfo(ctx, conv.Id, database.GroupInfoUpdate{Permissions: body.Permissions})
	if err != nil {
		return fail(lookupError(err, CodeConversationNotFound, "conversation not found"))
	}

	return reply(updated, groupMutation(updated, groupUpdated(updated), nil, "update_permissions")...)
}

func (cs *ChatServer) handleSetAdmin2(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" || body.MemberId == "" {
		return fail(missingData("groupId", "memberId"))
	}
	actor, evErr := req.actor(body.ActorId, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if actor != conv.Admin {
		return fail(AuthorizationError(CodeForbidden, "only the admin can assign admin2"))
	}
	if !conv.HasMember(body.MemberId) {
		return fail(NotFoundError(CodeMemberNotFound, "member not found"))
	}
	if body.MemberId == conv.Admin {
		return fail(ValidationError(CodeInvalidData, "the admin cannot also be admin2"))
	}

	updated, evErr := cs.updateMembers(ctx, conv, conv.Members, conv.Admin, body.MemberId)
	if evErr != nil {
		return fail(evErr)
	}

	assigned := toMailbox(EventAdmin2Assigned, GroupMember{
		ConversationId: conv.Id,
		UserId:         body.MemberId,
		Timestamp:      Now(),
	}, body.MemberId)

	return reply(updated, groupMutation(updated, groupUpdated(updated), []*Emit{assigned}, "set_admin2")...)
}

func (cs *ChatServer) handleRemoveAdmin2(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" {
		return fail(missingData("groupId"))
	}
	actor, evErr := req.actor(body.ActorId, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if actor != conv.Admin {
		return fail(AuthorizationError(CodeForbidden, "only the admin can remove admin2"))
	}
	former := conv.Admin2
	if former == "" {
		return fail(NotFoundError(CodeMemberNotFound, "group has no admin2"))
	}

	updated, evErr := cs.updateMembers(ctx, conv, conv.Members, conv.Admin, "")
	if evErr != nil {
		return fail(evErr)
	}

	removed := toMailbox(EventAdmin2Removed, GroupMember{
		ConversationId: conv.Id,
		UserId:         former,
		Timestamp:      Now(),
	}, former)

	return reply(updated, groupMutation(updated, groupUpdated(updated), []*Emit{removed}, "remove_admin2")...)
}

func (cs *ChatServer) handleDeleteGroup(ctx context.Context, req *Request) Result {
	var body groupRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.group() == "" {
		return fail(missingData("groupId"))
	}
	actor, evErr := req.actor(body.ActorId, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	conv, evErr := cs.loadGroup(ctx, body.group())
	if evErr != nil {
		return fail(evErr)
	}
	if actor != conv.Admin && !(conv.HasMember(actor) && conv.Permissions.DeleteGroup) {
		return fail(AuthorizationError(CodeForbidden, "not allowed to delete the group"))
	}

	if evErr := cs.deleteGroup(ctx, conv.Id); evErr != nil {
		return fail(evErr)
	}

	room := ConversationRoom(conv.Id)
	rooms := []string{room}
	for _, userId := range conv.MemberIds() {
		rooms = append(rooms, MailboxRoom(userId))
	}

	res := reply(map[string]any{"conversationId": conv.Id}, toRooms(EventGroupDeleted, GroupDeleted{
		ConversationId: conv.Id,
		DeletedBy:      actor,
		Timestamp:      Now(),
	}, rooms...))
	res.closeRooms = []string{room}
	return res
}

// deleteGroup removes the conversation. Its messages go first and a failure
// there does not stop the conversation from being deleted.
func (cs *ChatServer) deleteGroup(ctx context.Context, conversationId string) *EventError {
	if err := cs.store.DeleteConversationMessages(ctx, conversationId); err != nil {
		cs.log.Printf("partial failure: messages of %s not deleted: %v", conversationId, err)
	}
	if err := cs.store.DeleteConversation(ctx, conversationId); err != nil {
		return lookupError(err, CodeConversationNotFound, "conversation not found")
	}
	return nil
}

func (cs *ChatServer) handleGroupActivity(_ context.Context, req *Request) Result {
	var body struct {
		ConversationId string         `json:"conversationId"`
		ActivityType   string         `json:"activityType"`
		ActorId        string         `json:"actorId"`
		TargetId       string         `json:"targetId"`
		Details        map[string]any `json:"details"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.ConversationId == "" || body.ActivityType == "" {
		return fail(missingData("conversationId", "activityType"))
	}

	return emitOnly(toConversation(EventGroupActivity, map[string]any{
		"conversationId": body.ConversationId,
		"activityType":   body.ActivityType,
		"actorId":        firstNonEmpty(req.UserId, body.ActorId),
		"targetId":       body.TargetId,
		"details":        body.Details,
		"timestamp":      Now(),
	}, body.ConversationId))
}
