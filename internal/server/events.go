package server

// Inbound events.
const (
	EventJoinRoom               = "join_room"
	EventLeaveRoom              = "leave_room"
	EventUserStatus             = "user_status"
	EventJoinConversation       = "join_conversation"
	EventLeaveConversation      = "leave_conversation"
	EventJoinAllConversation    = "join_all_conversation"
	EventSendMessage            = "send_message"
	EventSeenMessage            = "seen_message"
	EventMessageDelivered       = "message_delivered"
	EventRevokeMessage          = "revoke_message"
	EventDeleteMessage          = "delete_message"
	EventAddReaction            = "add_reaction"
	EventRemoveReaction         = "remove_reaction"
	EventForwardMessage         = "forward_message"
	EventPinMessage             = "pin_message"
	EventUnpinMessage           = "unpin_message"
	EventCreateConversation     = "create_conversation"
	EventCreateGroup            = "create_group"
	EventAddMemberToGroup       = "add_member_to_group"
	EventRemoveMemberFromGroup  = "remove_member_from_group"
	EventLeaveGroup             = "leave_group"
	EventUpdateGroupInfo        = "update_group_info"
	EventUpdateGroupPermissions = "update_group_permissions"
	EventSetAdmin2              = "set_admin2"
	EventRemoveAdmin2           = "remove_admin2"
	EventDeleteGroup            = "delete_group"
	EventGroupActivity          = "group_activity"
	EventSyncMessages           = "sync_messages"
	EventRegisterDevice         = "register_device"
	EventSyncMessageStatus      = "sync_message_status"
	EventTyping                 = "typing"
	EventStopTyping             = "stop_typing"
	EventViewingMessages        = "viewing_messages"
	EventStopViewingMessages    = "stop_viewing_messages"
	EventAvatarUpdated          = "avatar_updated"
)

// Outbound events that are not plain replies.
const (
	EventGenericError            = "error"
	EventUserOnline              = "user_online"
	EventUserOffline             = "user_offline"
	EventUserLeft                = "user_left"
	EventNewMessage              = "new_message"
	EventUpdateConversationList  = "update_conversation_list"
	EventMessageRevoked          = "message_revoked"
	EventMessageDeleted          = "message_deleted"
	EventMessageReaction         = "message_reaction"
	EventMessagePinned           = "message_pinned"
	EventMessageUnpinned         = "message_unpinned"
	EventNewConversation         = "new_conversation"
	EventGroupCreated            = "group_created"
	EventGroupUpdated            = "group_updated"
	EventMemberAdded             = "member_added"
	EventRemovedFromGroup        = "removed_from_group"
	EventConversationDeleted     = "conversation_deleted"
	EventGroupLeft               = "group_left"
	EventGroupDeleted            = "group_deleted"
	EventAdmin2Assigned          = "admin2_assigned"
	EventAdmin2Removed           = "admin2_removed"
	EventSyncMessagesResult      = "sync_messages_result"
	EventDeviceRegistered        = "device_registered"
	EventDeviceSync              = "device_sync"
	EventUserTyping              = "user_typing"
	EventUserStopTyping          = "user_stop_typing"
	EventUserViewingMessages     = "user_viewing_messages"
	EventUserStopViewingMessages = "user_stop_viewing_messages"
)

func successEvent(event string) string {
	return event + "_success"
}

func errorEvent(event string) string {
	return event + "_error"
}
