package server

import (
	"context"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// CreateMessageRequest is the input shared by every message creation path.
type CreateMessageRequest struct {
	ConversationId string            `json:"idConversation"`
	Sender         string            `json:"sender"`
	Content        string            `json:"content"`
	Type           types.MessageType `json:"type"`
	FileUrl        string            `json:"fileUrl"`
	FileName       string            `json:"fileName"`
	FileType       string            `json:"fileType"`
}

// CreateMessage validates and persists a message sent into a conversation.
// Fan-out is left to the caller.
func (cs *ChatServer) CreateMessage(ctx context.Context, req CreateMessageRequest) (types.Message, error) {
	msg, _, evErr := cs.createMessage(ctx, req)
	if evErr != nil {
		return msg, evErr
	}
	return msg, nil
}

func (cs *ChatServer) createMessage(ctx context.Context, req CreateMessageRequest) (types.Message, types.Conversation, *EventError) {
	if req.ConversationId == "" || req.Sender == "" || (req.Content == "" && req.FileUrl == "") {
		return types.Message{}, types.Conversation{}, missingData("idConversation", "sender", "content")
	}

	msgType := req.Type
	if msgType == "" {
		msgType = types.MessageText
	}
	if !msgType.Valid() || msgType == types.MessageSystem {
		return types.Message{}, types.Conversation{}, ValidationError(CodeInvalidData, "invalid message type: "+string(msgType))
	}

	conv, err := cs.store.GetConversationById(ctx, req.ConversationId)
	if err != nil {
		return types.Message{}, types.Conversation{}, lookupError(err, CodeConversationNotFound, "conversation not found")
	}
	if !conv.HasMember(req.Sender) {
		return types.Message{}, types.Conversation{}, AuthorizationError(CodeNotAMember, "sender is not a member of the conversation")
	}

	msg, err := cs.store.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId: conv.Id,
		Sender:         req.Sender,
		Content:        req.Content,
		Type:           msgType,
		FileUrl:        req.FileUrl,
		FileName:       req.FileName,
		FileType:       req.FileType,
	})
	if err != nil {
		return types.Message{}, types.Conversation{}, StoreError(err)
	}

	cs.updateLastMessage(ctx, conv.Id, msg.Id)
	return msg, conv, nil
}

// updateLastMessage moves the conversation's last-message pointer. A
// failure leaves the message in place and is only logged.
func (cs *ChatServer) updateLastMessage(ctx context.Context, conversationId, messageId string) {
	if err := cs.store.UpdateLastMessage(ctx, conversationId, messageId); err != nil {
		cs.log.Printf("partial failure: last message of %s not updated to %s: %v", conversationId, messageId, err)
	}
}

// PublishNewMessage fans an already persisted message out to the
// conversation room and every member's mailbox. exceptConn, when set, does
// not receive the room event.
func (cs *ChatServer) PublishNewMessage(ctx context.Context, msg types.Message, exceptConn string) error {
	conv, err := cs.store.GetConversationById(ctx, msg.ConversationId)
	if err != nil {
		return lookupError(err, CodeConversationNotFound, "conversation not found")
	}
	return cs.publish(newMessageEmits(conv, msg, exceptConn)...)
}

func (cs *ChatServer) handleSendMessage(ctx context.Context, req *Request) Result {
	var body CreateMessageRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if req.UserId != "" {
		body.Sender = req.UserId
	}

	msg, conv, evErr := cs.createMessage(ctx, body)
	if evErr != nil {
		return fail(evErr)
	}

	return reply(msg, newMessageEmits(conv, msg, "")...)
}

func (cs *ChatServer) handleSeenMessage(ctx context.Context, req *Request) Result {
	id, evErr := conversationId(req)
	if evErr != nil {
		return fail(evErr)
	}

	if err := cs.store.MarkConversationSeen(ctx, id); err != nil {
		return fail(StoreError(err))
	}

	return reply(map[string]any{"conversationId": id}, toConversation(EventSeenMessage, ConversationActivity{
		UserId:         req.UserId,
		ConversationId: id,
		Timestamp:      Now(),
	}, id))
}

func (cs *ChatServer) handleMessageDelivered(_ context.Context, req *Request) Result {
	var body struct {
		MessageId      string     `json:"messageId"`
		ConversationId string     `json:"conversationId"`
		UserId         string     `json:"userId"`
		DeliveredAt    *time.Time `json:"deliveredAt"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.MessageId == "" || body.ConversationId == "" {
		return fail(missingData("messageId", "conversationId"))
	}

	deliveredAt := Now()
	if body.DeliveredAt != nil {
		deliveredAt = body.DeliveredAt.UTC()
	}

	return emitOnly(toConversation(EventMessageDelivered, map[string]any{
		"messageId":      body.MessageId,
		"conversationId": body.ConversationId,
		"userId":         firstNonEmpty(req.UserId, body.UserId),
		"deliveredAt":    deliveredAt,
	}, body.ConversationId).except(req.ConnId))
}

type messageAction struct {
	MessageId      string `json:"messageId"`
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	Emoji          string `json:"emoji"`
}

// complete reports whether the action names a message, its conversation and
// an acting user, bound or claimed.
func (a messageAction) complete(req *Request) bool {
	return a.MessageId != "" && a.ConversationId != "" && firstNonEmpty(req.UserId, a.UserId) != ""
}

func (cs *ChatServer) handleRevokeMessage(ctx context.Context, req *Request) Result {
	var body messageAction
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if !body.complete(req) {
		return fail(missingData("messageId", "conversationId", "userId"))
	}
	actor, evErr := req.actor(body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	msg, err := cs.store.GetMessageById(ctx, body.MessageId)
	if err != nil {
		return fail(lookupError(err, CodeMessageNotFound, "message not found"))
	}
	if msg.Sender != actor {
		return fail(AuthorizationError(CodeUnauthorized, "only the sender can revoke a message"))
	}
	if msg.IsRevoked {
		return fail(ConflictError(CodeAlreadyRevoked, "message already revoked"))
	}
	if cs.opts.RevokeWindow > 0 && cs.clock().Sub(msg.CreatedAt) > cs.opts.RevokeWindow {
		return fail(ConflictError(CodeTimeLimitExceeded, "revoke window has passed"))
	}

	msg, err = cs.store.UpdateMessage(ctx, msg.Id, database.MessageUpdate{Revoke: true})
	if err != nil {
		return fail(StoreError(err))
	}

	return reply(msg, toConversation(EventMessageRevoked, MessageRevoked{
		MessageId:      msg.Id,
		ConversationId: msg.ConversationId,
		Type:           msg.Type,
		HasFile:        msg.FileUrl != "",
		RevokedAt:      msg.RevokedAt,
		RevokedBy:      actor,
	}, msg.ConversationId))
}

func (cs *ChatServer) handleDeleteMessage(ctx context.Context, req *Request) Result {
	var body messageAction
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if !body.complete(req) {
		return fail(missingData("messageId", "conversationId", "userId"))
	}
	actor, evErr := req.actor(body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	msg, err := cs.store.GetMessageById(ctx, body.MessageId)
	if err != nil {
		return fail(lookupError(err, CodeMessageNotFound, "message not found"))
	}
	if msg.DeletedFor(actor) {
		return fail(ConflictError(CodeAlreadyDeleted, "message already deleted"))
	}

	if _, err := cs.store.UpdateMessage(ctx, msg.Id, database.MessageUpdate{AddDeletedBy: actor}); err != nil {
		return fail(StoreError(err))
	}

	return emitOnly(&Emit{
		Event: EventMessageDeleted,
		Payload: MessageDeleted{
			MessageId:      msg.Id,
			ConversationId: msg.ConversationId,
			ForUser:        actor,
		},
		Rooms:  []string{MailboxRoom(actor)},
		ToConn: req.ConnId,
	})
}

func (cs *ChatServer) handleReaction(add bool) HandlerFunc {
	action := "remove"
	if add {
		action = "add"
	}

	return func(ctx context.Context, req *Request) Result {
		var body messageAction
		if err := decode(req, &body); err != nil {
			return fail(err)
		}
		if body.MessageId == "" || body.Emoji == "" {
			return fail(missingData("messageId", "conversationId", "userId", "emoji"))
		}
		actor, evErr := req.actor(body.UserId)
		if evErr != nil {
			return fail(evErr)
		}

		reaction := &database.Reaction{Emoji: body.Emoji, UserId: actor}
		update := database.MessageUpdate{RemoveReaction: reaction}
		if add {
			update = database.MessageUpdate{AddReaction: reaction}
		}

		msg, err := cs.store.UpdateMessage(ctx, body.MessageId, update)
		if err != nil {
			return fail(lookupError(err, CodeMessageNotFound, "message not found"))
		}

		return reply(msg, toConversation(EventMessageReaction, MessageReaction{
			MessageId:      msg.Id,
			ConversationId: msg.ConversationId,
			Emoji:          body.Emoji,
			UserId:         actor,
			Action:         action,
			Reactions:      msg.Reactions,
		}, msg.ConversationId))
	}
}

func (cs *ChatServer) handleForwardMessage(ctx context.Context, req *Request) Result {
	var body messageAction
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.MessageId == "" || body.ConversationId == "" {
		return fail(missingData("messageId", "conversationId", "userId"))
	}
	actor, evErr := req.actor(body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	orig, err := cs.store.GetMessageById(ctx, body.MessageId)
	if err != nil {
		return fail(lookupError(err, CodeMessageNotFound, "message not found"))
	}
	if orig.IsRevoked {
		return fail(ConflictError(CodeAlreadyRevoked, "cannot forward a revoked message"))
	}
	conv, err := cs.store.GetConversationById(ctx, body.ConversationId)
	if err != nil {
		return fail(lookupError(err, CodeConversationNotFound, "conversation not found"))
	}

	msg, err := cs.store.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId:  conv.Id,
		Sender:          actor,
		Content:         orig.Content,
		Type:            orig.Type,
		FileUrl:         orig.FileUrl,
		FileName:        orig.FileName,
		FileType:        orig.FileType,
		IsForwarded:     true,
		OriginalMessage: orig.Id,
		ForwardedBy:     actor,
		OriginalSender:  orig.Sender,
	})
	if err != nil {
		return fail(StoreError(err))
	}
	cs.updateLastMessage(ctx, conv.Id, msg.Id)

	return reply(msg, newMessageEmits(conv, msg, "")...)
}

func (cs *ChatServer) handlePin(pin bool) HandlerFunc {
	return func(ctx context.Context, req *Request) Result {
		var body messageAction
		if err := decode(req, &body); err != nil {
			return fail(err)
		}
		if body.MessageId == "" {
			return fail(missingData("messageId"))
		}
		actor := firstNonEmpty(req.UserId, body.UserId)

		msg, err := cs.store.GetMessageById(ctx, body.MessageId)
		if err != nil {
			return fail(lookupError(err, CodeMessageNotFound, "message not found"))
		}
		conv, err := cs.store.GetConversationById(ctx, msg.ConversationId)
		if err != nil {
			return fail(lookupError(err, CodeConversationNotFound, "conversation not found"))
		}

		if actor != "" && !conv.HasMember(actor) {
			return fail(AuthorizationError(CodeNotAMember, "not a member of the conversation"))
		}
		if conv.IsGroup() {
			if actor == "" {
				return fail(AuthorizationError(CodeUnauthenticated, "unauthenticated"))
			}
			if !conv.Permissions.PinMessages && !conv.IsManager(actor) {
				return fail(AuthorizationError(CodeForbidden, "not allowed to pin messages in this group"))
			}
		}

		msg, err = cs.store.UpdateMessage(ctx, msg.Id, database.MessageUpdate{
			Pin: &database.PinState{Pinned: pin, By: actor, At: cs.clock()},
		})
		if err != nil {
			return fail(StoreError(err))
		}

		sysMsg := cs.systemMessage(ctx, conv.Id, actor, msg.Id, pin)
		if pin {
			return reply(msg, toConversation(EventMessagePinned, MessagePinned{
				Message:       msg,
				Conversation:  conv.Id,
				SystemMessage: sysMsg,
			}, conv.Id))
		}
		return reply(msg, toConversation(EventMessageUnpinned, MessageUnpinned{
			MessageId:     msg.Id,
			Conversation:  conv.Id,
			SystemMessage: sysMsg,
		}, conv.Id))
	}
}

// systemMessage records a pin or unpin notice. It returns nil when the
// write fails.
func (cs *ChatServer) systemMessage(ctx context.Context, conversationId, actor, messageId string, pin bool) *types.Message {
	sysType, content := types.SystemUnpinMessage, "unpinned a message"
	if pin {
		sysType, content = types.SystemPinMessage, "pinned a message"
	}

	msg, err := cs.store.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId:    conversationId,
		Sender:            actor,
		Content:           content,
		Type:              types.MessageSystem,
		SystemType:        sysType,
		ReferencedMessage: messageId,
	})
	if err != nil {
		cs.log.Printf("partial failure: %s system message for %s: %v", sysType, messageId, err)
		return nil
	}
	return &msg
}

// relayToConversation forwards a transient activity signal to the rest of
// the conversation room. Nothing is persisted.
func (cs *ChatServer) relayToConversation(outEvent string) HandlerFunc {
	return func(_ context.Context, req *Request) Result {
		var body struct {
			conversationRef
			UserId string `json:"userId"`
		}
		if err := decode(req, &body); err != nil {
			return fail(err)
		}

		id := body.id()
		userId := firstNonEmpty(req.UserId, body.UserId)
		if id == "" || userId == "" {
			return fail(missingData("conversationId", "userId"))
		}

		return emitOnly(toConversation(outEvent, ConversationActivity{
			UserId:         userId,
			ConversationId: id,
			Timestamp:      Now(),
		}, id).except(req.ConnId))
	}
}
