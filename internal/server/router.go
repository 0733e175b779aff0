package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"time"
)

// Request is one inbound event as seen by a handler.
type Request struct {
	Id       int
	Event    string
	Data     json.RawMessage
	ConnId   string
	UserId   string
	Received time.Time
	client   *Client
}

// actor resolves the acting user: the identity bound to the connection wins
// over any id claimed in the payload.
func (r *Request) actor(claimed ...string) (string, *EventError) {
	if r.UserId != "" {
		return r.UserId, nil
	}
	for _, id := range claimed {
		if id != "" {
			return id, nil
		}
	}
	return "", AuthorizationError(CodeUnauthenticated, "unauthenticated")
}

// Result is what every handler returns. Emits are delivered in order before
// the reply (or error) reaches the origin connection.
type Result struct {
	Reply      any
	ReplyEvent string
	Emits      []*Emit
	Err        *EventError

	// closeRooms are dissolved once the emits have been delivered.
	closeRooms []string
}

func reply(data any, emits ...*Emit) Result {
	return Result{Reply: data, Emits: emits}
}

func replyAs(event string, data any, emits ...*Emit) Result {
	return Result{Reply: data, ReplyEvent: event, Emits: emits}
}

func emitOnly(emits ...*Emit) Result {
	return Result{Emits: emits}
}

func fail(err *EventError) Result {
	return Result{Err: err}
}

type HandlerFunc func(ctx context.Context, req *Request) Result

// Router is the name to handler dispatch table.
type Router struct {
	log      *log.Logger
	handlers map[string]HandlerFunc
}

func NewRouter(logger *log.Logger) *Router {
	return &Router{
		log:      logger,
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

func (r *Router) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}

// Dispatch runs the handler registered for req.Event. A panicking handler
// yields an internal error result.
func (r *Router) Dispatch(ctx context.Context, req *Request) (res Result) {
	h, ok := r.handlers[req.Event]
	if !ok {
		return fail(ValidationError(CodeUnknownEvent, "unknown event: "+req.Event))
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("panic handling %q from %s: %v", req.Event, req.ConnId, p)
			res = fail(InternalError(fmt.Errorf("panic: %v", p)))
		}
	}()

	res = h(ctx, req)
	if res.Err != nil {
		switch res.Err.Kind {
		case KindStore, KindInternal:
			r.log.Printf("%s from %s failed: %v", req.Event, req.ConnId, res.Err)
		default:
			r.log.Printf("%s from %s rejected: %s (%s)", req.Event, req.ConnId, res.Err.Code, res.Err.Message)
		}
	}

	return res
}

func (cs *ChatServer) routes() {
	r := cs.router

	r.Handle(EventJoinRoom, cs.handleJoinRoom)
	r.Handle(EventLeaveRoom, cs.handleLeaveRoom)
	r.Handle(EventUserStatus, cs.handleUserStatus)
	r.Handle(EventAvatarUpdated, cs.handleAvatarUpdated)

	r.Handle(EventJoinConversation, cs.handleJoinConversation)
	r.Handle(EventLeaveConversation, cs.handleLeaveConversation)
	r.Handle(EventJoinAllConversation, cs.handleJoinAllConversation)

	r.Handle(EventSendMessage, cs.handleSendMessage)
	r.Handle(EventSeenMessage, cs.handleSeenMessage)
	r.Handle(EventMessageDelivered, cs.handleMessageDelivered)
	r.Handle(EventRevokeMessage, cs.handleRevokeMessage)
	r.Handle(EventDeleteMessage, cs.handleDeleteMessage)
	r.Handle(EventAddReaction, cs.handleReaction(true))
	r.Handle(EventRemoveReaction, cs.handleReaction(false))
	r.Handle(EventForwardMessage, cs.handleForwardMessage)
	r.Handle(EventPinMessage, cs.handlePin(true))
	r.Handle(EventUnpinMessage, cs.handlePin(false))
	r.Handle(EventTyping, cs.relayToConversation(EventUserTyping))
	r.Handle(EventStopTyping, cs.relayToConversation(EventUserStopTyping))
	r.Handle(EventViewingMessages, cs.relayToConversation(EventUserViewingMessages))
	r.Handle(EventStopViewingMessages, cs.relayToConversation(EventUserStopViewingMessages))

	r.Handle(EventCreateConversation, cs.handleCreateConversation)
	r.Handle(EventCreateGroup, cs.handleCreateGroup)
	r.Handle(EventAddMemberToGroup, cs.handleAddMember)
	r.Handle(EventRemoveMemberFromGroup, cs.handleRemoveMember)
	r.Handle(EventLeaveGroup, cs.handleLeaveGroup)
	r.Handle(EventUpdateGroupInfo, cs.handleUpdateGroupInfo)
	r.Handle(EventUpdateGroupPermissions, cs.handleUpdateGroupPermissions)
	r.Handle(EventSetAdmin2, cs.handleSetAdmin2)
	r.Handle(EventRemoveAdmin2, cs.handleRemoveAdmin2)
	r.Handle(EventDeleteGroup, cs.handleDeleteGroup)
	r.Handle(EventGroupActivity, cs.handleGroupActivity)

	r.Handle(EventSyncMessages, cs.handleSyncMessages)
	r.Handle(EventRegisterDevice, cs.handleRegisterDevice)
	r.Handle(EventSyncMessageStatus, cs.handleSyncMessageStatus)
}

// decode unmarshals the event payload into v.
func decode(req *Request, v any) *EventError {
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return missingData()
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return ValidationError(CodeInvalidData, "invalid data for "+req.Event)
	}
	return nil
}

// decodeIdOrObject accepts a payload sent either as a bare JSON string or as
// an object, which is decoded into v.
func decodeIdOrObject(req *Request, v any) (string, *EventError) {
	var id string
	if err := json.Unmarshal(req.Data, &id); err == nil {
		return id, nil
	}
	return "", decode(req, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
