package server

import (
	"context"
	"encoding/json"
)

type conversationRef struct {
	ConversationId string `json:"conversationId"`
	IdConversation string `json:"idConversation"`
}

func (r conversationRef) id() string {
	return firstNonEmpty(r.ConversationId, r.IdConversation)
}

// conversationId reads a conversation id sent either bare or as an object.
func conversationId(req *Request) (string, *EventError) {
	var ref conversationRef
	id, err := decodeIdOrObject(req, &ref)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = ref.id()
	}
	if id == "" {
		return "", missingData("conversationId")
	}
	return id, nil
}

func (cs *ChatServer) handleJoinConversation(_ context.Context, req *Request) Result {
	id, evErr := conversationId(req)
	if evErr != nil {
		return fail(evErr)
	}

	if !cs.do(func() { cs.rooms.Join(req.ConnId, ConversationRoom(id)) }) {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	return reply(map[string]any{"conversationId": id})
}

func (cs *ChatServer) handleLeaveConversation(_ context.Context, req *Request) Result {
	id, evErr := conversationId(req)
	if evErr != nil {
		return fail(evErr)
	}

	if !cs.do(func() { cs.rooms.Leave(req.ConnId, ConversationRoom(id)) }) {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	return reply(map[string]any{"conversationId": id}, toConversation(EventUserLeft, UserLeft{
		ConnectionId:   req.ConnId,
		UserId:         req.UserId,
		ConversationId: id,
	}, id))
}

func (cs *ChatServer) handleJoinAllConversation(_ context.Context, req *Request) Result {
	var ids []string
	if err := json.Unmarshal(req.Data, &ids); err != nil {
		var body struct {
			ConversationIds []string `json:"conversationIds"`
		}
		if evErr := decode(req, &body); evErr != nil {
			return fail(evErr)
		}
		ids = body.ConversationIds
	}

	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			rooms = append(rooms, ConversationRoom(id))
		}
	}
	if len(rooms) == 0 {
		return fail(missingData("conversationIds"))
	}

	if !cs.do(func() { cs.rooms.JoinMany(req.ConnId, rooms) }) {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	return reply(map[string]any{"conversationIds": ids, "count": len(rooms)})
}
