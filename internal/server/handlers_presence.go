package server

import (
	"context"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

type userRequest struct {
	UserId string `json:"userId"`
	Id     string `json:"_id"`
}

func (r userRequest) user() string {
	return firstNonEmpty(r.UserId, r.Id)
}

func (cs *ChatServer) handleJoinRoom(_ context.Context, req *Request) Result {
	var body userRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}

	userId := body.user()
	if userId == "" {
		return fail(missingData("userId"))
	}

	if auth := req.client.Authenticated(); auth != "" && auth != userId {
		return fail(AuthorizationError(CodeForbidden, "connection is authenticated as another user"))
	}

	var online *Emit
	if !cs.do(func() { online = cs.bindUser(req.client, userId) }) {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	res := reply(map[string]any{"userId": userId})
	if online != nil {
		res.Emits = append(res.Emits, online)
	}
	return res
}

func (cs *ChatServer) handleLeaveRoom(_ context.Context, req *Request) Result {
	var body userRequest
	if err := decode(req, &body); err != nil {
		return fail(err)
	}

	userId := body.user()
	if userId == "" {
		return fail(missingData("userId"))
	}

	var offline *Emit
	ok := cs.do(func() {
		if req.client.UserId() == userId {
			offline = cs.unbindUser(req.client)
		}
	})
	if !ok {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	res := reply(map[string]any{"userId": userId})
	if offline != nil {
		res.Emits = append(res.Emits, offline)
	}
	return res
}

// speaker resolves the user a presence event speaks for. A bound connection
// speaks only for its own user.
func speaker(req *Request, claimed string) (string, *EventError) {
	if req.UserId != "" && claimed != "" && claimed != req.UserId {
		return "", AuthorizationError(CodeForbidden, "connection is bound to another user")
	}
	if userId := firstNonEmpty(req.UserId, claimed); userId != "" {
		return userId, nil
	}
	return "", missingData("userId")
}

func (cs *ChatServer) handleUserStatus(_ context.Context, req *Request) Result {
	var body struct {
		UserId string       `json:"userId"`
		Status types.Status `json:"status"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.Status == "" {
		return fail(missingData("status"))
	}
	if body.Status != types.StatusOnline && body.Status != types.StatusOffline {
		return fail(ValidationError(CodeInvalidStatus, "status must be online or offline"))
	}
	userId, evErr := speaker(req, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	var changed bool
	if !cs.do(func() { changed = cs.presence.SetStatus(userId, body.Status) }) {
		return fail(UnavailableError(CodeServiceUnavailable, "service unavailable"))
	}

	res := reply(map[string]any{"userId": userId, "status": body.Status, "changed": changed})
	if changed {
		cs.log.Printf("status changed for %s: %s", userId, body.Status)
		res.Emits = append(res.Emits, presenceChange(body.Status, userId, req.ConnId))
	}
	return res
}

func (cs *ChatServer) handleAvatarUpdated(_ context.Context, req *Request) Result {
	var body struct {
		UserId    string `json:"userId"`
		AvatarUrl string `json:"avatarUrl"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.AvatarUrl == "" {
		return fail(missingData("avatarUrl"))
	}
	userId, evErr := speaker(req, body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	return emitOnly(broadcast(EventAvatarUpdated, map[string]any{
		"userId":    userId,
		"avatarUrl": body.AvatarUrl,
		"timestamp": Now(),
	}).except(req.ConnId))
}
