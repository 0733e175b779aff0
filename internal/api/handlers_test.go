package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/server"
	"github.com/npezzotti/go-chat-realtime/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedConversation(t *testing.T, store database.Store, members ...string) types.Conversation {
	t.Helper()

	params := database.CreateConversationParams{Type: types.ConversationPrivate}
	for _, id := range members {
		params.Members = append(params.Members, types.Member{UserId: id, Role: types.RoleMember})
	}

	conv, err := store.CreateConversation(context.Background(), params)
	require.NoError(t, err)
	return conv
}

func authRequest(t *testing.T, app *ChatApp, method, target, userId string, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userId != "" {
		token, err := app.createJwt(userId, defaultJwtExpiration)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealthCheck(t *testing.T) {
	t.Run("store reachable", func(t *testing.T) {
		app, _ := newTestApp(t, database.NewMemoryStore())

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("store unreachable", func(t *testing.T) {
		store := &database.MockStore{}
		store.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		app, _ := newTestApp(t, store)

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		store.AssertExpectations(t)
	})
}

func TestCreateMessage(t *testing.T) {
	store := database.NewMemoryStore()
	app, _ := newTestApp(t, store)
	conv := seedConversation(t, store, "u1", "u2")

	tcases := []struct {
		name   string
		userId string
		body   string
		status int
		code   string
	}{
		{
			name:   "created",
			userId: "u1",
			body:   `{"idConversation":"` + conv.Id + `","content":"hi","type":"text"}`,
			status: http.StatusCreated,
		},
		{
			name:   "no token",
			body:   `{"idConversation":"` + conv.Id + `","content":"hi"}`,
			status: http.StatusUnauthorized,
		},
		{
			name:   "malformed body",
			userId: "u1",
			body:   `{"idConversation":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing content",
			userId: "u1",
			body:   `{"idConversation":"` + conv.Id + `"}`,
			status: http.StatusBadRequest,
			code:   server.CodeMissingData,
		},
		{
			name:   "unknown conversation",
			userId: "u1",
			body:   `{"idConversation":"nope","content":"hi"}`,
			status: http.StatusNotFound,
			code:   server.CodeConversationNotFound,
		},
		{
			name:   "not a member",
			userId: "u3",
			body:   `{"idConversation":"` + conv.Id + `","content":"hi"}`,
			status: http.StatusForbidden,
			code:   server.CodeNotAMember,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, authRequest(t, app, http.MethodPost, "/api/messages", tc.userId, []byte(tc.body)))

			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusCreated {
				var msg types.Message
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
				assert.Equal(t, "u1", msg.Sender)
				assert.Equal(t, conv.Id, msg.ConversationId)
				assert.NotEmpty(t, msg.Id)
				return
			}
			if tc.code != "" {
				var apiErr ApiError
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
				assert.Equal(t, tc.code, apiErr.Code)
			}
		})
	}
}

func TestDeviceSync(t *testing.T) {
	app, _ := newTestApp(t, database.NewMemoryStore())

	tcases := []struct {
		name   string
		userId string
		path   string
		body   string
		status int
	}{
		{"accepted", "u1", "/api/users/u1/device-sync", `{"type":"settings"}`, http.StatusAccepted},
		{"other user", "u2", "/api/users/u1/device-sync", `{"type":"settings"}`, http.StatusForbidden},
		{"empty body", "u1", "/api/users/u1/device-sync", `{}`, http.StatusBadRequest},
		{"no token", "", "/api/users/u1/device-sync", `{"type":"settings"}`, http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, authRequest(t, app, http.MethodPost, tc.path, tc.userId, []byte(tc.body)))
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestGetPresence(t *testing.T) {
	app, _ := newTestApp(t, database.NewMemoryStore())

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authRequest(t, app, http.MethodGet, "/api/presence/u9", "u1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var info server.PresenceInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&info))
	assert.Equal(t, "u9", info.UserId)
	assert.False(t, info.Online)
	assert.Equal(t, types.StatusOffline, info.Status)
	assert.Equal(t, 0, info.Connections)
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) server.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg server.ServerMessage
		err := conn.ReadJSON(&msg)
		require.NoError(t, err, "waiting for %s", event)
		if msg.Event == event {
			return msg
		}
	}
}

func TestServeWs(t *testing.T) {
	store := database.NewMemoryStore()
	app, _ := newTestApp(t, store)
	conv := seedConversation(t, store, "u1", "u2")

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("invalid token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsUrl+"?token=invalid", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("message fan out", func(t *testing.T) {
		token, err := app.createJwt("u2", defaultJwtExpiration)
		require.NoError(t, err)

		conn, _, err := websocket.DefaultDialer.Dial(wsUrl+"?token="+token, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"id":    1,
			"event": server.EventJoinConversation,
			"data":  conv.Id,
		}))
		ack := readEvent(t, conn, server.EventJoinConversation+"_success")
		assert.Equal(t, 1, ack.Id)

		rr := httptest.NewRecorder()
		body := []byte(`{"idConversation":"` + conv.Id + `","content":"from http"}`)
		app.Handler().ServeHTTP(rr, authRequest(t, app, http.MethodPost, "/api/messages", "u1", body))
		require.Equal(t, http.StatusCreated, rr.Code)

		msg := readEvent(t, conn, server.EventNewMessage)
		data, ok := msg.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "from http", data["content"])
		assert.Equal(t, "u1", data["sender"])

		list := readEvent(t, conn, server.EventUpdateConversationList)
		assert.NotNil(t, list.Data)
	})
}
