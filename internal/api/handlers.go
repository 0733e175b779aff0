package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chat-realtime/internal/server"
	"github.com/teris-io/shortid"
)

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError && errResp.Err != nil {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.cs.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type createMessageRequest struct {
	server.CreateMessageRequest
	SocketId string `json:"socketId"`
}

// createMessage persists a message sent outside the websocket, for example
// after an upload, and fans it out like a realtime send. socketId names a
// connection that already shows the message.
func (s *ChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	req.Sender = userId

	msg, err := s.cs.CreateMessage(r.Context(), req.CreateMessageRequest)
	if err != nil {
		s.writeError(w, NewEventError(err))
		return
	}

	if err := s.cs.PublishNewMessage(r.Context(), msg, req.SocketId); err != nil {
		s.log.Printf("publish message %s: %v", msg.Id, err)
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) deviceSync(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}
	if r.PathValue("userId") != userId {
		s.writeError(w, NewForbiddenError())
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || len(data) == 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.cs.PublishDeviceSync(userId, data); err != nil {
		if errors.Is(err, server.ErrServerStopped) {
			s.writeError(w, NewServiceUnavailableError())
			return
		}
		s.writeError(w, NewEventError(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *ChatApp) getPresence(w http.ResponseWriter, r *http.Request) {
	info, err := s.cs.Presence(r.PathValue("userId"))
	if err != nil {
		s.writeError(w, NewServiceUnavailableError())
		return
	}

	s.writeJson(w, http.StatusOK, info)
}

// serveWs upgrades the request to a websocket. A valid token binds the
// connection to its user immediately; without one the client identifies
// itself later with join_room.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	var userId string
	if tokenString := tokenFromRequest(r); tokenString != "" {
		id, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to extract user id from token: %v", err)
			s.writeError(w, NewUnauthorizedError())
			return
		}
		userId = id
	}

	connId, err := shortid.Generate()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(connId, conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client, userId); err != nil {
		s.log.Printf("register %s: %v", connId, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
		return
	}

	go client.Write()
	go client.Process()
	go client.Read()
}
