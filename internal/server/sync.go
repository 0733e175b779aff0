package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
)

// syncTimestamp accepts an RFC 3339 string or epoch milliseconds.
type syncTimestamp struct {
	time.Time
}

func (t *syncTimestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

type SyncResult struct {
	ConversationId string          `json:"conversationId"`
	Messages       []types.Message `json:"messages"`
	Count          int             `json:"count"`
	Timestamp      time.Time       `json:"timestamp"`
}

// handleSyncMessages returns what a reconnecting device missed. Only the
// requesting connection receives the result.
func (cs *ChatServer) handleSyncMessages(ctx context.Context, req *Request) Result {
	var body struct {
		ConversationId       string        `json:"conversationId"`
		LastMessageTimestamp syncTimestamp `json:"lastMessageTimestamp"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.ConversationId == "" {
		return fail(missingData("conversationId"))
	}

	msgs, err := cs.store.GetMessagesSince(ctx, body.ConversationId, body.LastMessageTimestamp.Time)
	if err != nil {
		return fail(StoreError(err))
	}

	return replyAs(EventSyncMessagesResult, SyncResult{
		ConversationId: body.ConversationId,
		Messages:       msgs,
		Count:          len(msgs),
		Timestamp:      Now(),
	})
}

func (cs *ChatServer) handleRegisterDevice(_ context.Context, req *Request) Result {
	var body struct {
		UserId     string `json:"userId"`
		DeviceId   string `json:"deviceId"`
		DeviceType string `json:"deviceType"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if body.DeviceId == "" {
		return fail(missingData("userId", "deviceId", "deviceType"))
	}
	userId, evErr := req.actor(body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	device := types.Device{
		UserId:     userId,
		DeviceId:   body.DeviceId,
		DeviceType: body.DeviceType,
		Registered: Now(),
	}
	req.client.setDevice(device)
	cs.log.Printf("registered device %s (%s) for %s on %s", device.DeviceId, device.DeviceType, userId, req.ConnId)

	return replyAs(EventDeviceRegistered, map[string]any{
		"success":   true,
		"deviceId":  device.DeviceId,
		"timestamp": device.Registered,
	})
}

func (cs *ChatServer) handleSyncMessageStatus(_ context.Context, req *Request) Result {
	var body struct {
		MessageIds []string `json:"messageIds"`
		Status     string   `json:"status"`
		UserId     string   `json:"userId"`
	}
	if err := decode(req, &body); err != nil {
		return fail(err)
	}
	if len(body.MessageIds) == 0 || body.Status == "" {
		return fail(missingData("messageIds", "status", "userId"))
	}
	userId, evErr := req.actor(body.UserId)
	if evErr != nil {
		return fail(evErr)
	}

	return emitOnly(toMailbox(EventDeviceSync, map[string]any{
		"type":       "message_status",
		"messageIds": body.MessageIds,
		"status":     body.Status,
		"timestamp":  Now(),
	}, userId).except(req.ConnId))
}

// PublishDeviceSync pushes data to every connection of userId.
func (cs *ChatServer) PublishDeviceSync(userId string, data map[string]any) error {
	if userId == "" {
		return missingData("userId")
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["timestamp"] = Now()

	return cs.publish(toMailbox(EventDeviceSync, payload, userId))
}
