package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chat-realtime/internal/stats"
	"github.com/npezzotti/go-chat-realtime/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	inbound    chan *ClientMessage
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once

	mu            sync.RWMutex
	userId        string
	authenticated string
	device        *types.Device
}

func NewClient(id string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	limit := cs.opts.InboundRate
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, max(cs.opts.OutboundQueueSize, 1)),
		inbound:    make(chan *ClientMessage, max(cs.opts.InboundQueueSize, 1)),
		limiter:    rate.NewLimiter(limit, max(cs.opts.InboundBurst, 1)),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userId
}

func (c *Client) setUserId(userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userId = userId
}

// Authenticated returns the identity verified at handshake, if any.
func (c *Client) Authenticated() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = userId
}

func (c *Client) Device() *types.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.device == nil {
		return nil
	}
	d := *c.device
	return &d
}

func (c *Client) setDevice(d types.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = &d
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for %s", c.id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for %s", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.receive(raw)
	}
}

// receive parses one frame and queues it for processing, answering
// malformed, rate limited or overflowing input directly.
func (c *Client) receive(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		c.log.Println("error parsing message:", err)
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	msg.Timestamp = Now()

	if !c.limiter.Allow() {
		c.queueMessage(ErrEvent(msg.Id, msg.Event, UnavailableError(CodeRateLimited, "rate limit exceeded")))
		return
	}

	select {
	case c.inbound <- &msg:
	default:
		c.log.Printf("inbound queue full for %s", c.id)
		c.queueMessage(ErrEvent(msg.Id, msg.Event, UnavailableError(CodeServiceUnavailable, "service unavailable")))
	}
}

// Process handles queued events one at a time, keeping per-connection order.
func (c *Client) Process() {
	for {
		select {
		case msg := <-c.inbound:
			c.chatServer.handleMessage(c, msg)
		case <-c.stop:
			return
		}
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send %q to %s, channel is full", msg.Event, c.id)
		c.chatServer.stats.Incr(stats.DroppedMessages)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}
