package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/presence"
	"github.com/npezzotti/go-chat-realtime/internal/stats"
	"github.com/npezzotti/go-chat-realtime/internal/types"
	"golang.org/x/time/rate"
)

const actionQueueSize = 1024

var ErrServerStopped = errors.New("chat server stopped")

type Options struct {
	OutboundQueueSize int
	InboundQueueSize  int
	InboundRate       rate.Limit
	InboundBurst      int
	RevokeWindow      time.Duration
}

func DefaultOptions() Options {
	return Options{
		OutboundQueueSize: 256,
		InboundQueueSize:  64,
		InboundRate:       20,
		InboundBurst:      40,
		RevokeWindow:      24 * time.Hour,
	}
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer owns the connection table, presence and room membership. All
// of that state is touched only from the Run goroutine; everything else
// submits closures to it.
type ChatServer struct {
	log      *log.Logger
	store    database.Store
	stats    stats.StatsProvider
	presence *presence.Tracker
	rooms    RoomMembership
	router   *Router
	opts     Options
	clock    func() time.Time

	clients  map[string]*Client
	actions  chan func()
	stop     chan stopRequest
	stopping chan struct{}
	done     chan struct{}

	// mu guards stopped. Submitters hold it for reading while they queue.
	mu      sync.RWMutex
	stopped bool
}

func NewChatServer(logger *log.Logger, store database.Store, su stats.StatsProvider,
	tracker *presence.Tracker, rooms RoomMembership, opts Options) (*ChatServer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	if rooms == nil {
		rooms = NewRooms()
	}

	cs := &ChatServer{
		log:      logger,
		store:    store,
		stats:    su,
		presence: tracker,
		rooms:    rooms,
		router:   NewRouter(logger),
		opts:     opts,
		clock:    Now,
		clients:  make(map[string]*Client),
		actions:  make(chan func(), actionQueueSize),
		stop:     make(chan stopRequest),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	su.RegisterMetric(stats.ActiveClients)
	su.RegisterMetric(stats.OnlineUsers)
	su.RegisterCounter(stats.EventsHandled)
	su.RegisterCounter(stats.EventErrors)
	su.RegisterCounter(stats.DroppedMessages)

	cs.routes()

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case fn := <-cs.actions:
			fn()
		case req := <-cs.stop:
			cs.closeActions()

			cs.log.Println("shutting down clients")
			for id, c := range cs.clients {
				c.stopClient()
				delete(cs.clients, id)
			}
			cs.presence.Close()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// closeActions rejects further submissions and runs every action that was
// already accepted. Dispatcher only.
func (cs *ChatServer) closeActions() {
	close(cs.stopping)

	cs.mu.Lock()
	cs.stopped = true
	cs.mu.Unlock()

	for {
		select {
		case fn := <-cs.actions:
			fn()
		default:
			return
		}
	}
}

// submit queues fn on the dispatcher. It reports false once the server has
// begun stopping; an accepted fn always runs.
func (cs *ChatServer) submit(fn func()) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.stopped {
		return false
	}

	select {
	case cs.actions <- fn:
		return true
	case <-cs.stopping:
		return false
	}
}

// do runs fn on the dispatcher and waits for it to finish.
func (cs *ChatServer) do(fn func()) bool {
	finished := make(chan struct{})
	if !cs.submit(func() { fn(); close(finished) }) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopRequest{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient adds c to the connection table. A non-empty userId binds
// the connection right away, as when the handshake carried a verified token.
func (cs *ChatServer) RegisterClient(c *Client, userId string) error {
	ok := cs.do(func() {
		cs.log.Printf("adding connection %s", c.id)
		cs.clients[c.id] = c
		cs.stats.Incr(stats.ActiveClients)

		if userId != "" {
			c.setAuthenticated(userId)
			if e := cs.bindUser(c, userId); e != nil {
				cs.deliver(e)
			}
		}
	})
	if !ok {
		return ErrServerStopped
	}
	return nil
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.submit(func() {
		if _, ok := cs.clients[c.id]; !ok {
			return
		}
		cs.log.Printf("removing connection %s", c.id)
		delete(cs.clients, c.id)
		cs.stats.Decr(stats.ActiveClients)

		e := cs.unbindUser(c)
		cs.rooms.LeaveAll(c.id)
		if e != nil {
			cs.deliver(e)
		}
	})
}

// bindUser attaches userId to c and joins its mailbox. The returned emit is
// the online announcement, nil when the user already had a connection.
func (cs *ChatServer) bindUser(c *Client, userId string) *Emit {
	var offline *Emit
	if prev := c.UserId(); prev != "" {
		if prev == userId {
			return nil
		}
		offline = cs.unbindUser(c)
		if offline != nil {
			cs.deliver(offline)
		}
	}

	c.setUserId(userId)
	cs.rooms.Join(c.id, MailboxRoom(userId))

	if cs.presence.Register(userId, c.id) {
		cs.stats.Incr(stats.OnlineUsers)
		return presenceChange(types.StatusOnline, userId, c.id)
	}
	return nil
}

// unbindUser detaches c from its user. The returned emit is the offline
// announcement, nil while the user keeps other connections.
func (cs *ChatServer) unbindUser(c *Client) *Emit {
	userId := c.UserId()
	if userId == "" {
		return nil
	}

	cs.rooms.Leave(c.id, MailboxRoom(userId))
	c.setUserId("")

	if _, offline := cs.presence.Deregister(c.id); offline {
		cs.stats.Decr(stats.OnlineUsers)
		return presenceChange(types.StatusOffline, userId, c.id)
	}
	return nil
}

// resolve returns the deduplicated connections targeted by e.
func (cs *ChatServer) resolve(e *Emit) []*Client {
	seen := make(map[string]struct{})
	targets := make([]*Client, 0)

	add := func(connId string) {
		if connId == "" || connId == e.Except {
			return
		}
		if _, ok := seen[connId]; ok {
			return
		}
		c, ok := cs.clients[connId]
		if !ok {
			return
		}
		seen[connId] = struct{}{}
		targets = append(targets, c)
	}

	if e.Broadcast {
		for connId := range cs.clients {
			add(connId)
		}
	}
	for _, room := range e.Rooms {
		for _, connId := range cs.rooms.ListMembers(room) {
			add(connId)
		}
	}
	add(e.ToConn)

	return targets
}

// deliver queues e on every target connection. Dispatcher only.
func (cs *ChatServer) deliver(e *Emit) int {
	msg := NewServerMessage(e.Event, e.Payload)

	n := 0
	for _, c := range cs.resolve(e) {
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// dissolve empties a room. Dispatcher only.
func (cs *ChatServer) dissolve(roomId string) {
	for _, connId := range cs.rooms.ListMembers(roomId) {
		cs.rooms.Leave(connId, roomId)
	}
}

// evict removes every connection of userId from roomId.
func (cs *ChatServer) evict(userId, roomId string) {
	cs.do(func() {
		for _, connId := range cs.presence.Connections(userId) {
			cs.rooms.Leave(connId, roomId)
		}
	})
}

// publish delivers emits from outside the dispatcher.
func (cs *ChatServer) publish(emits ...*Emit) error {
	ok := cs.submit(func() {
		for _, e := range emits {
			cs.deliver(e)
		}
	})
	if !ok {
		return ErrServerStopped
	}
	return nil
}

// handleMessage runs one inbound event through the router and hands the
// result to the dispatcher.
func (cs *ChatServer) handleMessage(c *Client, msg *ClientMessage) {
	req := &Request{
		Id:       msg.Id,
		Event:    msg.Event,
		Data:     msg.Data,
		ConnId:   c.id,
		UserId:   c.UserId(),
		Received: msg.Timestamp,
		client:   c,
	}

	res := cs.router.Dispatch(context.Background(), req)

	cs.stats.Incr(stats.EventsHandled)
	if res.Err != nil {
		cs.stats.Incr(stats.EventErrors)
	}

	cs.submit(func() { cs.complete(c, req, res) })
}

func (cs *ChatServer) complete(c *Client, req *Request, res Result) {
	for _, e := range res.Emits {
		cs.deliver(e)
	}
	for _, room := range res.closeRooms {
		cs.dissolve(room)
	}

	switch {
	case res.Err != nil:
		c.queueMessage(ErrEvent(req.Id, req.Event, res.Err))
	case res.Reply != nil:
		c.queueMessage(NoErrOK(req.Id, req.Event, res.ReplyEvent, res.Reply))
	}
}

type PresenceInfo struct {
	UserId      string       `json:"userId"`
	Status      types.Status `json:"status"`
	Online      bool         `json:"online"`
	Connections int          `json:"connections"`
}

// Presence reports userId's current presence.
func (cs *ChatServer) Presence(userId string) (PresenceInfo, error) {
	info := PresenceInfo{UserId: userId}
	ok := cs.do(func() {
		info.Status = cs.presence.Status(userId)
		info.Online = cs.presence.Online(userId)
		info.Connections = len(cs.presence.Connections(userId))
	})
	if !ok {
		return info, ErrServerStopped
	}
	return info, nil
}

// Ping checks the backing store.
func (cs *ChatServer) Ping(ctx context.Context) error {
	return cs.store.Ping(ctx)
}
