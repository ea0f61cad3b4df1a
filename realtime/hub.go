package realtime

import (
	"log"
	"time"
)

type HubOptions struct {
	Store          PresenceStore
	SweepInterval  time.Duration
	PersistTimeout time.Duration
	Metrics        *Metrics
}

// Hub ties the registry, presence, router and typing tracker together. It is
// the only realtime type the server and services talk to.
type Hub struct {
	registry *Registry
	router   *Router
	presence *Presence
	typing   *TypingTracker
	metrics  *Metrics
}

func NewHub(opts HubOptions) *Hub {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	registry := NewRegistry()
	router := NewRouter()
	return &Hub{
		registry: registry,
		router:   router,
		presence: NewPresence(registry, router, opts.Store, opts.PersistTimeout, metrics),
		typing:   NewTypingTracker(opts.SweepInterval, metrics),
		metrics:  metrics,
	}
}

func (h *Hub) Metrics() *Metrics { return h.metrics }

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Router() *Router { return h.router }

func (h *Hub) Typing() *TypingTracker { return h.typing }

func (h *Hub) Start() { h.typing.Start() }

func (h *Hub) Stop() { h.typing.Stop() }

// Connect registers c, subscribes it to its personal room and rooms, then runs
// the presence transition.
func (h *Hub) Connect(c *Client, rooms []string) {
	_ = h.ConnectLoading(c, func() ([]string, error) { return rooms, nil })
}

// ConnectLoading is Connect with the rooms loaded after c is registered, so a
// conversation created while they load still reaches c through
// JoinUserToRoom. A load error unregisters c.
func (h *Hub) ConnectLoading(c *Client, load func() ([]string, error)) error {
	h.router.Register(c)
	h.router.Join(c, PersonalRoom(c.UserID))
	rooms, err := load()
	if err != nil {
		h.router.Unregister(c)
		return err
	}
	for _, room := range rooms {
		h.router.Join(c, room)
	}
	h.metrics.Connections.Inc()
	h.presence.Connect(c)
	log.Printf("socket: user %d connected (conn %s, %d rooms)", c.UserID, c.ID, len(rooms)+1)
	return nil
}

// Disconnect releases everything c owned: typing entries, room memberships and
// registry membership.
func (h *Hub) Disconnect(c *Client) {
	for _, stop := range h.typing.ClearConnection(c.ID) {
		h.broadcastTypingStop(stop)
	}
	h.router.Unregister(c)
	h.presence.Disconnect(c)
	h.metrics.Connections.Dec()
	c.Close()
	log.Printf("socket: user %d disconnected (conn %s)", c.UserID, c.ID)
}

func (h *Hub) Join(c *Client, room string) bool {
	return h.router.Join(c, room)
}

// LeaveConversation removes c from room and stops any typing it asserted there.
func (h *Hub) LeaveConversation(c *Client, conversationID, room string) {
	for _, stop := range h.typing.ClearConnectionIn(conversationID, c.ID) {
		h.broadcastTypingStop(stop)
	}
	h.router.Leave(c, room)
}

func (h *Hub) Subscribe(c *Client) bool {
	return h.router.Join(c, PersonalRoom(c.UserID))
}

func (h *Hub) Unsubscribe(c *Client) {
	h.router.Leave(c, PersonalRoom(c.UserID))
}

// SetTyping updates the typing state asserted by c and broadcasts to the rest
// of the room when it changed.
func (h *Hub) SetTyping(c *Client, conversationID, room string, typing bool) bool {
	if !h.typing.Set(conversationID, room, c.UserID, c.ID, typing) {
		return false
	}
	event := EventTypingStopped
	if typing {
		event = EventUserTyping
	}
	h.BroadcastToRoomExcept(room, c.UserID, event, TypingPayload{
		ConversationID: conversationID,
		UserID:         c.UserID,
		IsTyping:       typing,
	})
	return true
}

func (h *Hub) broadcastTypingStop(stop TypingStop) {
	h.BroadcastToRoomExcept(stop.Room, stop.UserID, EventTypingStopped, TypingPayload{
		ConversationID: stop.ConversationID,
		UserID:         stop.UserID,
		IsTyping:       false,
	})
}

func (h *Hub) BroadcastToRoom(room, event string, data interface{}) int {
	return h.BroadcastToRoomExcept(room, 0, event, data)
}

func (h *Hub) BroadcastToRoomExcept(room string, excludeUserID uint, event string, data interface{}) int {
	frame, err := Encode(event, data)
	if err != nil {
		log.Printf("socket: encode %s: %v", event, err)
		return 0
	}
	return h.router.BroadcastToRoomExcept(room, frame, excludeUserID)
}

func (h *Hub) EmitToUser(userID uint, event string, data interface{}) int {
	frame, err := Encode(event, data)
	if err != nil {
		log.Printf("socket: encode %s: %v", event, err)
		return 0
	}
	return h.router.EmitToUser(userID, frame)
}

// JoinUserToRoom subscribes every live connection of userID to room.
func (h *Hub) JoinUserToRoom(userID uint, room string) int {
	return h.router.JoinUser(userID, room)
}

func (h *Hub) IsOnline(userID uint) bool {
	return h.registry.IsOnline(userID)
}

func (h *Hub) OnlineUsers() []uint {
	return h.registry.OnlineUsers()
}
