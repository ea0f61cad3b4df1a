package realtime

import (
	"context"
	"log"
	"time"
)

// PresenceStore mirrors the online flag of a user to persistent storage.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, userID uint, online bool, at time.Time) error
}

// Presence turns registry transitions into user_online and user_offline
// broadcasts. Transitions of one user are serialized.
type Presence struct {
	registry *Registry
	router   *Router
	store    PresenceStore
	timeout  time.Duration
	metrics  *Metrics
	locks    keyedMutex
	now      func() time.Time
}

func NewPresence(registry *Registry, router *Router, store PresenceStore, timeout time.Duration, metrics *Metrics) *Presence {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Presence{
		registry: registry,
		router:   router,
		store:    store,
		timeout:  timeout,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Connect registers c and announces the user when it is their first
// connection. c alone receives the current online snapshot.
func (p *Presence) Connect(c *Client) bool {
	unlock := p.locks.Lock(c.UserID)
	defer unlock()

	first := p.registry.AddConnection(c.UserID, c.ID)
	if first {
		p.transition(c.UserID, true)
	}
	c.Emit(EventOnlineUsersUpdated, OnlineUsersPayload{UserIDs: p.registry.OnlineUsers()})
	return first
}

// Disconnect forgets c and announces the user when it was their last
// connection.
func (p *Presence) Disconnect(c *Client) bool {
	unlock := p.locks.Lock(c.UserID)
	defer unlock()

	last := p.registry.RemoveConnection(c.UserID, c.ID)
	if last {
		p.transition(c.UserID, false)
	}
	return last
}

func (p *Presence) transition(userID uint, online bool) {
	at := p.now()
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	if p.metrics != nil {
		p.metrics.OnlineUsers.Set(float64(len(p.registry.OnlineUsers())))
	}

	frame, err := Encode(event, PresencePayload{UserID: userID, Timestamp: at})
	if err != nil {
		log.Printf("presence: encode %s: %v", event, err)
	} else {
		p.router.BroadcastAll(frame, userID)
	}

	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.UpdatePresence(ctx, userID, online, at); err != nil {
		log.Printf("presence: failed to persist online=%t for user %d: %v", online, userID, err)
	}
}
