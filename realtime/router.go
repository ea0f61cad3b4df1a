package realtime

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DirectRoom is the room of the direct conversation between a and b. It does
// not depend on argument order.
func DirectRoom(a, b uint) string {
	return ConversationRoom([]uint{a, b})
}

// ConversationRoom names the room of a conversation from its participants.
func ConversationRoom(participants []uint) string {
	ids := append([]uint(nil), participants...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "chat_" + strings.Join(parts, "_")
}

// PersonalRoom receives notifications addressed to one user on every device.
func PersonalRoom(userID uint) string {
	return fmt.Sprintf("user_%d", userID)
}

// Router tracks room membership of live clients and fans frames out to them.
type Router struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	byUser      map[uint]map[string]*Client
	rooms       map[string]map[string]*Client
	memberships map[string]map[string]struct{}
}

func NewRouter() *Router {
	return &Router{
		clients:     make(map[string]*Client),
		byUser:      make(map[uint]map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		memberships: make(map[string]map[string]struct{}),
	}
}

func (r *Router) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[string]*Client)
	}
	r.byUser[c.UserID][c.ID] = c
	if r.memberships[c.ID] == nil {
		r.memberships[c.ID] = make(map[string]struct{})
	}
}

// Unregister removes c from every room it joined.
func (r *Router) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.memberships[c.ID] {
		r.leaveLocked(c.ID, room)
	}
	delete(r.memberships, c.ID)
	delete(r.clients, c.ID)
	if set := r.byUser[c.UserID]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
}

// Join adds a registered client to room. It reports false for unknown clients.
func (r *Router) Join(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(c, room)
}

func (r *Router) joinLocked(c *Client, room string) bool {
	if _, ok := r.clients[c.ID]; !ok {
		return false
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[room] = members
	}
	members[c.ID] = c
	r.memberships[c.ID][room] = struct{}{}
	return true
}

func (r *Router) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.ID, room)
}

func (r *Router) leaveLocked(connID, room string) {
	if members := r.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if m := r.memberships[connID]; m != nil {
		delete(m, room)
	}
}

// JoinUser adds every live connection of userID to room and returns how many
// joined.
func (r *Router) JoinUser(userID uint, room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.byUser[userID] {
		if r.joinLocked(c, room) {
			n++
		}
	}
	return n
}

func (r *Router) InRoom(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c.ID]
	return ok
}

// Rooms lists the rooms c belongs to, sorted.
func (r *Router) Rooms(c *Client) []string {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.memberships[c.ID]))
	for room := range r.memberships[c.ID] {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()
	sort.Strings(rooms)
	return rooms
}

func (r *Router) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// BroadcastToRoom queues frame for every member of room and returns the number
// of clients that accepted it.
func (r *Router) BroadcastToRoom(room string, frame []byte) int {
	return r.BroadcastToRoomExcept(room, frame, 0)
}

// BroadcastToRoomExcept skips every connection of excludeUserID. Zero
// excludes nobody.
func (r *Router) BroadcastToRoomExcept(room string, frame []byte, excludeUserID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.rooms[room] {
		if excludeUserID != 0 && c.UserID == excludeUserID {
			continue
		}
		if c.Send(frame) {
			n++
		}
	}
	return n
}

// EmitToUser delivers frame through the personal room of userID. It does
// nothing when the user is offline or unsubscribed.
func (r *Router) EmitToUser(userID uint, frame []byte) int {
	return r.BroadcastToRoom(PersonalRoom(userID), frame)
}

// BroadcastAll queues frame for every registered client except the
// connections of excludeUserID.
func (r *Router) BroadcastAll(frame []byte, excludeUserID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.clients {
		if excludeUserID != 0 && c.UserID == excludeUserID {
			continue
		}
		if c.Send(frame) {
			n++
		}
	}
	return n
}

func (r *Router) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
