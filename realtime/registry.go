package realtime

import (
	"sort"
	"sync"
	"time"
)

// Registry maps users to their live connection ids. A user is online while
// the set is non-empty.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uint]map[string]struct{}
	lastSeen map[uint]time.Time
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[uint]map[string]struct{}),
		lastSeen: make(map[uint]time.Time),
		now:      time.Now,
	}
}

// AddConnection records connID for userID and reports whether it was the
// user's first connection.
func (r *Registry) AddConnection(userID uint, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// RemoveConnection forgets connID and reports whether it was the user's last
// connection. Unknown ids are ignored.
func (r *Registry) RemoveConnection(userID uint, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}
	delete(r.conns, userID)
	r.lastSeen[userID] = r.now()
	return true
}

func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// OnlineUsers returns the online user ids in ascending order.
func (r *Registry) OnlineUsers() []uint {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) ConnectionCount(userID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// LastSeen is the time the user's last connection closed.
func (r *Registry) LastSeen(userID uint) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}
