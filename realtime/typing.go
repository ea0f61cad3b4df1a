package realtime

import (
	"sort"
	"sync"
	"time"
)

// TypingStop describes a typing indicator that was cleared and must be
// announced with typing_stopped.
type TypingStop struct {
	ConversationID string
	Room           string
	UserID         uint
}

type typingSet struct {
	room  string
	users map[uint]string // user id -> owning connection id
}

// TypingTracker keeps, per conversation, the users currently typing. An entry
// belongs to the connection that asserted it.
type TypingTracker struct {
	mu       sync.Mutex
	convs    map[string]*typingSet
	interval time.Duration
	metrics  *Metrics

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewTypingTracker(interval time.Duration, metrics *Metrics) *TypingTracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TypingTracker{
		convs:    make(map[string]*typingSet),
		interval: interval,
		metrics:  metrics,
	}
}

// Set records or clears the typing state of userID and reports whether the
// visible state changed.
func (t *TypingTracker) Set(conversationID, room string, userID uint, connID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.convs[conversationID]
	if typing {
		if set == nil {
			set = &typingSet{room: room, users: make(map[uint]string)}
			t.convs[conversationID] = set
			t.updateGauge()
		}
		_, already := set.users[userID]
		set.users[userID] = connID
		return !already
	}

	if set == nil {
		return false
	}
	if _, ok := set.users[userID]; !ok {
		return false
	}
	delete(set.users, userID)
	return true
}

// ClearConnection drops every entry owned by connID.
func (t *TypingTracker) ClearConnection(connID string) []TypingStop {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stops []TypingStop
	for convID, set := range t.convs {
		for userID, owner := range set.users {
			if owner == connID {
				delete(set.users, userID)
				stops = append(stops, TypingStop{ConversationID: convID, Room: set.room, UserID: userID})
			}
		}
	}
	return stops
}

// ClearConnectionIn drops the entry connID owns in one conversation.
func (t *TypingTracker) ClearConnectionIn(conversationID, connID string) []TypingStop {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.convs[conversationID]
	if set == nil {
		return nil
	}
	var stops []TypingStop
	for userID, owner := range set.users {
		if owner == connID {
			delete(set.users, userID)
			stops = append(stops, TypingStop{ConversationID: conversationID, Room: set.room, UserID: userID})
		}
	}
	return stops
}

// Typing returns the users typing in a conversation, sorted.
func (t *TypingTracker) Typing(conversationID string) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.convs[conversationID]
	if set == nil {
		return nil
	}
	ids := make([]uint, 0, len(set.users))
	for id := range set.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sweep removes conversations whose typing set is empty and returns how many
// were removed.
func (t *TypingTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, set := range t.convs {
		if len(set.users) == 0 {
			delete(t.convs, id)
			n++
		}
	}
	t.updateGauge()
	return n
}

// Tracked is the number of conversations with a typing set, empty or not.
func (t *TypingTracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.convs)
}

func (t *TypingTracker) updateGauge() {
	if t.metrics != nil {
		t.metrics.TypingSets.Set(float64(len(t.convs)))
	}
}

// Start runs Sweep every interval until Stop.
func (t *TypingTracker) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (t *TypingTracker) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		t.wg.Wait()
	}
}
