package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/db"
	"github.com/techagentng/citizenchat/models"
)

type reportKey struct {
	message  uuid.UUID
	reporter uint
}

// memStore is an in-memory stand-in for the postgres repositories.
type memStore struct {
	mu            sync.Mutex
	users         map[uint]*models.User
	convs         map[uuid.UUID]*models.Conversation
	byKey         map[string]uuid.UUID
	messages      map[uuid.UUID]*models.Message
	reports       map[reportKey]*models.MessageReport
	blocks        map[[2]uint]bool
	archives      map[[2]uint]bool
	tokens        map[uint][]string
	failAggregate bool
	failCreate    bool
}

func newMemStore(userIDs ...uint) *memStore {
	s := &memStore{
		users:    make(map[uint]*models.User),
		convs:    make(map[uuid.UUID]*models.Conversation),
		byKey:    make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID]*models.Message),
		reports:  make(map[reportKey]*models.MessageReport),
		blocks:   make(map[[2]uint]bool),
		archives: make(map[[2]uint]bool),
		tokens:   make(map[uint][]string),
	}
	for _, id := range userIDs {
		u := &models.User{Fullname: "user", Username: "user"}
		u.ID = id
		s.users[id] = u
	}
	return s
}

func copyConv(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = append([]models.ConversationParticipant(nil), c.Participants...)
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	out := *m
	out.Receipts = append([]models.MessageReceipt(nil), m.Receipts...)
	out.FillReadBy()
	return &out
}

func (s *memStore) conversation(id uuid.UUID) *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyConv(s.convs[id])
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// conversations

type convRepo struct{ *memStore }

func (r convRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, errors.Wrap(db.ErrNotFound, "conversation")
	}
	return copyConv(c), nil
}

func (r convRepo) FindOrCreateDirect(_ context.Context, key string, participants []uint) (*models.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return copyConv(r.convs[id]), false, nil
	}
	k := key
	c := &models.Conversation{ID: uuid.New(), Type: models.ConversationDirect, DirectKey: &k, IsActive: true, CreatedAt: time.Now()}
	for _, id := range participants {
		c.Participants = append(c.Participants, models.ConversationParticipant{ConversationID: c.ID, UserID: id})
	}
	r.convs[c.ID] = c
	r.byKey[key] = c.ID
	return copyConv(c), true, nil
}

func (r convRepo) ListForUser(_ context.Context, userID uint) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conversation
	for _, c := range r.convs {
		if c.HasParticipant(userID) {
			out = append(out, *copyConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r convRepo) UpdateAggregate(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAggregate {
		return errors.New("aggregate update failed")
	}
	c := r.convs[msg.ConversationID]
	if c.LastMessageAt == nil || !msg.CreatedAt.Before(*c.LastMessageAt) {
		at, id := msg.CreatedAt, msg.ID
		c.LastMessage = msg.Preview()
		c.LastMessageID = &id
		c.LastSenderID = msg.SenderID
		c.LastMessageAt = &at
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == msg.SenderID {
			c.Participants[i].UnreadCount = 0
		} else {
			c.Participants[i].UnreadCount++
		}
	}
	return nil
}

func (r convRepo) RecomputeUnread(_ context.Context, conversationID uuid.UUID, userID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.unseenLocked(conversationID, userID)
	c := r.convs[conversationID]
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			c.Participants[i].UnreadCount = count
		}
	}
	return count, nil
}

func (s *memStore) unseenLocked(conversationID uuid.UUID, userID uint) int {
	n := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.RecipientID == userID && !m.IsSeen {
			n++
		}
	}
	return n
}

func (r convRepo) UnreadTotal(_ context.Context, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, c := range r.convs {
		for _, p := range c.Participants {
			if p.UserID == userID {
				total += int64(p.UnreadCount)
			}
		}
	}
	return total, nil
}

// messages

type msgRepo struct{ *memStore }

func (r msgRepo) CreateWithReceipt(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return errors.New("insert failed")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Receipts = []models.MessageReceipt{{MessageID: msg.ID, UserID: msg.SenderID, ReadAt: msg.CreatedAt}}
	msg.FillReadBy()
	r.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (r msgRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, errors.Wrap(db.ErrNotFound, "message")
	}
	return copyMessage(m), nil
}

func less(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (r msgRepo) History(_ context.Context, conversationID uuid.UUID, cursor models.MessageCursor) ([]models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if cursor.Before != nil && !less(m, cursor.Before) {
			continue
		}
		if cursor.After != nil && !less(cursor.After, m) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })

	hasMore := len(all) > cursor.Limit
	if hasMore {
		if cursor.After != nil {
			all = all[:cursor.Limit]
		} else {
			all = all[len(all)-cursor.Limit:]
		}
	}
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		out = append(out, *copyMessage(m))
	}
	return out, hasMore, nil
}

func (r msgRepo) UpdateContent(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.messages[msg.ID]
	m.Content, m.IsEdited, m.EditedAt = msg.Content, true, msg.EditedAt
	r.refreshPreviewLocked(msg)
	return nil
}

func (r msgRepo) SoftDelete(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.messages[msg.ID]
	m.IsDeleted, m.DeletedAt = true, msg.DeletedAt
	r.refreshPreviewLocked(msg)
	return nil
}

func (s *memStore) refreshPreviewLocked(msg *models.Message) {
	c := s.convs[msg.ConversationID]
	if c != nil && c.LastMessageID != nil && *c.LastMessageID == msg.ID {
		c.LastMessage = msg.Preview()
	}
}

func (r msgRepo) MarkConversationRead(_ context.Context, conversationID uuid.UUID, readerID uint, upTo *time.Time, at time.Time) ([]uuid.UUID, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range r.messages {
		if m.ConversationID != conversationID || m.RecipientID != readerID || m.IsSeen {
			continue
		}
		if upTo != nil && m.CreatedAt.After(*upTo) {
			continue
		}
		seenAt := at
		m.IsSeen, m.SeenAt = true, &seenAt
		m.Receipts = append(m.Receipts, models.MessageReceipt{MessageID: m.ID, UserID: readerID, ReadAt: at})
		ids = append(ids, m.ID)
	}
	remaining := r.unseenLocked(conversationID, readerID)
	c := r.convs[conversationID]
	for i := range c.Participants {
		if c.Participants[i].UserID == readerID {
			c.Participants[i].UnreadCount = remaining
			c.Participants[i].LastReadAt = &at
		}
	}
	return ids, remaining, nil
}

func (r msgRepo) CreateReport(_ context.Context, report *models.MessageReport) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := reportKey{report.MessageID, report.ReporterID}
	if _, ok := r.reports[key]; ok {
		return false, nil
	}
	report.ID = uuid.New()
	r.reports[key] = report
	return true, nil
}

// users

type userRepo struct{ *memStore }

func (r userRepo) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errors.Wrap(db.ErrNotFound, "user")
	}
	out := *u
	return &out, nil
}

func (r userRepo) FindUsersByIDs(_ context.Context, ids []uint) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r userRepo) UpdatePresence(_ context.Context, userID uint, online bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.Online = online
		if !online {
			u.LastSeenAt = &at
		}
	}
	return nil
}

func (r userRepo) SaveDeviceToken(_ context.Context, token *models.DeviceToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.UserID] = append(r.tokens[token.UserID], token.Token)
	return nil
}

func (r userRepo) DeviceTokens(_ context.Context, userID uint) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens[userID]...), nil
}

func (r userRepo) DeleteDeviceTokens(_ context.Context, tokens []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}
	for user, list := range r.tokens {
		kept := list[:0]
		for _, t := range list {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		r.tokens[user] = kept
	}
	return nil
}

// relationships

type relRepo struct{ *memStore }

func (r relRepo) IsBlocked(_ context.Context, a, b uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocks[[2]uint{a, b}], nil
}

func (r relRepo) CreateBlock(_ context.Context, a, b uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[[2]uint{a, b}] = true
	return nil
}

func (r relRepo) DeleteBlock(_ context.Context, a, b uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocks, [2]uint{a, b})
	return nil
}

func (r relRepo) BlockedIDs(_ context.Context, a uint) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint
	for k := range r.blocks {
		if k[0] == a {
			ids = append(ids, k[1])
		}
	}
	return ids, nil
}

func (r relRepo) BlockerIDs(_ context.Context, b uint) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint
	for k := range r.blocks {
		if k[1] == b {
			ids = append(ids, k[0])
		}
	}
	return ids, nil
}

func (r relRepo) IsArchived(_ context.Context, a, b uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archives[[2]uint{a, b}], nil
}

func (r relRepo) CreateArchive(_ context.Context, a, b uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[[2]uint{a, b}] = true
	return nil
}

func (r relRepo) DeleteArchive(_ context.Context, a, b uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.archives, [2]uint{a, b})
	return nil
}

func (r relRepo) ArchivedIDs(_ context.Context, a uint) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint
	for k := range r.archives {
		if k[0] == a {
			ids = append(ids, k[1])
		}
	}
	return ids, nil
}

// broadcaster

type sentEvent struct {
	Room   string
	UserID uint
	Event  string
	Data   interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	online map[uint]bool
	events []sentEvent
	joins  map[string][]uint
}

func newFakeBroadcaster(online ...uint) *fakeBroadcaster {
	b := &fakeBroadcaster{online: make(map[uint]bool), joins: make(map[string][]uint)}
	for _, id := range online {
		b.online[id] = true
	}
	return b
}

func (b *fakeBroadcaster) BroadcastToRoom(room, event string, data interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Room: room, Event: event, Data: data})
	return 1
}

func (b *fakeBroadcaster) EmitToUser(userID uint, event string, data interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{UserID: userID, Event: event, Data: data})
	return 1
}

func (b *fakeBroadcaster) JoinUserToRoom(userID uint, room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins[room] = append(b.joins[room], userID)
	return 1
}

func (b *fakeBroadcaster) IsOnline(userID uint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) setOnline(userID uint, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online[userID] = online
}

func (b *fakeBroadcaster) named(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) joined(room string) []uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint(nil), b.joins[room]...)
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// push

type pushCall struct {
	UserID uint
	Title  string
	Body   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []pushCall
}

func (n *fakeNotifier) Notify(_ context.Context, userID uint, title, body string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pushCall{UserID: userID, Title: title, Body: body})
	return nil
}

func (n *fakeNotifier) Calls() []pushCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pushCall(nil), n.calls...)
}

type fakePushClient struct {
	sent     *messaging.MulticastMessage
	response *messaging.BatchResponse
}

func (c *fakePushClient) SendMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	c.sent = m
	return c.response, nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *fakeUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	u.keys = append(u.keys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}
