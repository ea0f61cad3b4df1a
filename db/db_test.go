package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/citizenchat/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// These tests need a disposable Postgres database.
func testDB(t *testing.T) *GormDB {
	t.Helper()
	dsn := os.Getenv("CITIZENCHAT_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("CITIZENCHAT_TEST_DATABASE_DSN not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	return &GormDB{DB: gdb}
}

func createUser(t *testing.T, g *GormDB, name string) *models.User {
	t.Helper()
	u := &models.User{Fullname: name, Username: name, Email: uuid.NewString() + "@example.com"}
	require.NoError(t, g.DB.Create(u).Error)
	return u
}

func TestFindOrCreateDirectIsIdempotent(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	repo := NewConversationRepo(g)
	a, b := createUser(t, g, "ada"), createUser(t, g, "bola")
	key := uuid.NewString()

	first, created, err := repo.FindOrCreateDirect(ctx, key, []uint{a.ID, b.ID})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, map[uint]int{a.ID: 0, b.ID: 0}, first.UnreadCounts())

	again, created, err := repo.FindOrCreateDirect(ctx, key, []uint{b.ID, a.ID})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	_, err = repo.FindByID(ctx, uuid.New())
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestSendAggregateAndMarkRead(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	convs := NewConversationRepo(g)
	msgs := NewMessageRepo(g)
	a, b := createUser(t, g, "ada"), createUser(t, g, "bola")
	conv, _, err := convs.FindOrCreateDirect(ctx, uuid.NewString(), []uint{a.ID, b.ID})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var sent []models.Message
	for i := 0; i < 3; i++ {
		m := models.Message{
			ConversationID: conv.ID,
			SenderID:       a.ID,
			RecipientID:    b.ID,
			Content:        "hello",
			Type:           models.MessageText,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, msgs.CreateWithReceipt(ctx, &m))
		require.Equal(t, []uint{a.ID}, m.ReadBy)
		require.NoError(t, convs.UpdateAggregate(ctx, &m))
		sent = append(sent, m)
	}

	conv, err = convs.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 3, conv.UnreadCounts()[b.ID])
	require.Equal(t, 0, conv.UnreadCounts()[a.ID])
	require.Equal(t, sent[2].ID, *conv.LastMessageID)

	total, err := convs.UnreadTotal(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	upTo := sent[1].CreatedAt
	ids, remaining, err := msgs.MarkConversationRead(ctx, conv.ID, b.ID, &upTo, time.Now())
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{sent[0].ID, sent[1].ID}, ids)
	require.Equal(t, 1, remaining)

	ids, remaining, err = msgs.MarkConversationRead(ctx, conv.ID, b.ID, nil, time.Now())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{sent[2].ID}, ids)
	require.Equal(t, 0, remaining)

	seen, err := msgs.FindByID(ctx, sent[0].ID)
	require.NoError(t, err)
	require.True(t, seen.IsSeen)
	firstSeenAt := *seen.SeenAt
	require.Equal(t, []uint{a.ID, b.ID}, seen.ReadBy)

	ids, remaining, err = msgs.MarkConversationRead(ctx, conv.ID, b.ID, nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Equal(t, 0, remaining)

	seen, err = msgs.FindByID(ctx, sent[0].ID)
	require.NoError(t, err)
	require.True(t, firstSeenAt.Equal(*seen.SeenAt), "seen_at must not be rewritten")
}

func TestEditAndDeleteRefreshPreview(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	convs := NewConversationRepo(g)
	msgs := NewMessageRepo(g)
	a, b := createUser(t, g, "ada"), createUser(t, g, "bola")
	conv, _, err := convs.FindOrCreateDirect(ctx, uuid.NewString(), []uint{a.ID, b.ID})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var sent []models.Message
	for i, content := range []string{"first", "secret"} {
		m := models.Message{ConversationID: conv.ID, SenderID: a.ID, RecipientID: b.ID, Content: content, Type: models.MessageText, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, msgs.CreateWithReceipt(ctx, &m))
		require.NoError(t, convs.UpdateAggregate(ctx, &m))
		sent = append(sent, m)
	}
	lastMessage := func() string {
		c, err := convs.FindByID(ctx, conv.ID)
		require.NoError(t, err)
		return c.LastMessage
	}

	at := time.Now()
	edited := sent[1]
	edited.Content, edited.IsEdited, edited.EditedAt = "public", true, &at
	require.NoError(t, msgs.UpdateContent(ctx, &edited))
	require.Equal(t, "public", lastMessage())

	older := sent[0]
	older.Content, older.IsEdited, older.EditedAt = "changed", true, &at
	require.NoError(t, msgs.UpdateContent(ctx, &older))
	require.Equal(t, "public", lastMessage())

	edited.IsDeleted, edited.DeletedAt = true, &at
	require.NoError(t, msgs.SoftDelete(ctx, &edited))
	require.Equal(t, models.DeletedPreview, lastMessage())

	stored, err := msgs.FindByID(ctx, edited.ID)
	require.NoError(t, err)
	require.True(t, stored.IsDeleted)
}

func TestHistoryPagination(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	convs := NewConversationRepo(g)
	msgs := NewMessageRepo(g)
	a, b := createUser(t, g, "ada"), createUser(t, g, "bola")
	conv, _, err := convs.FindOrCreateDirect(ctx, uuid.NewString(), []uint{a.ID, b.ID})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var sent []models.Message
	for i := 0; i < 5; i++ {
		m := models.Message{ConversationID: conv.ID, SenderID: a.ID, RecipientID: b.ID, Content: "m", Type: models.MessageText, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, msgs.CreateWithReceipt(ctx, &m))
		sent = append(sent, m)
	}

	latest, more, err := msgs.History(ctx, conv.ID, models.MessageCursor{Limit: 2})
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []uuid.UUID{sent[3].ID, sent[4].ID}, messageIDs(latest))

	older, more, err := msgs.History(ctx, conv.ID, models.MessageCursor{Before: &latest[0], Limit: 10})
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []uuid.UUID{sent[0].ID, sent[1].ID, sent[2].ID}, messageIDs(older))

	newer, more, err := msgs.History(ctx, conv.ID, models.MessageCursor{After: &sent[1], Limit: 2})
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []uuid.UUID{sent[2].ID, sent[3].ID}, messageIDs(newer))
}

func messageIDs(msgs []models.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestRelationshipsAreIdempotent(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	repo := NewRelationshipRepo(g)
	a, b := createUser(t, g, "ada"), createUser(t, g, "bola")

	require.NoError(t, repo.CreateBlock(ctx, a.ID, b.ID))
	require.NoError(t, repo.CreateBlock(ctx, a.ID, b.ID))
	blocked, err := repo.IsBlocked(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.True(t, blocked)
	blocked, err = repo.IsBlocked(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, repo.DeleteBlock(ctx, a.ID, b.ID))
	require.NoError(t, repo.DeleteBlock(ctx, a.ID, b.ID))
	blocked, err = repo.IsBlocked(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, repo.CreateArchive(ctx, a.ID, b.ID))
	require.NoError(t, repo.CreateArchive(ctx, a.ID, b.ID))
	ids, err := repo.ArchivedIDs(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{b.ID}, ids)
}

func TestUpdatePresenceStampsLastSeen(t *testing.T) {
	g := testDB(t)
	ctx := context.Background()
	repo := NewUserRepo(g)
	u := createUser(t, g, "ada")

	require.NoError(t, repo.UpdatePresence(ctx, u.ID, true, time.Now()))
	found, err := repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, found.Online)

	require.NoError(t, repo.UpdatePresence(ctx, u.ID, false, time.Now()))
	found, err = repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, found.Online)
	require.NotNil(t, found.LastSeenAt)

	require.NoError(t, repo.SaveDeviceToken(ctx, &models.DeviceToken{UserID: u.ID, Token: uuid.NewString(), Platform: "ios"}))
	tokens, err := repo.DeviceTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.NoError(t, repo.DeleteDeviceTokens(ctx, tokens))
	tokens, err = repo.DeviceTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, tokens)
}
