package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func conversation(id, a, b string, updated time.Time) *models.Conversation {
	return &models.Conversation{
		ID:   id,
		Type: models.ConversationBuyerAgent,
		Participants: []models.Participant{
			{UserID: a, Role: models.RoleBuyer},
			{UserID: b, Role: models.RoleAgent},
		},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func TestConversationStore_CreateRejectsDuplicatePair(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore()

	require.NoError(t, s.Create(ctx, conversation("c1", "b1", "a1", base)))
	err := s.Create(ctx, conversation("c2", "a1", "b1", base))
	assert.ErrorIs(t, err, repository.ErrConflict)

	found, err := s.FindByParticipants(ctx, "a1", "b1", "")
	require.NoError(t, err)
	assert.Equal(t, "c1", found.ID)

	_, err = s.FindByParticipants(ctx, "a1", "b1", "prop-42")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConversationStore_CreateRequiresTwoParticipants(t *testing.T) {
	c := conversation("c1", "b1", "a1", base)
	c.Participants = c.Participants[:1]
	assert.Error(t, NewConversationStore().Create(context.Background(), c))
}

func TestConversationStore_ListOrderedByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore()
	require.NoError(t, s.Create(ctx, conversation("old", "b1", "a1", base)))
	require.NoError(t, s.Create(ctx, conversation("new", "b1", "a2", base.Add(time.Hour))))
	require.NoError(t, s.Create(ctx, conversation("other", "b2", "a2", base.Add(2*time.Hour))))

	list, err := s.ListByUserID(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}

func TestConversationStore_UpdateLastMessageKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore()
	require.NoError(t, s.Create(ctx, conversation("c1", "b1", "a1", base)))

	newer := &models.LastMessage{ID: "m2", SenderID: "a1", Timestamp: base.Add(2 * time.Second)}
	older := &models.LastMessage{ID: "m1", SenderID: "b1", Timestamp: base.Add(time.Second)}

	require.NoError(t, s.UpdateLastMessage(ctx, "c1", newer))
	require.NoError(t, s.UpdateLastMessage(ctx, "c1", older))

	got, err := s.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m2", got.LastMessage.ID)
	assert.Equal(t, newer.Timestamp, got.UpdatedAt)

	err = s.UpdateLastMessage(ctx, "missing", newer)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConversationStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore()
	require.NoError(t, s.Create(ctx, conversation("c1", "b1", "a1", base)))

	got, _ := s.GetByID(ctx, "c1")
	got.Participants[0].UserID = "mallory"

	again, _ := s.GetByID(ctx, "c1")
	assert.Equal(t, "b1", again.Participants[0].UserID)
}

func TestMessageStore_OrderingWithEqualTimestamps(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	msgs := []models.Message{
		{ID: "late", ConversationID: "c1", SenderID: "b1", MessageText: "3", Timestamp: base.Add(time.Second)},
		{ID: "tie-a", ConversationID: "c1", SenderID: "a1", MessageText: "1", Timestamp: base},
		{ID: "tie-b", ConversationID: "c1", SenderID: "b1", MessageText: "2", Timestamp: base},
	}
	for i := range msgs {
		require.NoError(t, s.Append(ctx, &msgs[i]))
	}

	list, err := s.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []string{"tie-a", "tie-b", "late"}, ids)
}

func TestMessageStore_ConcurrentAppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &models.Message{
				ID:             fmt.Sprintf("m%02d", i),
				ConversationID: "c1",
				SenderID:       "b1",
				MessageText:    "hi",
				Timestamp:      base.Add(time.Duration(i%5) * time.Second),
			}
			assert.NoError(t, s.Append(ctx, m))
		}(i)
	}
	wg.Wait()

	list, err := s.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 50)
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Timestamp.Equal(cur.Timestamp) {
			assert.Less(t, prev.Seq, cur.Seq)
		} else {
			assert.True(t, prev.Timestamp.Before(cur.Timestamp))
		}
	}
}

func TestMessageStore_MarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()
	require.NoError(t, s.Seed(
		models.Message{ID: "m1", ConversationID: "c1", SenderID: "b1", MessageText: "hi", Timestamp: base},
		models.Message{ID: "m2", ConversationID: "c1", SenderID: "a1", MessageText: "hello", Timestamp: base.Add(time.Second)},
		models.Message{ID: "m3", ConversationID: "c1", SenderID: "a1", MessageText: "?", Timestamp: base.Add(2 * time.Second)},
	))

	unread, _ := s.CountUnread(ctx, "c1", "b1")
	assert.Equal(t, 2, unread)

	marked, err := s.MarkReadForReader(ctx, "c1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	marked, err = s.MarkReadForReader(ctx, "c1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	unread, _ = s.CountUnread(ctx, "c1", "b1")
	assert.Equal(t, 0, unread)
	unread, _ = s.CountUnread(ctx, "c1", "a1")
	assert.Equal(t, 1, unread)
}

func TestMessageStore_RejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()
	m := &models.Message{ID: "m1", ConversationID: "c1", SenderID: "b1", MessageText: "hi", Timestamp: base}
	require.NoError(t, s.Append(ctx, m))
	dup := *m
	assert.ErrorIs(t, s.Append(ctx, &dup), repository.ErrConflict)
}

func TestParticipantRegistry_Resolve(t *testing.T) {
	r := NewParticipantRegistry(models.Participant{UserID: "a1", Name: "Alex", Role: models.RoleAgent})

	p, err := r.Resolve(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, p.Role)

	_, err = r.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageStore_SeedReportsDuplicateID(t *testing.T) {
	s := NewMessageStore()
	err := s.Seed(
		models.Message{ID: "m1", ConversationID: "c1", SenderID: "b1", MessageText: "hi", Timestamp: base},
		models.Message{ID: "m1", ConversationID: "c2", SenderID: "a1", MessageText: "again", Timestamp: base},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Contains(t, err.Error(), "m1")

	msgs, _ := s.ListByConversation(context.Background(), "c2")
	assert.Empty(t, msgs)
}
