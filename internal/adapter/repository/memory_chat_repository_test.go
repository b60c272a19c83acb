package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestMemoryChatRepository_CreateConflict(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &entity.Chat{ID: "ord-1_b1_s1", OrderID: "ord-1"}))
	err := repo.Create(ctx, &entity.Chat{ID: "ord-1_b1_s1"})
	assert.True(t, errors.Is(err, errors.CodeConflict))
}

func TestMemoryChatRepository_MonotonicServerTime(t *testing.T) {
	repo := NewMemoryChatRepository(fixedClock())
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		m, err := repo.AppendMessage(ctx, &entity.Message{ChatID: "c", SenderID: "u", Text: "x"})
		require.NoError(t, err)
		assert.True(t, m.CreatedAt.After(prev), "timestamps must strictly increase")
		assert.Equal(t, entity.MessageStatusSent, m.Status)
		assert.NotEmpty(t, m.ID)
		prev = m.CreatedAt
	}
}

func TestMemoryChatRepository_UpdateIsSerialized(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &entity.Chat{ID: "c"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Update(ctx, "c", func(cur *entity.Chat) (*entity.ChatPatch, error) {
				return &entity.ChatPatch{UnreadCounts: map[string]int{"s1": cur.UnreadFor("s1") + 1}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chat, err := repo.GetByID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 50, chat.UnreadFor("s1"))
}

func TestMemoryChatRepository_UpdateSeesMissingDocAsNil(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	var seen *entity.Chat = &entity.Chat{}
	err := repo.Update(context.Background(), "missing", func(cur *entity.Chat) (*entity.ChatPatch, error) {
		seen = cur
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, seen)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryChatRepository_FindByOrder(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	ctx := context.Background()
	repo.Put(&entity.Chat{ID: "a", OrderID: "ord-1", BuyerID: "b1", SellerID: "s1"})
	repo.Put(&entity.Chat{ID: "b", OrderID: "ord-1", BuyerID: "b1", SellerID: "s2"})
	repo.SeedLegacy(&entity.Chat{ID: "legacy", OrderID: "ord-2", BuyerID: "b1", SellerID: "s1"})

	tests := []struct {
		name  string
		query repository.ChatQuery
		want  []string
	}{
		{"by order", repository.ChatQuery{OrderID: "ord-1"}, []string{"a", "b"}},
		{"by order and seller", repository.ChatQuery{OrderID: "ord-1", SellerID: "s2"}, []string{"b"}},
		{"limit", repository.ChatQuery{OrderID: "ord-1", Limit: 1}, []string{"a"}},
		{"legacy not visible to canonical query", repository.ChatQuery{OrderID: "ord-2"}, nil},
		{"legacy query", repository.ChatQuery{OrderID: "ord-2", Legacy: true}, []string{"legacy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindByOrder(ctx, tt.query)
			require.NoError(t, err)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryChatRepository_AdvanceMessageStatus(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	ctx := context.Background()
	m, err := repo.AppendMessage(ctx, &entity.Message{ChatID: "c", SenderID: "b1", Text: "hola"})
	require.NoError(t, err)

	n, err := repo.AdvanceMessageStatus(ctx, "c", []string{m.ID}, entity.MessageStatusRead)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// read never goes back to delivered
	n, err = repo.AdvanceMessageStatus(ctx, "c", []string{m.ID}, entity.MessageStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs := repo.Messages("c")
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.MessageStatusRead, msgs[0].Status)
	assert.False(t, msgs[0].ReadAt.IsZero())
}

func TestMemoryChatRepository_WatchDeliversChanges(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo.Put(&entity.Chat{ID: "a", BuyerID: "b1", SellerID: "s1"})
	stream := repo.Watch(ctx, repository.ChatFilter{BuyerID: "b1"})
	defer stream.Stop()

	snap, err := stream.Next()
	require.NoError(t, err)
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, repository.ChangeAdded, snap.Changes[0].Kind)

	require.NoError(t, repo.Merge(ctx, "a", &entity.ChatPatch{UnreadIncrement: map[string]int{"b1": 1}}))
	snap, err = stream.Next()
	require.NoError(t, err)
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, repository.ChangeModified, snap.Changes[0].Kind)
	assert.Equal(t, 1, snap.Changes[0].Chat.UnreadFor("b1"))

	// chats of other buyers are invisible
	require.NoError(t, repo.Merge(ctx, "other", &entity.ChatPatch{BuyerID: "b2"}))
	cancel()
	_, err = stream.Next()
	assert.ErrorIs(t, err, repository.ErrStreamDone)
}

func TestMemoryChatRepository_WatchMessagesOrdered(t *testing.T) {
	repo := NewMemoryChatRepository(fixedClock())
	ctx := context.Background()
	_, err := repo.AppendMessage(ctx, &entity.Message{ChatID: "c", Text: "one"})
	require.NoError(t, err)

	stream := repo.WatchMessages(ctx, "c")
	defer stream.Stop()

	snap, err := stream.Next()
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)

	_, err = repo.AppendMessage(ctx, &entity.Message{ChatID: "c", Text: "two"})
	require.NoError(t, err)
	snap, err = stream.Next()
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "one", snap.Messages[0].Text)
	assert.Equal(t, "two", snap.Messages[1].Text)

	stream.Stop()
	_, err = stream.Next()
	assert.ErrorIs(t, err, repository.ErrStreamDone)
}

func TestMemoryChatRepository_FailNext(t *testing.T) {
	repo := NewMemoryChatRepository(nil)
	boom := errors.Internal("boom", nil)
	repo.FailNext(OpUpdate, boom)

	err := repo.Update(context.Background(), "c", func(*entity.Chat) (*entity.ChatPatch, error) {
		return &entity.ChatPatch{BuyerID: "b"}, nil
	})
	assert.Equal(t, boom, err)

	err = repo.Update(context.Background(), "c", func(*entity.Chat) (*entity.ChatPatch, error) {
		return &entity.ChatPatch{BuyerID: "b"}, nil
	})
	assert.NoError(t, err)
}
