package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/errors"
)

func openTestChat(t *testing.T, f *fixture) *entity.Chat {
	t.Helper()
	chat, err := f.reconciler.EnsureChat(context.Background(), "ord-42", profile("b1", "Ana", ""), profile("s9", "Luis", ""), entity.RoleBuyer)
	require.NoError(t, err)
	return chat
}

func TestSendMessage_BlankTextIsIgnored(t *testing.T) {
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)
	before := mustChat(t, f, chat.ID)

	for _, text := range []string{"", "   ", "\n\t"} {
		msg, err := f.messages.SendMessage(context.Background(), chat, profile("b1", "Ana", ""), text)
		assert.NoError(t, err)
		assert.Nil(t, msg)
	}

	assert.Empty(t, f.chats.Messages(chat.ID))
	assert.Equal(t, before, mustChat(t, f, chat.ID))
}

func TestSendMessage_NonParticipant(t *testing.T) {
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	_, err := f.messages.SendMessage(context.Background(), chat, profile("x1", "Intruso", ""), "hola")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Empty(t, f.chats.Messages(chat.ID))
}

func TestSendMessage_StoredFields(t *testing.T) {
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	msg, err := f.messages.SendMessage(context.Background(), chat, profile("b1", "Ana", ""), "  Hola  ")
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, chat.ID, msg.ChatID)
	assert.Equal(t, "Hola", msg.Text)
	assert.Equal(t, "Ana", msg.SenderName)
	assert.Equal(t, entity.MessageStatusSent, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())
}

var statusOrder = []entity.MessageStatus{entity.MessageStatusSent, entity.MessageStatusDelivered, entity.MessageStatusRead}

func assertStatusSubsequence(t *testing.T, seen []entity.MessageStatus) {
	t.Helper()
	pos := -1
	for _, s := range seen {
		idx := -1
		for i, want := range statusOrder {
			if want == s {
				idx = i
			}
		}
		require.GreaterOrEqual(t, idx, 0, "unknown status %q", s)
		require.Greater(t, idx, pos, "status went from %v back to %q", seen, s)
		pos = idx
	}
}

func TestMessageStatus_Monotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	feed := f.messages.ObserveMessages(ctx, chat, NewViewer(session("b1", "Ana", entity.RoleBuyer, true)))
	defer feed.Cancel()

	msg, err := f.messages.SendMessage(ctx, chat, profile("b1", "Ana", ""), "hola")
	require.NoError(t, err)
	f.messages.WaitDelivered()

	f.messages.MarkMessagesRead(ctx, chat.ID, "s9", f.chats.Messages(chat.ID))
	changed, err := f.chats.AdvanceMessageStatus(ctx, chat.ID, []string{msg.ID}, entity.MessageStatusDelivered)
	require.NoError(t, err)
	assert.Zero(t, changed, "read must not move back to delivered")

	var seen []entity.MessageStatus
	deadline := time.After(2 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != entity.MessageStatusRead {
		select {
		case msgs, ok := <-feed.Updates():
			if !ok {
				require.FailNow(t, "feed closed early", "err: %v", feed.Err())
			}
			for _, m := range msgs {
				if m.ID == msg.ID && (len(seen) == 0 || seen[len(seen)-1] != m.Status) {
					seen = append(seen, m.Status)
				}
			}
		case <-deadline:
			t.Fatalf("never observed read, saw %v", seen)
		}
	}
	assertStatusSubsequence(t, seen)

	stored := f.chats.Messages(chat.ID)[0]
	assert.False(t, stored.DeliveredAt.IsZero())
	assert.False(t, stored.ReadAt.IsZero())
}

func TestObserveMessages_Ordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	for _, text := range []string{"uno", "dos", "tres"} {
		_, err := f.messages.SendMessage(ctx, chat, profile("b1", "Ana", ""), text)
		require.NoError(t, err)
	}

	msgs, err := f.messages.Messages(ctx, chat, NewViewer(session("b1", "Ana", entity.RoleBuyer, false)))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "uno", msgs[0].Text)
	assert.Equal(t, "dos", msgs[1].Text)
	assert.Equal(t, "tres", msgs[2].Text)
	assert.True(t, msgs[0].Before(msgs[1]))
	assert.True(t, msgs[1].Before(msgs[2]))
}

func TestObserveMessages_ReadMarkingFollowsVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	viewer := NewViewer(session("s9", "Luis", entity.RoleSeller, false))
	feed := f.messages.ObserveMessages(ctx, chat, viewer)
	defer feed.Cancel()

	_, err := f.messages.SendMessage(ctx, chat, profile("b1", "Ana", ""), "hola")
	require.NoError(t, err)
	f.messages.WaitDelivered()
	<-feed.Updates()
	assert.NotEqual(t, entity.MessageStatusRead, f.chats.Messages(chat.ID)[0].Status)

	viewer.SetVisible(true)
	_, err = f.messages.SendMessage(ctx, chat, profile("b1", "Ana", ""), "¿sigues ahí?")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, m := range f.chats.Messages(chat.ID) {
			if m.Status != entity.MessageStatusRead {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoadChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := openTestChat(t, f)

	got, err := f.messages.LoadChat(ctx, chat.ID, "s9")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	_, err = f.messages.LoadChat(ctx, chat.ID, "x1")
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.messages.LoadChat(ctx, "nope", "s9")
	assert.True(t, errors.IsNotFound(err))
}

func TestGroupByDay(t *testing.T) {
	msgs := []*entity.Message{
		{ID: "1", Text: "a", CreatedAt: time.Date(2024, 5, 13, 22, 30, 0, 0, time.UTC)},
		{ID: "2", Text: "b", CreatedAt: time.Date(2024, 5, 14, 1, 0, 0, 0, time.UTC)},
		{ID: "3", Text: "c", CreatedAt: time.Date(2024, 5, 14, 16, 0, 0, 0, time.UTC)},
	}
	now := time.Date(2024, 5, 14, 17, 0, 0, 0, time.UTC)

	t.Run("utc english", func(t *testing.T) {
		days := GroupByDay(msgs, now, time.UTC, "en-US")
		require.Len(t, days, 2)
		assert.Equal(t, "May 13, 2024", days[0].Label)
		assert.Equal(t, "2024-05-13", days[0].Date)
		assert.Len(t, days[0].Messages, 1)
		assert.Equal(t, "Today", days[1].Label)
		assert.Len(t, days[1].Messages, 2)
	})

	t.Run("mexico city spanish", func(t *testing.T) {
		cst := time.FixedZone("CST", -6*60*60)
		days := GroupByDay(msgs, now, cst, "es-MX")
		require.Len(t, days, 2)
		assert.Equal(t, "13 de mayo de 2024", days[0].Label)
		assert.Len(t, days[0].Messages, 2)
		assert.Equal(t, "Hoy", days[1].Label)
		assert.Len(t, days[1].Messages, 1)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, GroupByDay(nil, now, time.UTC, "en"))
	})
}
