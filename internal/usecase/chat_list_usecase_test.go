package usecase

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/adapter/repository"
	"agromarket/internal/domain/entity"
)

func roleChat(id, buyer, seller string, at time.Time) *entity.Chat {
	return &entity.Chat{
		ID:             id,
		OrderID:        "ord-" + id,
		BuyerID:        buyer,
		SellerID:       seller,
		ParticipantIDs: []string{buyer, seller},
		UnreadCounts:   map[string]int{buyer: 0, seller: 0},
		LastMessage:    "msg " + id,
		LastMessageAt:  at,
	}
}

func seedRoleChats(f *fixture) {
	f.chats.Put(roleChat("bought", "u1", "s1", t0.Add(-2*time.Hour)))
	f.chats.Put(roleChat("sold", "b7", "u1", t0.Add(-time.Hour)))
	f.chats.Put(roleChat("others", "b7", "s1", t0.Add(-time.Minute)))
}

// nextRows reads list emissions until one satisfies ok.
func nextRows(t *testing.T, feed *ChatListFeed, ok func([]entity.ChatSummary) bool) []entity.ChatSummary {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rows, open := <-feed.Updates():
			if !open {
				require.FailNow(t, "feed closed", "err: %v", feed.Err())
			}
			if ok(rows) {
				return rows
			}
		case <-deadline:
			t.Fatal("timed out waiting for chat list")
			return nil
		}
	}
}

func anyRows([]entity.ChatSummary) bool { return true }

func TestChatList_RoleFilter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		role     entity.Role
		profile  *entity.User
		expected []string
	}{
		{name: "buyer", role: entity.RoleBuyer, expected: []string{"bought"}},
		{name: "seller", role: entity.RoleSeller, expected: []string{"sold"}},
		{name: "stored role", profile: &entity.User{ID: "u1", ActiveRole: entity.RoleSeller}, expected: []string{"sold"}},
		{name: "unknown role shows both", expected: []string{"sold", "bought"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testChatConfig())
			seedRoleChats(f)
			if tt.profile != nil {
				f.users.Put(tt.profile)
			}

			rows, err := f.list.Snapshot(ctx, session("u1", "Uno", tt.role, false), "en")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rowIDs(rows))
		})
	}
}

func TestChatList_ReordersOnNewMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	older := roleChat("older", "b1", "s1", t0.Add(-time.Hour))
	f.chats.Put(older)
	f.chats.Put(roleChat("newer", "b1", "s2", t0.Add(-time.Minute)))

	feed := f.list.SubscribeToUserChats(ctx, session("b1", "Ana", entity.RoleBuyer, false), "en")
	defer feed.Cancel()
	assert.Equal(t, entity.RoleBuyer, feed.Role())

	rows := nextRows(t, feed, anyRows)
	assert.Equal(t, []string{"newer", "older"}, rowIDs(rows))

	_, err := f.messages.SendMessage(ctx, older, profile("s1", "Sol", ""), "ya salió tu pedido")
	require.NoError(t, err)

	rows = nextRows(t, feed, func(rows []entity.ChatSummary) bool { return rows[0].ChatID == "older" })
	assert.Equal(t, "ya salió tu pedido", rows[0].Preview)
	assert.Equal(t, 1, rows[0].Unread)
	assert.Equal(t, "1", rows[0].UnreadBadge)
}

func TestChatList_LocalMessageIsOptimistic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	f.chats.Put(roleChat("older", "b1", "s1", t0.Add(-time.Hour)))
	f.chats.Put(roleChat("newer", "b1", "s2", t0.Add(-time.Minute)))

	feed := f.list.SubscribeToUserChats(ctx, session("b1", "Ana", entity.RoleBuyer, false), "en")
	defer feed.Cancel()
	nextRows(t, feed, anyRows)

	f.list.PublishLocalMessage("b1", "older", "¿ya viene?")
	rows := nextRows(t, feed, func(rows []entity.ChatSummary) bool { return rows[0].Optimistic })
	assert.Equal(t, "older", rows[0].ChatID)
	assert.Equal(t, "¿ya viene?", rows[0].Preview)

	// other users' feeds are not touched
	f.list.PublishLocalMessage("someone-else", "newer", "x")
}

func TestChatList_ConfirmAfterServerRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := roleChat("paid", "b1", "s1", t0.Add(-time.Hour))
	f.chats.Put(chat)
	f.chats.Put(roleChat("other", "b1", "s2", t0.Add(-time.Minute)))

	feed := f.list.SubscribeToUserChats(ctx, session("b1", "Ana", entity.RoleBuyer, false), "en")
	defer feed.Cancel()
	nextRows(t, feed, anyRows)

	msg, err := f.messages.SendMessage(ctx, chat, profile("b1", "Ana", ""), "ya pagué")
	require.NoError(t, err)
	rows := nextRows(t, feed, func(rows []entity.ChatSummary) bool { return rows[0].Preview == "ya pagué" })
	require.False(t, rows[0].Optimistic)

	// the store's echo arrived first; the late confirmation must not pin an
	// optimistic row
	f.list.ConfirmLocalMessage("b1", msg)
	rows = nextRows(t, feed, anyRows)
	assert.Equal(t, []string{"paid", "other"}, rowIDs(rows))
	assert.False(t, rows[0].Optimistic)
	assert.Equal(t, "ya pagué", rows[0].Preview)

	f.reconciler.MarkConversationRead(ctx, mustChat(t, f, "paid"), "s1", true)
	rows = nextRows(t, feed, anyRows)
	assert.False(t, rows[0].Optimistic)
	assert.Equal(t, msg.CreatedAt, rows[0].ActivityAt)
}

func TestChatList_LoadsMissingPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testChatConfig())
	chat := roleChat("bare", "b1", "s1", time.Time{})
	chat.LastMessage = ""
	f.chats.Put(chat)
	_, err := f.chats.AppendMessage(ctx, &entity.Message{ChatID: "bare", SenderID: "s1", Text: "from the log"})
	require.NoError(t, err)

	feed := f.list.SubscribeToUserChats(ctx, session("b1", "Ana", entity.RoleBuyer, false), "en")
	defer feed.Cancel()

	rows := nextRows(t, feed, func(rows []entity.ChatSummary) bool {
		return len(rows) == 1 && rows[0].Preview != ""
	})
	assert.Equal(t, "from the log", rows[0].Preview)
}

func TestChatList_Cancel(t *testing.T) {
	f := newFixture(t, testChatConfig())
	seedRoleChats(f)

	feed := f.list.SubscribeToUserChats(context.Background(), session("u1", "Uno", entity.RoleUnknown, false), "en")
	nextRows(t, feed, anyRows)
	feed.Cancel()

	for range feed.Updates() {
	}
	assert.NoError(t, feed.Err())
}

func TestChatList_SubscriptionFailure(t *testing.T) {
	f := newFixture(t, testChatConfig())
	boom := stderrors.New("permission denied")
	f.chats.FailNext(repository.OpWatch, boom)

	feed := f.list.SubscribeToUserChats(context.Background(), session("b1", "Ana", entity.RoleBuyer, false), "en")
	defer feed.Cancel()

	for range feed.Updates() {
	}
	assert.ErrorIs(t, feed.Err(), boom)
}
