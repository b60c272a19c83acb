package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
)

func listChat(id, text string, at time.Time) *entity.Chat {
	return &entity.Chat{
		ID:             id,
		OrderID:        "ord-" + id,
		BuyerID:        "b1",
		SellerID:       "s-" + id,
		SellerName:     "Seller " + id,
		ParticipantIDs: []string{"b1", "s-" + id},
		UnreadCounts:   map[string]int{"b1": 1},
		LastMessage:    text,
		LastMessageAt:  at,
	}
}

func added(chats ...*entity.Chat) ChatsChanged {
	ev := ChatsChanged{}
	for _, c := range chats {
		ev.Changes = append(ev.Changes, repository.ChatChange{Kind: repository.ChangeAdded, Chat: c})
	}
	return ev
}

func rowIDs(rows []entity.ChatSummary) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ChatID
	}
	return ids
}

func TestReduceProjection_Ordering(t *testing.T) {
	t1, t2, t3 := t0, t0.Add(time.Minute), t0.Add(2*time.Minute)
	state := ReduceProjection(NewProjectionState("b1"), added(
		listChat("c1", "one", t1),
		listChat("c2", "two", t2),
		listChat("c3", "three", t3),
	))
	now := t3.Add(time.Minute)
	assert.Equal(t, []string{"c3", "c2", "c1"}, rowIDs(state.Rows(now, "en")))

	// a new server message on c1 moves it to the front
	c1 := listChat("c1", "four", t3.Add(time.Second))
	state = ReduceProjection(state, ChatsChanged{Changes: []repository.ChatChange{{Kind: repository.ChangeModified, Chat: c1}}})
	rows := state.Rows(now, "en")
	assert.Equal(t, []string{"c1", "c3", "c2"}, rowIDs(rows))
	assert.Equal(t, "four", rows[0].Preview)
}

func TestReduceProjection_OptimisticRow(t *testing.T) {
	t1, t2, t3 := t0, t0.Add(time.Minute), t0.Add(2*time.Minute)
	state := ReduceProjection(NewProjectionState("b1"), added(
		listChat("c1", "one", t1),
		listChat("c2", "two", t2),
		listChat("c3", "three", t3),
	))
	now := t3.Add(time.Minute)

	// the local clock lags the server: the row still lands on top
	state = ReduceProjection(state, LocalMessageSent{ChatID: "c1", Text: "mine", At: t1})
	rows := state.Rows(now, "en")
	require.Equal(t, []string{"c1", "c3", "c2"}, rowIDs(rows))
	assert.Equal(t, "mine", rows[0].Preview)
	assert.True(t, rows[0].Optimistic)
	assert.Zero(t, rows[0].Unread)
	assert.Empty(t, rows[0].UnreadBadge)

	// an echo of the old server state does not undo it
	state = ReduceProjection(state, ChatsChanged{Changes: []repository.ChatChange{
		{Kind: repository.ChangeModified, Chat: listChat("c1", "one", t1)},
	}})
	rows = state.Rows(now, "en")
	assert.Equal(t, "c1", rows[0].ChatID)
	assert.Equal(t, "mine", rows[0].Preview)

	// the server row for the sent message replaces it
	state = ReduceProjection(state, ChatsChanged{Changes: []repository.ChatChange{
		{Kind: repository.ChangeModified, Chat: listChat("c1", "mine", t3.Add(30*time.Second))},
	}})
	rows = state.Rows(now, "en")
	assert.Equal(t, []string{"c1", "c3", "c2"}, rowIDs(rows))
	assert.False(t, rows[0].Optimistic)
	assert.Equal(t, "mine", rows[0].Preview)
}

func TestReduceProjection_ConfirmedMessage(t *testing.T) {
	t1, t2 := t0, t0.Add(time.Minute)
	base := ReduceProjection(NewProjectionState("b1"), added(
		listChat("c1", "one", t1),
		listChat("c2", "two", t2),
	))
	stored := t2.Add(time.Second)
	serverRow := ChatsChanged{Changes: []repository.ChatChange{
		{Kind: repository.ChangeModified, Chat: listChat("c1", "mine", stored)},
	}}
	confirm := LocalMessageSent{ChatID: "c1", Text: "mine", At: t1, StoredAt: stored}

	t.Run("server row first", func(t *testing.T) {
		state := ReduceProjection(base, serverRow)
		state = ReduceProjection(state, confirm)
		rows := state.Rows(stored, "en")
		assert.Equal(t, []string{"c1", "c2"}, rowIDs(rows))
		assert.False(t, rows[0].Optimistic)
		assert.Equal(t, stored, rows[0].ActivityAt)
	})

	t.Run("pending then server row first then confirmation", func(t *testing.T) {
		state := ReduceProjection(base, serverRow)
		state = ReduceProjection(state, LocalMessageSent{ChatID: "c1", Text: "mine", At: t1})
		require.True(t, state.Rows(stored, "en")[0].Optimistic)

		state = ReduceProjection(state, confirm)
		assert.False(t, state.Rows(stored, "en")[0].Optimistic)
	})

	t.Run("confirmation first", func(t *testing.T) {
		state := ReduceProjection(base, confirm)
		require.True(t, state.Rows(stored, "en")[0].Optimistic)

		state = ReduceProjection(state, serverRow)
		rows := state.Rows(stored, "en")
		assert.False(t, rows[0].Optimistic)
		assert.Equal(t, "mine", rows[0].Preview)
	})
}

func TestReduceProjection_UnknownChatIgnoresLocalMessage(t *testing.T) {
	state := ReduceProjection(NewProjectionState("b1"), LocalMessageSent{ChatID: "nope", Text: "x", At: t0})
	assert.Zero(t, state.Len())
}

func TestReduceProjection_DoesNotMutateInput(t *testing.T) {
	before := ReduceProjection(NewProjectionState("b1"), added(listChat("c1", "one", t0)))
	after := ReduceProjection(before, ChatsChanged{Changes: []repository.ChatChange{
		{Kind: repository.ChangeRemoved, Chat: listChat("c1", "one", t0)},
	}})

	assert.Equal(t, 1, before.Len())
	assert.Equal(t, 0, after.Len())
}

func TestReduceProjection_Previews(t *testing.T) {
	state := ReduceProjection(NewProjectionState("b1"), added(
		listChat("c1", "", t0),
		listChat("c2", "two", t0.Add(time.Minute)),
	))
	assert.Equal(t, []string{"c1"}, state.MissingPreviews())

	state = ReduceProjection(state, PreviewLoaded{ChatID: "c1", Text: "from the log"})
	assert.Empty(t, state.MissingPreviews())

	rows := state.Rows(t0.Add(time.Hour), "en")
	require.Len(t, rows, 2)
	assert.Equal(t, "from the log", rows[1].Preview)
}

func TestChatSummaryRow(t *testing.T) {
	chat := listChat("c1", "hola", t0)
	chat.OrderFolio = ""
	chat.UnreadCounts = map[string]int{"b1": 150}

	rows := ReduceProjection(NewProjectionState("b1"), added(chat)).Rows(t0.Add(5*time.Minute), "en")
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "s-c1", row.PartnerID)
	assert.Equal(t, "Seller c1", row.PartnerName)
	assert.Equal(t, "SC", row.PartnerInitials)
	assert.Equal(t, "PED-ORDC1", row.OrderFolio)
	assert.Equal(t, 150, row.Unread)
	assert.Equal(t, "99+", row.UnreadBadge)
	assert.Equal(t, "5 min ago", row.TimeLabel)
}

func TestPartnerOf(t *testing.T) {
	chat := &entity.Chat{
		BuyerID:  "b1",
		SellerID: "s9",
		ParticipantProfiles: map[string]entity.ParticipantProfile{
			"b1": profile("b1", "Ana", entity.RoleBuyer),
			"s9": profile("s9", "Luis", entity.RoleSeller),
		},
	}
	id, name := PartnerOf(chat, "b1")
	assert.Equal(t, "s9", id)
	assert.Equal(t, "Luis", name)

	id, name = PartnerOf(&entity.Chat{ParticipantIDs: []string{"s9", "b1"}}, "b1")
	assert.Equal(t, "s9", id)
	assert.Equal(t, "User", name)
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "AG", Initials("Ana Gómez"))
	assert.Equal(t, "L", Initials("luis"))
	assert.Equal(t, "MJ", Initials("María José Pérez"))
	assert.Equal(t, "ÑA", Initials("Ñandú Agropecuaria"))
	assert.Equal(t, "AG", Initials("  "))
	assert.Equal(t, "AG", Initials(""))
}

func TestUnreadBadge(t *testing.T) {
	assert.Equal(t, "", UnreadBadge(0))
	assert.Equal(t, "", UnreadBadge(-2))
	assert.Equal(t, "7", UnreadBadge(7))
	assert.Equal(t, "99", UnreadBadge(99))
	assert.Equal(t, "99+", UnreadBadge(100))
}

func TestRelativeTimeLabel(t *testing.T) {
	now := time.Date(2024, 5, 14, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		at       time.Time
		locale   string
		expected string
	}{
		{time.Time{}, "en", ""},
		{now.Add(-30 * time.Second), "en", "just now"},
		{now.Add(time.Minute), "en", "just now"},
		{now.Add(-5 * time.Minute), "en", "5 min ago"},
		{now.Add(-3 * time.Hour), "en", "3 h ago"},
		{now.Add(-50 * time.Hour), "en", "May 12, 2024"},
		{now.Add(-30 * time.Second), "es-MX", "Hace un momento"},
		{now.Add(-5 * time.Minute), "es-MX", "Hace 5 min"},
		{now.Add(-3 * time.Hour), "es-MX", "Hace 3 h"},
		{now.Add(-50 * time.Hour), "es-MX", "12 may 2024"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RelativeTimeLabel(tt.at, now, tt.locale), "at %v locale %s", tt.at, tt.locale)
	}
}
