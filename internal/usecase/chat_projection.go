package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
)

// ProjectionEvent is an input to ReduceProjection.
type ProjectionEvent interface {
	isProjectionEvent()
}

// ChatsChanged carries the deltas of one store snapshot.
type ChatsChanged struct {
	Changes []repository.ChatChange
}

// LocalMessageSent is raised by this process when the viewer sends a
// message, before or after the append. StoredAt is the message's server
// timestamp once the append committed; zero while it is still pending.
type LocalMessageSent struct {
	ChatID   string
	Text     string
	At       time.Time
	StoredAt time.Time
}

// PreviewLoaded carries the text of a chat's latest message, fetched because
// the chat document had no lastMessage.
type PreviewLoaded struct {
	ChatID string
	Text   string
}

func (ChatsChanged) isProjectionEvent()     {}
func (LocalMessageSent) isProjectionEvent() {}
func (PreviewLoaded) isProjectionEvent()    {}

type optimisticRow struct {
	text string
	at   time.Time
	// server lastMessageAt when the first local write was applied
	base time.Time
	// server timestamp of the stored message, if known
	stored time.Time
}

// supersededBy reports whether a server lastMessageAt covers the row.
func (o optimisticRow) supersededBy(at time.Time) bool {
	if at.After(o.base) {
		return true
	}
	return !o.stored.IsZero() && !at.Before(o.stored)
}

// ProjectionState is the list view of one viewer. Values are immutable:
// ReduceProjection always returns a new state and never touches the old one.
type ProjectionState struct {
	viewerID   string
	chats      map[string]*entity.Chat
	optimistic map[string]optimisticRow
	previews   map[string]string
}

func NewProjectionState(viewerID string) ProjectionState {
	return ProjectionState{viewerID: viewerID}
}

func (s ProjectionState) Len() int { return len(s.chats) }

func (s ProjectionState) clone() ProjectionState {
	out := ProjectionState{
		viewerID:   s.viewerID,
		chats:      make(map[string]*entity.Chat, len(s.chats)),
		optimistic: make(map[string]optimisticRow, len(s.optimistic)),
		previews:   make(map[string]string, len(s.previews)),
	}
	for k, v := range s.chats {
		out.chats[k] = v
	}
	for k, v := range s.optimistic {
		out.optimistic[k] = v
	}
	for k, v := range s.previews {
		out.previews[k] = v
	}
	return out
}

func (s ProjectionState) activity(chatID string) time.Time {
	if o, ok := s.optimistic[chatID]; ok {
		return o.at
	}
	if c, ok := s.chats[chatID]; ok {
		return c.ActivityAt()
	}
	return time.Time{}
}

func (s ProjectionState) latestActivity() time.Time {
	var latest time.Time
	for id := range s.chats {
		if a := s.activity(id); a.After(latest) {
			latest = a
		}
	}
	return latest
}

// ReduceProjection folds one event into the state.
//
// A server row replaces an optimistic one as soon as its lastMessageAt is
// newer than what the row had before the local write, or reaches the stored
// message's timestamp. Older echoes leave the optimistic row in place so it
// does not flicker back. A confirmation that arrives after the server row
// already caught up only clears the optimistic row.
func ReduceProjection(state ProjectionState, event ProjectionEvent) ProjectionState {
	next := state.clone()

	switch ev := event.(type) {
	case ChatsChanged:
		for _, ch := range ev.Changes {
			if ch.Chat == nil {
				continue
			}
			id := ch.Chat.ID
			if ch.Kind == repository.ChangeRemoved {
				delete(next.chats, id)
				delete(next.optimistic, id)
				continue
			}
			next.chats[id] = ch.Chat
			if o, ok := next.optimistic[id]; ok && o.supersededBy(ch.Chat.LastMessageAt) {
				delete(next.optimistic, id)
			}
		}

	case LocalMessageSent:
		chat, ok := next.chats[ev.ChatID]
		if !ok {
			return next
		}
		if !ev.StoredAt.IsZero() && !chat.LastMessageAt.Before(ev.StoredAt) {
			delete(next.optimistic, ev.ChatID)
			return next
		}
		row := optimisticRow{text: ev.Text, at: ev.At, base: chat.LastMessageAt, stored: ev.StoredAt}
		if prev, ok := next.optimistic[ev.ChatID]; ok {
			row.base = prev.base
			if row.stored.IsZero() {
				row.stored = prev.stored
			}
		}
		// Local clocks may lag the server; the row still has to land on top.
		if latest := next.latestActivity(); !row.at.After(latest) {
			row.at = latest.Add(time.Millisecond)
		}
		next.optimistic[ev.ChatID] = row

	case PreviewLoaded:
		next.previews[ev.ChatID] = ev.Text
	}
	return next
}

// MissingPreviews lists chats that have neither a stored nor a cached
// preview.
func (s ProjectionState) MissingPreviews() []string {
	var ids []string
	for id, c := range s.chats {
		if c.LastMessage != "" {
			continue
		}
		if _, ok := s.previews[id]; ok {
			continue
		}
		if _, ok := s.optimistic[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rows renders the state as list rows, most recent activity first.
func (s ProjectionState) Rows(now time.Time, locale string) []entity.ChatSummary {
	rows := make([]entity.ChatSummary, 0, len(s.chats))
	for id, c := range s.chats {
		partnerID, partnerName := PartnerOf(c, s.viewerID)
		row := entity.ChatSummary{
			ChatID:          id,
			OrderID:         c.OrderID,
			OrderFolio:      c.OrderFolio,
			PartnerID:       partnerID,
			PartnerName:     partnerName,
			PartnerInitials: Initials(partnerName),
			Preview:         c.LastMessage,
			ActivityAt:      c.ActivityAt(),
			Unread:          c.UnreadFor(s.viewerID),
		}
		if row.OrderFolio == "" && row.OrderID != "" {
			row.OrderFolio = OrderFolio(row.OrderID)
		}
		if row.Preview == "" {
			row.Preview = s.previews[id]
		}
		if o, ok := s.optimistic[id]; ok {
			row.Preview = o.text
			row.ActivityAt = o.at
			row.Unread = 0
			row.Optimistic = true
		}
		row.TimeLabel = RelativeTimeLabel(row.ActivityAt, now, locale)
		row.UnreadBadge = UnreadBadge(row.Unread)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ActivityAt.Equal(rows[j].ActivityAt) {
			return rows[i].ActivityAt.After(rows[j].ActivityAt)
		}
		return rows[i].ChatID < rows[j].ChatID
	})
	return rows
}

// PartnerOf returns the participant of chat who is not viewerID. Profiles
// are consulted first, then the buyer and seller fields, then the plain
// participant list.
func PartnerOf(chat *entity.Chat, viewerID string) (id, name string) {
	profileIDs := make([]string, 0, len(chat.ParticipantProfiles))
	for pid := range chat.ParticipantProfiles {
		profileIDs = append(profileIDs, pid)
	}
	sort.Strings(profileIDs)
	for _, pid := range profileIDs {
		if pid != viewerID && pid != "" {
			id = pid
			name = chat.ParticipantProfiles[pid].DisplayName
			break
		}
	}

	if id == "" {
		switch viewerID {
		case chat.BuyerID:
			id = chat.SellerID
		case chat.SellerID:
			id = chat.BuyerID
		}
	}
	if id == "" {
		for _, pid := range chat.ParticipantIDs {
			if pid != viewerID && pid != "" {
				id = pid
				break
			}
		}
	}

	if name == "" {
		switch {
		case id != "" && id == chat.SellerID:
			name = chat.SellerName
		case id != "" && id == chat.BuyerID:
			name = chat.BuyerName
		}
	}
	if name == "" {
		name = "User"
	}
	return id, name
}

// Initials takes the first letter of up to two words of name.
func Initials(name string) string {
	var b strings.Builder
	for i, word := range strings.Fields(name) {
		if i == 2 {
			break
		}
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
	}
	if b.Len() == 0 {
		return "AG"
	}
	return b.String()
}

func UnreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return fmt.Sprint(n)
	}
}

// RelativeTimeLabel renders how long ago at was, falling back to a short
// date after a day.
func RelativeTimeLabel(at, now time.Time, locale string) string {
	if at.IsZero() {
		return ""
	}
	l := labelsFor(locale)
	diff := now.Sub(at)
	if diff < 0 {
		diff = 0
	}

	minutes := int(diff / time.Minute)
	switch {
	case minutes < 1:
		return l.justNow
	case minutes < 60:
		return fmt.Sprintf(l.minutes, minutes)
	case minutes < 24*60:
		return fmt.Sprintf(l.hours, minutes/60)
	default:
		return l.short(at.In(now.Location()))
	}
}
