package usecase

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/config"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// Viewer is the live-view side of a session: who is looking and whether the
// conversation is currently foregrounded.
type Viewer struct {
	entity.Session
	visible atomic.Bool
}

func NewViewer(s entity.Session) *Viewer {
	v := &Viewer{Session: s}
	v.visible.Store(s.Visible)
	return v
}

func (v *Viewer) Visible() bool     { return v.visible.Load() }
func (v *Viewer) SetVisible(b bool) { v.visible.Store(b) }

type MessageStreamManager struct {
	chatRepo       repository.ChatRepository
	reconciler     *ChatReconciler
	deliveredDelay time.Duration

	pending sync.WaitGroup
}

func NewMessageStreamManager(chatRepo repository.ChatRepository, reconciler *ChatReconciler, cfg config.ChatConfig) *MessageStreamManager {
	return &MessageStreamManager{
		chatRepo:       chatRepo,
		reconciler:     reconciler,
		deliveredDelay: cfg.DeliveredDelay,
	}
}

// SendMessage appends text to the chat's message log and updates the chat
// summary. Blank text is ignored without touching the store. Only a failed
// append is returned; summary failures are logged by the reconciler.
func (m *MessageStreamManager) SendMessage(ctx context.Context, chat *entity.Chat, sender entity.ParticipantProfile, text string) (*entity.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !chat.HasParticipant(sender.ID) {
		return nil, errors.Forbidden("You are not a participant in this chat", nil)
	}
	if sender.Role == entity.RoleUnknown {
		sender.Role = chat.RoleOf(sender.ID)
	}

	stored, err := m.chatRepo.AppendMessage(ctx, &entity.Message{
		ChatID:     chat.ID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Text:       text,
		Status:     entity.MessageStatusSent,
	})
	if err != nil {
		logger.Error("SendMessage Error: append to chat %s failed: %v", chat.ID, err)
		return nil, err
	}

	m.scheduleDelivered(context.WithoutCancel(ctx), chat.ID, stored.ID)
	m.reconciler.RecordMessageSent(ctx, chat, sender, stored)
	return stored, nil
}

func (m *MessageStreamManager) scheduleDelivered(ctx context.Context, chatID, messageID string) {
	m.pending.Add(1)
	time.AfterFunc(m.deliveredDelay, func() {
		defer m.pending.Done()
		if _, err := m.chatRepo.AdvanceMessageStatus(ctx, chatID, []string{messageID}, entity.MessageStatusDelivered); err != nil {
			logger.Warn("SendMessage: marking %s delivered failed: %v", messageID, err)
		}
	})
}

// WaitDelivered blocks until every scheduled delivered transition ran.
func (m *MessageStreamManager) WaitDelivered() {
	m.pending.Wait()
}

// MarkMessagesRead advances every message in msgs addressed to viewerID
// that is not yet read.
func (m *MessageStreamManager) MarkMessagesRead(ctx context.Context, chatID, viewerID string, msgs []*entity.Message) {
	var ids []string
	for _, msg := range msgs {
		if msg.SenderID != viewerID && msg.Status != entity.MessageStatusRead {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if _, err := m.chatRepo.AdvanceMessageStatus(ctx, chatID, ids, entity.MessageStatusRead); err != nil {
		logger.Warn("MarkMessagesRead: chat %s: %v", chatID, err)
	}
}

// MessageFeed is a live, ordered view of a chat's message log. Every
// emission carries the whole log. Only the latest emission is kept if the
// consumer falls behind.
type MessageFeed struct {
	updates chan []*entity.Message
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func (f *MessageFeed) Updates() <-chan []*entity.Message { return f.updates }

// Cancel stops the feed and waits for its goroutine to exit.
func (f *MessageFeed) Cancel() {
	f.cancel()
	<-f.done
}

// Err reports why the feed ended. It is nil after Cancel.
func (f *MessageFeed) Err() error {
	<-f.done
	return f.err
}

// ObserveMessages subscribes viewer to the chat's message log. While the
// viewer is visible, each emission also marks the viewer's incoming
// messages as read.
func (m *MessageStreamManager) ObserveMessages(ctx context.Context, chat *entity.Chat, viewer *Viewer) *MessageFeed {
	ctx, cancel := context.WithCancel(ctx)
	feed := &MessageFeed{
		updates: make(chan []*entity.Message, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	stream := m.chatRepo.WatchMessages(ctx, chat.ID)
	recipient := chat.HasParticipant(viewer.UID)

	go func() {
		defer close(feed.done)
		defer close(feed.updates)
		defer stream.Stop()

		for {
			snap, err := stream.Next()
			if err != nil {
				if !stderrors.Is(err, repository.ErrStreamDone) && ctx.Err() == nil {
					logger.Warn("ObserveMessages: chat %s subscription failed: %v", chat.ID, err)
					feed.err = err
				}
				return
			}

			if recipient && viewer.Visible() {
				m.MarkMessagesRead(ctx, chat.ID, viewer.UID, snap.Messages)
			}
			offerLatest(feed.updates, snap.Messages)
		}
	}()
	return feed
}

// LoadChat returns the chat if viewerID takes part in it.
func (m *MessageStreamManager) LoadChat(ctx context.Context, chatID, viewerID string) (*entity.Chat, error) {
	chat, err := m.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(viewerID) {
		return nil, errors.Forbidden("You are not a participant in this chat", nil)
	}
	return chat, nil
}

// Messages returns the current message log, with the same read marking an
// ObserveMessages emission would do.
func (m *MessageStreamManager) Messages(ctx context.Context, chat *entity.Chat, viewer *Viewer) ([]*entity.Message, error) {
	feed := m.ObserveMessages(ctx, chat, viewer)
	defer feed.Cancel()

	select {
	case msgs, ok := <-feed.Updates():
		if !ok {
			if err := feed.Err(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// offerLatest replaces any unconsumed value in ch with v. ch must have a
// buffer of one and a single sender.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// GroupByDay splits an ordered message list into calendar days in loc.
func GroupByDay(msgs []*entity.Message, now time.Time, loc *time.Location, locale string) []entity.MessageDay {
	if loc == nil {
		loc = time.Local
	}
	l := labelsFor(locale)
	ny, nm, nd := now.In(loc).Date()

	var days []entity.MessageDay
	for _, msg := range msgs {
		t := msg.CreatedAt.In(loc)
		key := t.Format("2006-01-02")
		if n := len(days); n > 0 && days[n-1].Date == key {
			days[n-1].Messages = append(days[n-1].Messages, msg)
			continue
		}

		label := l.long(t)
		if y, m, d := t.Date(); y == ny && m == nm && d == nd {
			label = l.today
		}
		days = append(days, entity.MessageDay{Label: label, Date: key, Messages: []*entity.Message{msg}})
	}
	return days
}
