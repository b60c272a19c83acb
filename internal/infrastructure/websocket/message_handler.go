package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/internal/infrastructure/ratelimit"
	"agromarket/internal/usecase"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// Inbound frame types
const (
	MessageTypePing              = "ping"
	MessageTypeSubscribeChats    = "subscribe_chats"
	MessageTypeOpenConversation  = "open_conversation"
	MessageTypeCloseConversation = "close_conversation"
	MessageTypeSendMessage       = "send_message"
	MessageTypeVisibility        = "visibility"
)

// Outbound frame types
const (
	MessageTypePong         = "pong"
	MessageTypeChatList     = "chat_list"
	MessageTypeConversation = "conversation"
	MessageTypeMessages     = "messages"
	MessageTypeSendResult   = "send_result"
	MessageTypeNotice       = "notice"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type SubscribeChatsData struct {
	Locale string `json:"locale"`
}

type OpenConversationData struct {
	usecase.OpenConversationInput
	Visible bool `json:"visible"`
}

type SendMessageData struct {
	TempID string `json:"temp_id"`
	Text   string `json:"text"`
}

type VisibilityData struct {
	Visible bool `json:"visible"`
}

type ChatListData struct {
	Role  entity.Role          `json:"role,omitempty"`
	Chats []entity.ChatSummary `json:"chats"`
}

type MessagesData struct {
	ChatID string              `json:"chat_id"`
	Days   []entity.MessageDay `json:"days"`
}

type SendResultData struct {
	TempID     string          `json:"temp_id,omitempty"`
	OK         bool            `json:"ok"`
	Message    *entity.Message `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryAfter float64         `json:"retry_after_seconds,omitempty"`
}

type NoticeData struct {
	ChatID  string `json:"chat_id,omitempty"`
	Message string `json:"message"`
}

// Services are the use cases a session drives.
type Services struct {
	Reconciler *usecase.ChatReconciler
	Messages   *usecase.MessageStreamManager
	ChatList   *usecase.ChatListUseCase
	Chats      repository.ChatRepository
	Limiter    *ratelimit.RateLimiter
}

type conversation struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	chat     *entity.Chat
	messages []*entity.Message
}

func (c *conversation) snapshot() (*entity.Chat, []*entity.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat, c.messages
}

// Session is the chat state of one connection: at most one list
// subscription and one open conversation.
type Session struct {
	manager  *Manager
	client   *Client
	services Services
	viewer   *usecase.Viewer
	loc      *time.Location

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	locale string
	list   *usecase.ChatListFeed
	conv   *conversation

	sending atomic.Bool
}

func NewSession(ctx context.Context, manager *Manager, client *Client, session entity.Session, services Services, locale string, loc *time.Location) *Session {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		manager:  manager,
		client:   client,
		services: services,
		viewer:   usecase.NewViewer(session),
		loc:      loc,
		locale:   locale,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// HandleFrame processes one inbound frame. It is called from the read loop
// only, so frames of a connection are handled in order.
func (s *Session) HandleFrame(raw []byte) {
	var in WSMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		s.emit(MessageTypeNotice, NoticeData{Message: "invalid frame"})
		return
	}

	switch in.Type {
	case MessageTypePing:
		s.emit(MessageTypePong, nil)

	case MessageTypeSubscribeChats:
		var data SubscribeChatsData
		if !s.decode(in.Data, &data) {
			return
		}
		s.subscribeChats(data.Locale)

	case MessageTypeOpenConversation:
		var data OpenConversationData
		if !s.decode(in.Data, &data) {
			return
		}
		s.openConversation(data)

	case MessageTypeCloseConversation:
		s.closeConversation()

	case MessageTypeSendMessage:
		var data SendMessageData
		if !s.decode(in.Data, &data) {
			return
		}
		s.sendMessage(data)

	case MessageTypeVisibility:
		var data VisibilityData
		if !s.decode(in.Data, &data) {
			return
		}
		s.setVisible(data.Visible)

	default:
		logger.Debug("websocket: unknown frame type %q from %s", in.Type, s.client.ID)
		s.emit(MessageTypeNotice, NoticeData{Message: "unknown frame type"})
	}
}

func (s *Session) decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.emit(MessageTypeNotice, NoticeData{Message: "invalid frame data"})
		return false
	}
	return true
}

// Close stops every subscription of the session.
func (s *Session) Close() {
	s.cancel()
	s.closeConversation()

	s.mu.Lock()
	list := s.list
	s.list = nil
	s.mu.Unlock()
	if list != nil {
		list.Cancel()
	}
}

func (s *Session) currentLocale() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

func (s *Session) subscribeChats(locale string) {
	s.mu.Lock()
	if locale != "" {
		s.locale = locale
	}
	locale = s.locale
	prev := s.list
	s.list = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	feed := s.services.ChatList.SubscribeToUserChats(s.ctx, s.viewer.Session, locale)
	s.mu.Lock()
	s.list = feed
	s.mu.Unlock()

	go func() {
		for rows := range feed.Updates() {
			s.emit(MessageTypeChatList, ChatListData{Role: feed.Role(), Chats: rows})
		}
		if err := feed.Err(); err != nil {
			s.emit(MessageTypeNotice, NoticeData{Message: "chat list updates stopped"})
		}
	}()
}

func (s *Session) openConversation(data OpenConversationData) {
	if ok, wait := s.services.Limiter.Allow(s.viewer.UID, ratelimit.ActionOpenChat); !ok {
		logger.Warn("websocket: open_conversation rate limited for %s (retry in %s)", s.viewer.UID, wait)
		s.emit(MessageTypeNotice, NoticeData{Message: "too many requests"})
		return
	}

	s.closeConversation()
	s.viewer.SetVisible(data.Visible)

	session := s.viewer.Session
	session.Visible = data.Visible
	state := s.services.Reconciler.OpenConversation(s.ctx, session, data.OpenConversationInput)
	s.emit(MessageTypeConversation, state)
	if !state.Available {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	conv := &conversation{chat: state.Chat, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.forwardMessages(gctx, conv) })
	g.Go(func() error { return s.followChat(gctx, conv) })

	go func() {
		defer close(conv.done)
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			logger.Warn("websocket: conversation %s for %s stopped: %v", state.Chat.ID, s.viewer.UID, err)
			s.emit(MessageTypeNotice, NoticeData{ChatID: state.Chat.ID, Message: "live updates stopped"})
		}
	}()
}

func (s *Session) forwardMessages(ctx context.Context, conv *conversation) error {
	chat, _ := conv.snapshot()
	feed := s.services.Messages.ObserveMessages(ctx, chat, s.viewer)
	defer feed.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msgs, ok := <-feed.Updates():
			if !ok {
				return feed.Err()
			}
			conv.mu.Lock()
			conv.messages = msgs
			conv.mu.Unlock()
			s.emit(MessageTypeMessages, MessagesData{
				ChatID: chat.ID,
				Days:   usecase.GroupByDay(msgs, time.Now(), s.loc, s.currentLocale()),
			})
		}
	}
}

// followChat keeps the session's copy of the chat summary current and
// clears the viewer's unread count while the conversation is foregrounded.
func (s *Session) followChat(ctx context.Context, conv *conversation) error {
	chat, _ := conv.snapshot()
	stream := s.services.Chats.WatchByID(ctx, chat.ID)
	defer stream.Stop()

	for {
		snap, err := stream.Next()
		if err != nil {
			if stderrors.Is(err, repository.ErrStreamDone) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, change := range snap.Changes {
			if change.Kind == repository.ChangeRemoved || change.Chat == nil {
				continue
			}
			conv.mu.Lock()
			conv.chat = change.Chat
			conv.mu.Unlock()

			if s.viewer.Visible() && change.Chat.UnreadFor(s.viewer.UID) > 0 {
				s.services.Reconciler.MarkConversationRead(ctx, change.Chat, s.viewer.UID, true)
			}
		}
	}
}

func (s *Session) closeConversation() {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()
	if conv == nil {
		return
	}
	conv.cancel()
	<-conv.done
}

func (s *Session) setVisible(visible bool) {
	s.viewer.SetVisible(visible)
	if !visible {
		return
	}

	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return
	}
	chat, msgs := conv.snapshot()
	s.services.Reconciler.MarkConversationRead(s.ctx, chat, s.viewer.UID, true)
	s.services.Messages.MarkMessagesRead(s.ctx, chat.ID, s.viewer.UID, msgs)
}

func (s *Session) sendMessage(data SendMessageData) {
	if !s.sending.CompareAndSwap(false, true) {
		s.emit(MessageTypeSendResult, SendResultData{TempID: data.TempID, Error: "a message is already being sent"})
		return
	}

	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		s.sending.Store(false)
		s.emit(MessageTypeSendResult, SendResultData{TempID: data.TempID, Error: "no conversation is open"})
		return
	}

	if ok, wait := s.services.Limiter.Allow(s.viewer.UID, ratelimit.ActionSendMessage); !ok {
		s.sending.Store(false)
		s.emit(MessageTypeSendResult, SendResultData{
			TempID:     data.TempID,
			Error:      "too many messages",
			RetryAfter: wait.Seconds(),
		})
		return
	}

	chat, _ := conv.snapshot()
	go func() {
		defer s.sending.Store(false)

		text := strings.TrimSpace(data.Text)
		if text != "" && chat.HasParticipant(s.viewer.UID) {
			s.services.ChatList.PublishLocalMessage(s.viewer.UID, chat.ID, text)
		}

		sender := entity.ParticipantProfile{
			ID:          s.viewer.UID,
			DisplayName: s.viewer.Name(),
			Role:        chat.RoleOf(s.viewer.UID),
		}
		msg, err := s.services.Messages.SendMessage(s.ctx, chat, sender, text)
		if err != nil {
			s.emit(MessageTypeSendResult, SendResultData{TempID: data.TempID, Error: errorMessage(err)})
			return
		}
		if msg != nil {
			s.services.ChatList.ConfirmLocalMessage(s.viewer.UID, msg)
		}
		s.emit(MessageTypeSendResult, SendResultData{TempID: data.TempID, OK: true, Message: msg})
	}()
}

func errorMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "failed to send message"
}

func (s *Session) emit(msgType string, data interface{}) {
	raw, err := json.Marshal(outbound{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("websocket: marshal %s frame: %v", msgType, err)
		return
	}
	s.manager.Enqueue(s.client, raw)
}
