package usecase

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/config"
	"agromarket/pkg/logger"
)

type ChatListUseCase struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	locale   string
	clock    func() time.Time
	tick     time.Duration

	mu    sync.Mutex
	feeds map[string]map[*ChatListFeed]struct{}
}

func NewChatListUseCase(chatRepo repository.ChatRepository, userRepo repository.UserRepository, cfg config.ChatConfig) *ChatListUseCase {
	return &ChatListUseCase{
		chatRepo: chatRepo,
		userRepo: userRepo,
		locale:   cfg.DefaultLocale,
		clock:    time.Now,
		tick:     time.Minute,
		feeds:    make(map[string]map[*ChatListFeed]struct{}),
	}
}

// ChatListFeed is one viewer's live chat list. A single goroutine owns the
// projection state; everything else reaches it through channels.
type ChatListFeed struct {
	userID string
	role   entity.Role
	locale string

	updates chan []entity.ChatSummary
	local   chan LocalMessageSent
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func (f *ChatListFeed) Updates() <-chan []entity.ChatSummary { return f.updates }

// Role is the role the list is filtered by; RoleUnknown means both.
func (f *ChatListFeed) Role() entity.Role { return f.role }

func (f *ChatListFeed) Cancel() {
	f.cancel()
	<-f.done
}

// Err reports the subscription failure that ended the feed, if any.
func (f *ChatListFeed) Err() error {
	<-f.done
	return f.err
}

type chatDelta struct {
	source int
	snap   *repository.ChatSnapshot
	err    error
}

type previewResult struct {
	chatID string
	text   string
}

// SubscribeToUserChats starts a live list of the chats session's user takes
// part in, filtered by the session role or, failing that, the user's stored
// active role. With no known role both sides are merged.
func (uc *ChatListUseCase) SubscribeToUserChats(ctx context.Context, session entity.Session, locale string) *ChatListFeed {
	if locale == "" {
		locale = uc.locale
	}
	role := session.Role
	if role == entity.RoleUnknown && uc.userRepo != nil {
		if u, err := uc.userRepo.GetByID(ctx, session.UID); err == nil {
			role = u.ActiveRole
		} else {
			logger.Debug("SubscribeToUserChats: no profile for %s, showing both roles: %v", session.UID, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	feed := &ChatListFeed{
		userID:  session.UID,
		role:    role,
		locale:  locale,
		updates: make(chan []entity.ChatSummary, 1),
		local:   make(chan LocalMessageSent, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var streams []repository.ChatStream
	switch role {
	case entity.RoleBuyer:
		streams = append(streams, uc.chatRepo.Watch(ctx, repository.ChatFilter{BuyerID: session.UID}))
	case entity.RoleSeller:
		streams = append(streams, uc.chatRepo.Watch(ctx, repository.ChatFilter{SellerID: session.UID}))
	default:
		streams = append(streams,
			uc.chatRepo.Watch(ctx, repository.ChatFilter{BuyerID: session.UID}),
			uc.chatRepo.Watch(ctx, repository.ChatFilter{SellerID: session.UID}),
		)
	}

	uc.register(feed)
	go uc.run(ctx, feed, streams)
	return feed
}

// Snapshot returns the first emission of a list feed and cancels it.
func (uc *ChatListUseCase) Snapshot(ctx context.Context, session entity.Session, locale string) ([]entity.ChatSummary, error) {
	feed := uc.SubscribeToUserChats(ctx, session, locale)
	defer feed.Cancel()

	select {
	case rows, ok := <-feed.Updates():
		if !ok {
			return nil, feed.Err()
		}
		return rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishLocalMessage tells every list feed of userID in this process that
// the user is sending text in chatID.
func (uc *ChatListUseCase) PublishLocalMessage(userID, chatID, text string) {
	uc.publishLocal(userID, LocalMessageSent{ChatID: chatID, Text: text, At: uc.clock()})
}

// ConfirmLocalMessage reports a message of userID that the store accepted.
// The optimistic row goes away once the chat's lastMessageAt reaches the
// message's timestamp, whichever of the two arrives first.
func (uc *ChatListUseCase) ConfirmLocalMessage(userID string, msg *entity.Message) {
	uc.publishLocal(userID, LocalMessageSent{
		ChatID:   msg.ChatID,
		Text:     msg.Text,
		At:       uc.clock(),
		StoredAt: msg.CreatedAt,
	})
}

func (uc *ChatListUseCase) publishLocal(userID string, ev LocalMessageSent) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for feed := range uc.feeds[userID] {
		select {
		case feed.local <- ev:
		default:
			logger.Warn("PublishLocalMessage: list feed of %s is backed up, dropping optimistic update", userID)
		}
	}
}

func (uc *ChatListUseCase) register(feed *ChatListFeed) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.feeds[feed.userID] == nil {
		uc.feeds[feed.userID] = make(map[*ChatListFeed]struct{})
	}
	uc.feeds[feed.userID][feed] = struct{}{}
}

func (uc *ChatListUseCase) unregister(feed *ChatListFeed) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.feeds[feed.userID], feed)
	if len(uc.feeds[feed.userID]) == 0 {
		delete(uc.feeds, feed.userID)
	}
}

func (uc *ChatListUseCase) run(ctx context.Context, feed *ChatListFeed, streams []repository.ChatStream) {
	defer close(feed.done)
	defer close(feed.updates)
	defer uc.unregister(feed)

	deltas := make(chan chatDelta)
	var pumps sync.WaitGroup
	for i, s := range streams {
		pumps.Add(1)
		go func(source int, s repository.ChatStream) {
			defer pumps.Done()
			defer s.Stop()
			for {
				snap, err := s.Next()
				select {
				case deltas <- chatDelta{source: source, snap: snap, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}(i, s)
	}
	defer func() {
		feed.cancel()
		pumps.Wait()
	}()

	previews := make(chan previewResult)
	requested := make(map[string]bool)
	// chat id -> sources currently reporting it, for the merged both-roles view
	membership := make(map[string]map[int]bool)
	started := make(map[int]bool, len(streams))
	pending := len(streams)

	ticker := time.NewTicker(uc.tick)
	defer ticker.Stop()

	state := NewProjectionState(feed.userID)
	emit := func() {
		offerLatest(feed.updates, state.Rows(uc.clock(), feed.locale))
		for _, id := range state.MissingPreviews() {
			if requested[id] {
				continue
			}
			requested[id] = true
			go uc.loadPreview(ctx, id, previews)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case d := <-deltas:
			if d.err != nil {
				if !stderrors.Is(d.err, repository.ErrStreamDone) && ctx.Err() == nil {
					logger.Warn("SubscribeToUserChats: list subscription of %s failed: %v", feed.userID, d.err)
					feed.err = d.err
				}
				return
			}
			state = ReduceProjection(state, ChatsChanged{Changes: mergeSources(membership, d.source, d.snap.Changes)})
			if !started[d.source] {
				started[d.source] = true
				pending--
			}
			// Hold the first emission until every source delivered its
			// initial snapshot so the merged list does not jump.
			if pending == 0 {
				emit()
			}

		case ev := <-feed.local:
			state = ReduceProjection(state, ev)
			if pending == 0 {
				emit()
			}

		case p := <-previews:
			state = ReduceProjection(state, PreviewLoaded{ChatID: p.chatID, Text: p.text})
			if pending == 0 {
				emit()
			}

		case <-ticker.C:
			if pending == 0 {
				emit()
			}
		}
	}
}

// mergeSources keeps a chat in the merged view until every source that
// reported it has removed it.
func mergeSources(membership map[string]map[int]bool, source int, changes []repository.ChatChange) []repository.ChatChange {
	out := make([]repository.ChatChange, 0, len(changes))
	for _, ch := range changes {
		if ch.Chat == nil {
			continue
		}
		id := ch.Chat.ID
		if ch.Kind == repository.ChangeRemoved {
			delete(membership[id], source)
			if len(membership[id]) > 0 {
				continue
			}
			delete(membership, id)
			out = append(out, ch)
			continue
		}
		if membership[id] == nil {
			membership[id] = make(map[int]bool)
		}
		membership[id][source] = true
		out = append(out, ch)
	}
	return out
}

func (uc *ChatListUseCase) loadPreview(ctx context.Context, chatID string, out chan<- previewResult) {
	msg, err := uc.chatRepo.LatestMessage(ctx, chatID)
	if err != nil {
		logger.Warn("loadPreview: chat %s: %v", chatID, err)
		return
	}
	text := ""
	if msg != nil {
		text = msg.Text
	}
	select {
	case out <- previewResult{chatID: chatID, text: text}:
	case <-ctx.Done():
	}
}
