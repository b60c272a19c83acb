package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
)

// Operation names accepted by MemoryChatRepository.FailNext.
const (
	OpGetByID     = "get"
	OpFindByOrder = "find"
	OpCreate      = "create"
	OpMerge       = "merge"
	OpUpdate      = "update"
	OpResetUnread = "reset_unread"
	OpAppend      = "append"
	OpAdvance     = "advance"
	OpLatest      = "latest"
	OpWatch       = "watch"
)

// MemoryChatRepository is an in-process chat store with the same semantics
// as the Firestore one: server-assigned monotonic timestamps, serialized
// transactions and live queries. It backs STORE_BACKEND=memory and the tests.
type MemoryChatRepository struct {
	mu    sync.Mutex
	clock func() time.Time
	last  time.Time

	chats        map[string]*entity.Chat
	legacyOrders map[string]string
	messages     map[string][]*entity.Message

	chatWatchers map[*memoryChatStream]struct{}
	msgWatchers  map[*memoryMessageStream]struct{}

	failures map[string][]error
	latency  time.Duration
}

func NewMemoryChatRepository(clock func() time.Time) *MemoryChatRepository {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryChatRepository{
		clock:        clock,
		chats:        make(map[string]*entity.Chat),
		legacyOrders: make(map[string]string),
		messages:     make(map[string][]*entity.Message),
		chatWatchers: make(map[*memoryChatStream]struct{}),
		msgWatchers:  make(map[*memoryMessageStream]struct{}),
		failures:     make(map[string][]error),
	}
}

var _ repository.ChatRepository = (*MemoryChatRepository)(nil)

// FailNext makes the next call of op return err.
func (r *MemoryChatRepository) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], err)
}

// SetLatency delays every lookup by d, honoring context cancellation.
func (r *MemoryChatRepository) SetLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = d
}

// SeedLegacy stores chat as a pre-migration document: its order id is only
// reachable through a legacy query.
func (r *MemoryChatRepository) SeedLegacy(chat *entity.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := chat.Clone()
	r.legacyOrders[c.ID] = c.OrderID
	c.OrderID = ""
	r.putLocked(c)
}

// Put stores chat as-is, bypassing timestamps. Test seeding only.
func (r *MemoryChatRepository) Put(chat *entity.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(chat.Clone())
}

// Messages returns a copy of the ordered log of a chat.
func (r *MemoryChatRepository) Messages(chatID string) []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageListLocked(chatID)
}

func (r *MemoryChatRepository) failure(op string) error {
	errs := r.failures[op]
	if len(errs) == 0 {
		return nil
	}
	r.failures[op] = errs[1:]
	return errs[0]
}

func (r *MemoryChatRepository) wait(ctx context.Context) error {
	r.mu.Lock()
	d := r.latency
	r.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// now returns a strictly increasing server time.
func (r *MemoryChatRepository) now() time.Time {
	t := r.clock()
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *MemoryChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpGetByID); err != nil {
		return nil, err
	}
	c, ok := r.chats[id]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	return c.Clone(), nil
}

func (r *MemoryChatRepository) FindByOrder(ctx context.Context, q repository.ChatQuery) ([]*entity.Chat, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpFindByOrder); err != nil {
		return nil, err
	}

	var out []*entity.Chat
	for _, id := range r.chatIDsLocked() {
		c := r.chats[id]
		orderID := c.OrderID
		if q.Legacy {
			orderID = r.legacyOrders[id]
		}
		if orderID == "" || orderID != q.OrderID {
			continue
		}
		if q.BuyerID != "" && c.BuyerID != q.BuyerID {
			continue
		}
		if q.SellerID != "" && c.SellerID != q.SellerID {
			continue
		}
		out = append(out, c.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryChatRepository) Create(ctx context.Context, chat *entity.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpCreate); err != nil {
		return err
	}
	if _, ok := r.chats[chat.ID]; ok {
		return errors.Conflict("Chat already exists", nil)
	}
	c := chat.Clone()
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int)
	}
	r.putLocked(c)
	return nil
}

func (r *MemoryChatRepository) Merge(ctx context.Context, id string, patch *entity.ChatPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpMerge); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	r.applyLocked(id, patch)
	return nil
}

func (r *MemoryChatRepository) Update(ctx context.Context, id string, fn repository.ChatTxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpUpdate); err != nil {
		return err
	}

	// Holding the store lock for the whole read-modify-write serializes
	// transactions the way a contended document would.
	patch, err := fn(r.chats[id].Clone())
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	r.applyLocked(id, patch)
	return nil
}

func (r *MemoryChatRepository) ResetUnread(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpResetUnread); err != nil {
		return err
	}
	if _, ok := r.chats[id]; !ok {
		return errors.NotFound("Chat", nil)
	}
	r.applyLocked(id, &entity.ChatPatch{UnreadCounts: map[string]int{userID: 0}})
	return nil
}

func (r *MemoryChatRepository) applyLocked(id string, patch *entity.ChatPatch) {
	old, existed := r.chats[id]
	var next *entity.Chat
	if existed {
		next = old.Clone()
	} else {
		next = &entity.Chat{ID: id}
	}
	now := r.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if patch.LastMessage != nil && patch.LastMessage.At.IsZero() {
		lm := *patch.LastMessage
		lm.At = now
		p := *patch
		p.LastMessage = &lm
		patch = &p
	}
	patch.ApplyTo(next, now)
	r.chats[id] = next
	if existed {
		r.notifyChatLocked(old, next)
	} else {
		r.notifyChatLocked(nil, next)
	}
}

func (r *MemoryChatRepository) putLocked(c *entity.Chat) {
	old := r.chats[c.ID]
	r.chats[c.ID] = c
	r.notifyChatLocked(old, c)
}

func (r *MemoryChatRepository) chatIDsLocked() []string {
	ids := make([]string, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *MemoryChatRepository) notifyChatLocked(old, next *entity.Chat) {
	for w := range r.chatWatchers {
		was := old != nil && w.match(old)
		is := w.match(next)
		switch {
		case is && !was:
			w.push(repository.ChatChange{Kind: repository.ChangeAdded, Chat: next.Clone()})
		case is && was:
			w.push(repository.ChatChange{Kind: repository.ChangeModified, Chat: next.Clone()})
		case was:
			w.push(repository.ChatChange{Kind: repository.ChangeRemoved, Chat: next.Clone()})
		}
	}
}

func (r *MemoryChatRepository) Watch(ctx context.Context, filter repository.ChatFilter) repository.ChatStream {
	return r.watchChats(ctx, func(c *entity.Chat) bool {
		if filter.BuyerID != "" && c.BuyerID != filter.BuyerID {
			return false
		}
		if filter.SellerID != "" && c.SellerID != filter.SellerID {
			return false
		}
		return true
	})
}

func (r *MemoryChatRepository) WatchByID(ctx context.Context, id string) repository.ChatStream {
	return r.watchChats(ctx, func(c *entity.Chat) bool { return c.ID == id })
}

func (r *MemoryChatRepository) watchChats(ctx context.Context, match func(*entity.Chat) bool) repository.ChatStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &memoryChatStream{
		repo:   r,
		ctx:    ctx,
		match:  match,
		notify: make(chan struct{}, 1),
		first:  true,
	}
	for _, id := range r.chatIDsLocked() {
		if c := r.chats[id]; match(c) {
			w.pending = append(w.pending, repository.ChatChange{Kind: repository.ChangeAdded, Chat: c.Clone()})
		}
	}
	r.chatWatchers[w] = struct{}{}
	return w
}

func (r *MemoryChatRepository) AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpAppend); err != nil {
		return nil, err
	}

	stored := *msg
	stored.ID = uuid.New().String()
	stored.Status = entity.MessageStatusSent
	stored.CreatedAt = r.now()
	r.messages[msg.ChatID] = append(r.messages[msg.ChatID], &stored)
	r.notifyMessagesLocked(msg.ChatID, repository.MessageChange{Kind: repository.ChangeAdded, Message: copyMessage(&stored)})

	out := stored
	return &out, nil
}

func (r *MemoryChatRepository) AdvanceMessageStatus(ctx context.Context, chatID string, messageIDs []string, next entity.MessageStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpAdvance); err != nil {
		return 0, err
	}

	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	changed := 0
	for _, m := range r.messages[chatID] {
		if !wanted[m.ID] || !m.Status.CanAdvanceTo(next) {
			continue
		}
		now := r.now()
		m.Status = next
		if next == entity.MessageStatusRead {
			m.ReadAt = now
		} else {
			m.DeliveredAt = now
		}
		changed++
		r.notifyMessagesLocked(chatID, repository.MessageChange{Kind: repository.ChangeModified, Message: copyMessage(m)})
	}
	return changed, nil
}

func (r *MemoryChatRepository) LatestMessage(ctx context.Context, chatID string) (*entity.Message, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(OpLatest); err != nil {
		return nil, err
	}
	list := r.messageListLocked(chatID)
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (r *MemoryChatRepository) WatchMessages(ctx context.Context, chatID string) repository.MessageStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &memoryMessageStream{
		repo:   r,
		ctx:    ctx,
		chatID: chatID,
		notify: make(chan struct{}, 1),
		ready:  true,
		latest: r.messageListLocked(chatID),
	}
	for _, m := range w.latest {
		w.pending = append(w.pending, repository.MessageChange{Kind: repository.ChangeAdded, Message: copyMessage(m)})
	}
	r.msgWatchers[w] = struct{}{}
	return w
}

func (r *MemoryChatRepository) notifyMessagesLocked(chatID string, change repository.MessageChange) {
	var list []*entity.Message
	for w := range r.msgWatchers {
		if w.chatID != chatID {
			continue
		}
		if list == nil {
			list = r.messageListLocked(chatID)
		}
		w.push(list, change)
	}
}

func (r *MemoryChatRepository) messageListLocked(chatID string) []*entity.Message {
	src := r.messages[chatID]
	out := make([]*entity.Message, 0, len(src))
	for _, m := range src {
		out = append(out, copyMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func copyMessage(m *entity.Message) *entity.Message {
	c := *m
	return &c
}

type memoryChatStream struct {
	repo   *MemoryChatRepository
	ctx    context.Context
	match  func(*entity.Chat) bool
	notify chan struct{}

	mu      sync.Mutex
	pending []repository.ChatChange
	first   bool
	stopped bool
}

func (s *memoryChatStream) push(change repository.ChatChange) {
	s.mu.Lock()
	s.pending = append(s.pending, change)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memoryChatStream) Next() (*repository.ChatSnapshot, error) {
	for {
		s.repo.mu.Lock()
		err := s.repo.failure(OpWatch)
		s.repo.mu.Unlock()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil, repository.ErrStreamDone
		}
		if len(s.pending) > 0 || s.first {
			snap := &repository.ChatSnapshot{Changes: s.pending}
			s.pending = nil
			s.first = false
			s.mu.Unlock()
			return snap, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.ctx.Done():
			s.Stop()
			return nil, repository.ErrStreamDone
		}
	}
}

func (s *memoryChatStream) Stop() {
	s.repo.mu.Lock()
	delete(s.repo.chatWatchers, s)
	s.repo.mu.Unlock()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

type memoryMessageStream struct {
	repo   *MemoryChatRepository
	ctx    context.Context
	chatID string
	notify chan struct{}

	mu      sync.Mutex
	latest  []*entity.Message
	pending []repository.MessageChange
	ready   bool
	stopped bool
}

func (s *memoryMessageStream) push(list []*entity.Message, change repository.MessageChange) {
	s.mu.Lock()
	s.latest = list
	s.pending = append(s.pending, change)
	s.ready = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memoryMessageStream) Next() (*repository.MessageSnapshot, error) {
	for {
		s.repo.mu.Lock()
		err := s.repo.failure(OpWatch)
		s.repo.mu.Unlock()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil, repository.ErrStreamDone
		}
		if s.ready {
			snap := &repository.MessageSnapshot{Messages: s.latest, Changes: s.pending}
			s.pending = nil
			s.ready = false
			s.mu.Unlock()
			return snap, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.ctx.Done():
			s.Stop()
			return nil, repository.ErrStreamDone
		}
	}
}

func (s *memoryMessageStream) Stop() {
	s.repo.mu.Lock()
	delete(s.repo.msgWatchers, s)
	s.repo.mu.Unlock()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// MemoryUserRepository and MemoryOrderRepository back the memory store
// profile lookups.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*entity.User
}

func NewMemoryUserRepository(users ...*entity.User) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[string]*entity.User)}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

func (r *MemoryUserRepository) Put(u *entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *u
	r.users[u.ID] = &c
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	c := *u
	return &c, nil
}

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*entity.Order
}

func NewMemoryOrderRepository(orders ...*entity.Order) *MemoryOrderRepository {
	r := &MemoryOrderRepository{orders: make(map[string]*entity.Order)}
	for _, o := range orders {
		r.Put(o)
	}
	return r
}

func (r *MemoryOrderRepository) Put(o *entity.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *o
	c.Items = append([]entity.OrderItem(nil), o.Items...)
	r.orders[o.ID] = &c
}

func (r *MemoryOrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, errors.NotFound("Order", nil)
	}
	c := *o
	c.Items = append([]entity.OrderItem(nil), o.Items...)
	return &c, nil
}
