package repository

import (
	"context"
	"errors"

	"agromarket/internal/domain/entity"
)

// ErrStreamDone is returned by a stream's Next after Stop or context cancel.
var ErrStreamDone = errors.New("stream done")

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

type ChatChange struct {
	Kind ChangeKind
	Chat *entity.Chat
}

type ChatSnapshot struct {
	Changes []ChatChange
}

// ChatStream is a live query. The first Next returns every matching chat as
// ChangeAdded; later calls block until something changes.
type ChatStream interface {
	Next() (*ChatSnapshot, error)
	Stop()
}

type MessageChange struct {
	Kind    ChangeKind
	Message *entity.Message
}

// MessageSnapshot carries the whole ordered log plus the changes that
// produced it.
type MessageSnapshot struct {
	Messages []*entity.Message
	Changes  []MessageChange
}

type MessageStream interface {
	Next() (*MessageSnapshot, error)
	Stop()
}

// ChatQuery is an equality query against the chats collection. Legacy
// switches the order filter to the pre-migration order field.
type ChatQuery struct {
	OrderID  string
	Legacy   bool
	BuyerID  string
	SellerID string
	Limit    int
}

// ChatFilter selects the chats a list view watches. Exactly one of the ids
// is expected to be set.
type ChatFilter struct {
	BuyerID  string
	SellerID string
}

// ChatTxFunc computes a patch from the chat as read inside a transaction.
// current is nil when the document does not exist. It may run more than once
// if the store retries on contention.
type ChatTxFunc func(current *entity.Chat) (*entity.ChatPatch, error)

type ChatRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	FindByOrder(ctx context.Context, q ChatQuery) ([]*entity.Chat, error)

	// Create fails with a CONFLICT error if a chat with the same id exists.
	Create(ctx context.Context, chat *entity.Chat) error
	// Merge applies patch without a transaction, creating the document if
	// needed. Increments in the patch are still atomic.
	Merge(ctx context.Context, id string, patch *entity.ChatPatch) error
	// Update runs fn in a read-modify-write transaction.
	Update(ctx context.Context, id string, fn ChatTxFunc) error
	// ResetUnread sets unreadCounts[userID] to zero on an existing chat.
	ResetUnread(ctx context.Context, id, userID string) error

	Watch(ctx context.Context, filter ChatFilter) ChatStream
	WatchByID(ctx context.Context, id string) ChatStream

	// AppendMessage stores msg with a store-assigned id and server timestamp
	// and returns the stored copy.
	AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error)
	// AdvanceMessageStatus moves the given messages forward to status and
	// skips any that are already at or past it. Returns how many changed.
	AdvanceMessageStatus(ctx context.Context, chatID string, messageIDs []string, status entity.MessageStatus) (int, error)
	// LatestMessage returns nil, nil for an empty log.
	LatestMessage(ctx context.Context, chatID string) (*entity.Message, error)
	WatchMessages(ctx context.Context, chatID string) MessageStream
}
