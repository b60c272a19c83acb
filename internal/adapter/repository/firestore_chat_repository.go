package repository

import (
	"context"
	stderrors "errors"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) chats() *firestore.CollectionRef {
	return r.client.Collection(chatsCollection)
}

func (r *firestoreChatRepository) messages(chatID string) *firestore.CollectionRef {
	return r.chats().Doc(chatID).Collection(messagesCollection)
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	doc, err := r.chats().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat", err)
		}
		return nil, errors.Internal("Failed to get chat", err)
	}
	return decodeChat(doc)
}

func (r *firestoreChatRepository) FindByOrder(ctx context.Context, q repository.ChatQuery) ([]*entity.Chat, error) {
	orderField, buyerField, sellerField := "orderId", "buyerId", "sellerId"
	if q.Legacy {
		orderField, buyerField, sellerField = legacyOrderField, legacyBuyerField, legacySellerField
	}

	query := r.chats().Where(orderField, "==", q.OrderID)
	if q.BuyerID != "" {
		query = query.Where(buyerField, "==", q.BuyerID)
	}
	if q.SellerID != "" {
		query = query.Where(sellerField, "==", q.SellerID)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var chats []*entity.Chat
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to query chats by order", err)
		}
		chat, err := decodeChat(doc)
		if err != nil {
			logger.Warn("FindByOrder: skipping malformed chat %s: %v", doc.Ref.ID, err)
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (r *firestoreChatRepository) Create(ctx context.Context, chat *entity.Chat) error {
	_, err := r.chats().Doc(chat.ID).Create(ctx, encodeNewChat(chat))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Chat already exists", err)
		}
		return errors.Internal("Failed to create chat", err)
	}
	return nil
}

func (r *firestoreChatRepository) Merge(ctx context.Context, id string, patch *entity.ChatPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if _, err := r.chats().Doc(id).Set(ctx, encodePatch(patch), firestore.MergeAll); err != nil {
		return errors.Internal("Failed to merge chat fields", err)
	}
	return nil
}

func (r *firestoreChatRepository) Update(ctx context.Context, id string, fn repository.ChatTxFunc) error {
	ref := r.chats().Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *entity.Chat
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if current, err = decodeChat(snap); err != nil {
				return err
			}
		case status.Code(err) != codes.NotFound:
			return err
		}

		patch, err := fn(current)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			return nil
		}
		return tx.Set(ref, encodePatch(patch), firestore.MergeAll)
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return err
		}
		return errors.Internal("Chat transaction failed", err)
	}
	return nil
}

func (r *firestoreChatRepository) ResetUnread(ctx context.Context, id, userID string) error {
	_, err := r.chats().Doc(id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCounts", userID}, Value: 0},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Chat", err)
		}
		return errors.Internal("Failed to reset unread count", err)
	}
	return nil
}

func (r *firestoreChatRepository) Watch(ctx context.Context, filter repository.ChatFilter) repository.ChatStream {
	query := r.chats().Query
	if filter.BuyerID != "" {
		query = query.Where("buyerId", "==", filter.BuyerID)
	}
	if filter.SellerID != "" {
		query = query.Where("sellerId", "==", filter.SellerID)
	}
	return &firestoreChatStream{iter: query.Snapshots(ctx)}
}

func (r *firestoreChatRepository) WatchByID(ctx context.Context, id string) repository.ChatStream {
	return &firestoreChatDocStream{id: id, iter: r.chats().Doc(id).Snapshots(ctx)}
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	ref, wr, err := r.messages(msg.ChatID).Add(ctx, map[string]interface{}{
		"chatId":     msg.ChatID,
		"senderId":   msg.SenderID,
		"senderName": msg.SenderName,
		"text":       msg.Text,
		"status":     string(entity.MessageStatusSent),
		"createdAt":  firestore.ServerTimestamp,
	})
	if err != nil {
		return nil, errors.Internal("Failed to create message", err)
	}

	stored := *msg
	stored.ID = ref.ID
	stored.Status = entity.MessageStatusSent
	// The server timestamp transform resolves to the commit time.
	stored.CreatedAt = wr.UpdateTime
	return &stored, nil
}

func (r *firestoreChatRepository) AdvanceMessageStatus(ctx context.Context, chatID string, messageIDs []string, next entity.MessageStatus) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(messageIDs))
	for _, id := range messageIDs {
		refs = append(refs, r.messages(chatID).Doc(id))
	}

	stampField := "deliveredAt"
	if next == entity.MessageStatusRead {
		stampField = "readAt"
	}

	var changed int
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = 0
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			current, _ := snap.Data()["status"].(string)
			if !entity.MessageStatus(current).CanAdvanceTo(next) {
				continue
			}
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "status", Value: string(next)},
				{Path: stampField, Value: firestore.ServerTimestamp},
			}); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Internal("Failed to update message status", err)
	}
	return changed, nil
}

func (r *firestoreChatRepository) LatestMessage(ctx context.Context, chatID string) (*entity.Message, error) {
	iter := r.messages(chatID).OrderBy("createdAt", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("Failed to read latest message", err)
	}
	return decodeMessage(doc), nil
}

func (r *firestoreChatRepository) WatchMessages(ctx context.Context, chatID string) repository.MessageStream {
	q := r.messages(chatID).OrderBy("createdAt", firestore.Asc)
	return &firestoreMessageStream{iter: q.Snapshots(ctx)}
}

type firestoreChatStream struct {
	iter *firestore.QuerySnapshotIterator
}

func (s *firestoreChatStream) Next() (*repository.ChatSnapshot, error) {
	qs, err := s.iter.Next()
	if err != nil {
		return nil, streamErr(err)
	}

	snap := &repository.ChatSnapshot{}
	for _, ch := range qs.Changes {
		chat, err := decodeChat(ch.Doc)
		if err != nil {
			logger.Warn("chat stream: skipping malformed chat %s: %v", ch.Doc.Ref.ID, err)
			continue
		}
		snap.Changes = append(snap.Changes, repository.ChatChange{Kind: changeKind(ch.Kind), Chat: chat})
	}
	return snap, nil
}

func (s *firestoreChatStream) Stop() {
	s.iter.Stop()
}

type firestoreChatDocStream struct {
	id   string
	iter *firestore.DocumentSnapshotIterator
	seen bool
}

func (s *firestoreChatDocStream) Next() (*repository.ChatSnapshot, error) {
	doc, err := s.iter.Next()
	if err != nil {
		return nil, streamErr(err)
	}

	if !doc.Exists() {
		if !s.seen {
			return &repository.ChatSnapshot{}, nil
		}
		s.seen = false
		return &repository.ChatSnapshot{Changes: []repository.ChatChange{
			{Kind: repository.ChangeRemoved, Chat: &entity.Chat{ID: s.id}},
		}}, nil
	}

	chat, err := decodeChat(doc)
	if err != nil {
		return nil, errors.Internal("Failed to parse chat data", err)
	}
	kind := repository.ChangeModified
	if !s.seen {
		kind = repository.ChangeAdded
		s.seen = true
	}
	return &repository.ChatSnapshot{Changes: []repository.ChatChange{{Kind: kind, Chat: chat}}}, nil
}

func (s *firestoreChatDocStream) Stop() {
	s.iter.Stop()
}

type firestoreMessageStream struct {
	iter *firestore.QuerySnapshotIterator
}

func (s *firestoreMessageStream) Next() (*repository.MessageSnapshot, error) {
	qs, err := s.iter.Next()
	if err != nil {
		return nil, streamErr(err)
	}

	docs, err := qs.Documents.GetAll()
	if err != nil {
		return nil, errors.Internal("Failed to read message snapshot", err)
	}

	snap := &repository.MessageSnapshot{Messages: make([]*entity.Message, 0, len(docs))}
	for _, doc := range docs {
		snap.Messages = append(snap.Messages, decodeMessage(doc))
	}
	sort.SliceStable(snap.Messages, func(i, j int) bool {
		return snap.Messages[i].Before(snap.Messages[j])
	})
	for _, ch := range qs.Changes {
		snap.Changes = append(snap.Changes, repository.MessageChange{Kind: changeKind(ch.Kind), Message: decodeMessage(ch.Doc)})
	}
	return snap, nil
}

func (s *firestoreMessageStream) Stop() {
	s.iter.Stop()
}

func changeKind(k firestore.DocumentChangeKind) repository.ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return repository.ChangeAdded
	case firestore.DocumentRemoved:
		return repository.ChangeRemoved
	default:
		return repository.ChangeModified
	}
}

func streamErr(err error) error {
	if err == iterator.Done || status.Code(err) == codes.Canceled || stderrors.Is(err, context.Canceled) {
		return repository.ErrStreamDone
	}
	return errors.Internal("Live subscription failed", err)
}
