package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// MigrationReport counts what a migration pass touched.
type MigrationReport struct {
	ChatsScanned      int `json:"chats_scanned"`
	ChatsRewritten    int `json:"chats_rewritten"`
	MessagesScanned   int `json:"messages_scanned"`
	MessagesRewritten int `json:"messages_rewritten"`
}

// ChatMigrator rewrites chats and messages stored with the legacy field names
// into the canonical camelCase schema. Legacy keys are kept unless Prune is
// set so that old clients keep working during the rollout.
type ChatMigrator struct {
	client *firestore.Client
	DryRun bool
	Prune  bool
}

func NewChatMigrator(client *firestore.Client) *ChatMigrator {
	return &ChatMigrator{client: client}
}

var legacyChatKeys = []string{
	legacyOrderField, "pedido_folio",
	legacyBuyerField, "comprador_nombre",
	legacySellerField, "vendedor_nombre",
	"participants", "participantsData",
	"last_message", "last_message_at", "last_message_sender_id",
	"created_at", "updated_at",
}

var legacyMessageKeys = []string{
	"message", "mensaje", "sender_id", "remitente_id",
	"sender_name", "remitente_nombre", "estado", "created_at",
}

func (m *ChatMigrator) Run(ctx context.Context) (*MigrationReport, error) {
	report := &MigrationReport{}
	iter := m.client.Collection(chatsCollection).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return report, errors.Internal("Failed to scan chats", err)
		}
		report.ChatsScanned++

		if err := m.migrateChat(ctx, doc, report); err != nil {
			return report, err
		}
		if err := m.migrateMessages(ctx, doc.Ref, report); err != nil {
			return report, err
		}
	}
	logger.Info("Chat migration finished: %d/%d chats, %d/%d messages rewritten (dry run: %v)",
		report.ChatsRewritten, report.ChatsScanned, report.MessagesRewritten, report.MessagesScanned, m.DryRun)
	return report, nil
}

func (m *ChatMigrator) migrateChat(ctx context.Context, doc *firestore.DocumentSnapshot, report *MigrationReport) error {
	var chat entity.Chat
	if err := doc.DataTo(&chat); err != nil {
		logger.Warn("migrate: chat %s does not decode, skipping: %v", doc.Ref.ID, err)
		return nil
	}
	data := doc.Data()
	filled := overlayLegacyChat(&chat, data)
	if chat.ID == "" {
		chat.ID = doc.Ref.ID
		filled = true
	}
	prune := m.Prune && hasAny(data, legacyChatKeys)
	if !filled && !prune {
		return nil
	}

	report.ChatsRewritten++
	if m.DryRun {
		logger.Info("migrate: would rewrite chat %s", doc.Ref.ID)
		return nil
	}

	update := canonicalChatFields(&chat)
	if prune {
		for _, k := range legacyChatKeys {
			if _, ok := data[k]; ok {
				update[k] = firestore.Delete
			}
		}
	}
	if _, err := doc.Ref.Set(ctx, update, firestore.MergeAll); err != nil {
		return errors.Internal("Failed to rewrite chat "+doc.Ref.ID, err)
	}
	return nil
}

func (m *ChatMigrator) migrateMessages(ctx context.Context, chatRef *firestore.DocumentRef, report *MigrationReport) error {
	iter := chatRef.Collection(messagesCollection).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return errors.Internal("Failed to scan messages of chat "+chatRef.ID, err)
		}
		report.MessagesScanned++

		var msg entity.Message
		_ = doc.DataTo(&msg)
		data := doc.Data()
		filled := overlayLegacyMessage(&msg, data)
		prune := m.Prune && hasAny(data, legacyMessageKeys)
		if !filled && !prune {
			continue
		}

		report.MessagesRewritten++
		if m.DryRun {
			continue
		}

		if !msg.Status.Valid() {
			msg.Status = entity.MessageStatusSent
		}
		update := map[string]interface{}{
			"chatId":     chatRef.ID,
			"senderId":   msg.SenderID,
			"senderName": msg.SenderName,
			"text":       msg.Text,
			"status":     string(msg.Status),
		}
		if !msg.CreatedAt.IsZero() {
			update["createdAt"] = msg.CreatedAt
		}
		if prune {
			for _, k := range legacyMessageKeys {
				if _, ok := data[k]; ok {
					update[k] = firestore.Delete
				}
			}
		}
		if _, err := doc.Ref.Set(ctx, update, firestore.MergeAll); err != nil {
			return errors.Internal("Failed to rewrite message "+doc.Ref.ID, err)
		}
	}
}

func canonicalChatFields(c *entity.Chat) map[string]interface{} {
	profiles := make(map[string]interface{}, len(c.ParticipantProfiles))
	for id, p := range c.ParticipantProfiles {
		profiles[id] = encodeProfile(p)
	}
	data := map[string]interface{}{
		"id":                  c.ID,
		"orderId":             c.OrderID,
		"orderFolio":          c.OrderFolio,
		"buyerId":             c.BuyerID,
		"buyerName":           c.BuyerName,
		"sellerId":            c.SellerID,
		"sellerName":          c.SellerName,
		"participantProfiles": profiles,
		"lastMessage":         c.LastMessage,
		"lastMessageSenderId": c.LastMessageSenderID,
	}
	if len(c.ParticipantIDs) > 0 {
		data["participantIds"] = c.ParticipantIDs
	}
	if !c.LastMessageAt.IsZero() {
		data["lastMessageAt"] = c.LastMessageAt
	}
	if !c.CreatedAt.IsZero() {
		data["createdAt"] = c.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		data["updatedAt"] = c.UpdatedAt
	}
	return data
}

func hasAny(data map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}
