package repository

import (
	"time"

	"cloud.google.com/go/firestore"

	"agromarket/internal/domain/entity"
)

// Pre-migration field names. Chats written by the first storefront used
// Spanish snake_case keys; they are read as fallbacks until cmd/migrate has
// rewritten every document.
const (
	legacyOrderField  = "pedido_id"
	legacyBuyerField  = "comprador_id"
	legacySellerField = "vendedor_id"
)

func decodeChat(doc *firestore.DocumentSnapshot) (*entity.Chat, error) {
	var chat entity.Chat
	if err := doc.DataTo(&chat); err != nil {
		return nil, err
	}
	if chat.ID == "" {
		chat.ID = doc.Ref.ID
	}
	overlayLegacyChat(&chat, doc.Data())
	return &chat, nil
}

// overlayLegacyChat fills canonical fields that are empty from their legacy
// counterparts and reports whether anything was filled.
func overlayLegacyChat(c *entity.Chat, data map[string]interface{}) bool {
	changed := false
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := data[key].(string); ok && v != "" {
			*dst = v
			changed = true
		}
	}
	fillTime := func(dst *time.Time, key string) {
		if !dst.IsZero() {
			return
		}
		if v, ok := data[key].(time.Time); ok {
			*dst = v
			changed = true
		}
	}

	fill(&c.OrderID, legacyOrderField)
	fill(&c.OrderFolio, "pedido_folio")
	fill(&c.BuyerID, legacyBuyerField)
	fill(&c.BuyerName, "comprador_nombre")
	fill(&c.SellerID, legacySellerField)
	fill(&c.SellerName, "vendedor_nombre")
	fill(&c.LastMessage, "last_message")
	fill(&c.LastMessageSenderID, "last_message_sender_id")
	fillTime(&c.LastMessageAt, "last_message_at")
	fillTime(&c.CreatedAt, "created_at")
	fillTime(&c.UpdatedAt, "updated_at")

	if len(c.ParticipantIDs) == 0 {
		if ids, ok := data["participants"].([]interface{}); ok {
			for _, raw := range ids {
				if id, ok := raw.(string); ok && id != "" {
					c.ParticipantIDs = append(c.ParticipantIDs, id)
					changed = true
				}
			}
		}
	}

	if len(c.ParticipantProfiles) == 0 {
		if profiles, ok := data["participantsData"].(map[string]interface{}); ok {
			for uid, raw := range profiles {
				p, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				name, _ := p["nombre"].(string)
				role, _ := p["rol_activo"].(string)
				if c.ParticipantProfiles == nil {
					c.ParticipantProfiles = make(map[string]entity.ParticipantProfile)
				}
				c.ParticipantProfiles[uid] = entity.ParticipantProfile{
					ID:          uid,
					DisplayName: name,
					Role:        entity.ParseRole(role),
				}
				changed = true
			}
		}
	}
	return changed
}

func decodeMessage(doc *firestore.DocumentSnapshot) *entity.Message {
	var msg entity.Message
	data := doc.Data()
	// Field type mismatches on old documents are tolerated; whatever decoded
	// is kept and the legacy keys fill the rest.
	_ = doc.DataTo(&msg)
	msg.ID = doc.Ref.ID
	if msg.ChatID == "" && doc.Ref.Parent != nil && doc.Ref.Parent.Parent != nil {
		msg.ChatID = doc.Ref.Parent.Parent.ID
	}
	overlayLegacyMessage(&msg, data)
	if !msg.Status.Valid() {
		msg.Status = entity.MessageStatusSent
	}
	return &msg
}

func overlayLegacyMessage(m *entity.Message, data map[string]interface{}) bool {
	changed := false
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v, ok := data[k].(string); ok && v != "" {
				*dst = v
				changed = true
				return
			}
		}
	}
	fill(&m.Text, "message", "mensaje")
	fill(&m.SenderID, "sender_id", "remitente_id")
	fill(&m.SenderName, "sender_name", "remitente_nombre")
	if m.Status == "" {
		if v, ok := data["estado"].(string); ok {
			m.Status = legacyStatus(v)
			changed = m.Status != ""
		}
	}
	if m.CreatedAt.IsZero() {
		if v, ok := data["created_at"].(time.Time); ok {
			m.CreatedAt = v
			changed = true
		}
	}
	return changed
}

func legacyStatus(s string) entity.MessageStatus {
	switch s {
	case "enviado", "sent":
		return entity.MessageStatusSent
	case "entregado", "delivered":
		return entity.MessageStatusDelivered
	case "leido", "leído", "read":
		return entity.MessageStatusRead
	default:
		return ""
	}
}

func encodeProfile(p entity.ParticipantProfile) map[string]interface{} {
	return map[string]interface{}{
		"id":          p.ID,
		"displayName": p.DisplayName,
		"role":        string(p.Role),
	}
}

func encodeNewChat(c *entity.Chat) map[string]interface{} {
	profiles := make(map[string]interface{}, len(c.ParticipantProfiles))
	for id, p := range c.ParticipantProfiles {
		profiles[id] = encodeProfile(p)
	}
	unread := make(map[string]interface{}, len(c.UnreadCounts))
	for id, n := range c.UnreadCounts {
		unread[id] = n
	}
	participants := c.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}

	data := map[string]interface{}{
		"id":                  c.ID,
		"orderId":             c.OrderID,
		"orderFolio":          c.OrderFolio,
		"buyerId":             c.BuyerID,
		"buyerName":           c.BuyerName,
		"sellerId":            c.SellerID,
		"sellerName":          c.SellerName,
		"participantIds":      participants,
		"participantProfiles": profiles,
		"unreadCounts":        unread,
		"lastMessage":         c.LastMessage,
		"lastMessageSenderId": c.LastMessageSenderID,
		"createdAt":           firestore.ServerTimestamp,
		"updatedAt":           firestore.ServerTimestamp,
	}
	if !c.LastMessageAt.IsZero() {
		data["lastMessageAt"] = c.LastMessageAt
	}
	return data
}

// encodePatch renders a patch for Set with MergeAll. Nested maps merge at the
// leaf, so per-user keys never need escaping.
func encodePatch(p *entity.ChatPatch) map[string]interface{} {
	data := map[string]interface{}{
		"updatedAt": firestore.ServerTimestamp,
	}
	set := func(key, v string) {
		if v != "" {
			data[key] = v
		}
	}
	set("orderId", p.OrderID)
	set("orderFolio", p.OrderFolio)
	set("buyerId", p.BuyerID)
	set("buyerName", p.BuyerName)
	set("sellerId", p.SellerID)
	set("sellerName", p.SellerName)

	if len(p.AddParticipants) > 0 {
		ids := make([]interface{}, 0, len(p.AddParticipants))
		for _, id := range p.AddParticipants {
			if id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			data["participantIds"] = firestore.ArrayUnion(ids...)
		}
	}

	if len(p.Profiles) > 0 {
		profiles := make(map[string]interface{}, len(p.Profiles))
		for id, prof := range p.Profiles {
			profiles[id] = encodeProfile(prof)
		}
		data["participantProfiles"] = profiles
	}

	if len(p.UnreadCounts) > 0 || len(p.UnreadIncrement) > 0 {
		unread := make(map[string]interface{}, len(p.UnreadCounts)+len(p.UnreadIncrement))
		for id, n := range p.UnreadCounts {
			unread[id] = n
		}
		for id, n := range p.UnreadIncrement {
			unread[id] = firestore.Increment(n)
		}
		data["unreadCounts"] = unread
	}

	if lm := p.LastMessage; lm != nil {
		data["lastMessage"] = lm.Text
		data["lastMessageSenderId"] = lm.SenderID
		if lm.At.IsZero() {
			data["lastMessageAt"] = firestore.ServerTimestamp
		} else {
			data["lastMessageAt"] = lm.At
		}
	}
	return data
}
