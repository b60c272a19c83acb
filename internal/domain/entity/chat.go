package entity

import (
	"sort"
	"time"
)

type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleUnknown Role = ""
)

// ParseRole accepts the canonical names and the legacy Spanish ones.
func ParseRole(s string) Role {
	switch s {
	case "buyer", "comprador":
		return RoleBuyer
	case "seller", "vendedor":
		return RoleSeller
	default:
		return RoleUnknown
	}
}

func (r Role) Counterpart() Role {
	switch r {
	case RoleBuyer:
		return RoleSeller
	case RoleSeller:
		return RoleBuyer
	default:
		return RoleUnknown
	}
}

type ParticipantProfile struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Role        Role   `json:"role" firestore:"role"`
}

// Chat is the shared summary document for one order between a buyer and a
// seller. The message log under it is authoritative; this record is a cache.
type Chat struct {
	ID                  string                        `json:"id" firestore:"id"`
	OrderID             string                        `json:"order_id" firestore:"orderId"`
	OrderFolio          string                        `json:"order_folio" firestore:"orderFolio"`
	BuyerID             string                        `json:"buyer_id" firestore:"buyerId"`
	BuyerName           string                        `json:"buyer_name" firestore:"buyerName"`
	SellerID            string                        `json:"seller_id" firestore:"sellerId"`
	SellerName          string                        `json:"seller_name" firestore:"sellerName"`
	ParticipantIDs      []string                      `json:"participant_ids" firestore:"participantIds"`
	ParticipantProfiles map[string]ParticipantProfile `json:"participant_profiles" firestore:"participantProfiles"`
	UnreadCounts        map[string]int                `json:"unread_counts" firestore:"unreadCounts"`
	LastMessage         string                        `json:"last_message" firestore:"lastMessage"`
	LastMessageAt       time.Time                     `json:"last_message_at" firestore:"lastMessageAt"`
	LastMessageSenderID string                        `json:"last_message_sender_id" firestore:"lastMessageSenderId"`
	CreatedAt           time.Time                     `json:"created_at" firestore:"createdAt"`
	UpdatedAt           time.Time                     `json:"updated_at" firestore:"updatedAt"`
}

// ActivityAt is the recency key used to order chats: last message, then
// last update, then creation.
func (c *Chat) ActivityAt() time.Time {
	switch {
	case !c.LastMessageAt.IsZero():
		return c.LastMessageAt
	case !c.UpdatedAt.IsZero():
		return c.UpdatedAt
	default:
		return c.CreatedAt
	}
}

func (c *Chat) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	if _, ok := c.ParticipantProfiles[userID]; ok {
		return true
	}
	return c.BuyerID == userID || c.SellerID == userID
}

// RoleOf reports the role userID plays in the chat.
func (c *Chat) RoleOf(userID string) Role {
	switch userID {
	case "":
		return RoleUnknown
	case c.BuyerID:
		return RoleBuyer
	case c.SellerID:
		return RoleSeller
	}
	if p, ok := c.ParticipantProfiles[userID]; ok {
		return p.Role
	}
	return RoleUnknown
}

// CounterpartOf returns the other participant's id, or "" when unknown.
func (c *Chat) CounterpartOf(userID string) string {
	switch userID {
	case c.BuyerID:
		if c.SellerID != "" {
			return c.SellerID
		}
	case c.SellerID:
		if c.BuyerID != "" {
			return c.BuyerID
		}
	}
	for _, id := range c.ParticipantIDs {
		if id != "" && id != userID {
			return id
		}
	}
	for _, id := range sortedKeys(c.ParticipantProfiles) {
		if id != userID {
			return id
		}
	}
	return ""
}

func (c *Chat) UnreadFor(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	n := c.UnreadCounts[userID]
	if n < 0 {
		return 0
	}
	return n
}

// Clone returns a deep copy so callers can mutate without touching shared
// snapshot state.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.ParticipantProfiles != nil {
		out.ParticipantProfiles = make(map[string]ParticipantProfile, len(c.ParticipantProfiles))
		for k, v := range c.ParticipantProfiles {
			out.ParticipantProfiles[k] = v
		}
	}
	if c.UnreadCounts != nil {
		out.UnreadCounts = make(map[string]int, len(c.UnreadCounts))
		for k, v := range c.UnreadCounts {
			out.UnreadCounts[k] = v
		}
	}
	return &out
}

func sortedKeys(m map[string]ParticipantProfile) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChatPatch is a partial write against a chat document. Empty strings and nil
// maps mean "leave untouched".
type ChatPatch struct {
	OrderID    string
	OrderFolio string
	BuyerID    string
	BuyerName  string
	SellerID   string
	SellerName string

	AddParticipants []string
	Profiles        map[string]ParticipantProfile
	UnreadCounts    map[string]int
	UnreadIncrement map[string]int

	LastMessage *LastMessage
}

type LastMessage struct {
	Text     string
	SenderID string
	At       time.Time
}

func (p *ChatPatch) IsEmpty() bool {
	return p == nil || (p.OrderID == "" && p.OrderFolio == "" &&
		p.BuyerID == "" && p.BuyerName == "" &&
		p.SellerID == "" && p.SellerName == "" &&
		len(p.AddParticipants) == 0 && len(p.Profiles) == 0 &&
		len(p.UnreadCounts) == 0 && len(p.UnreadIncrement) == 0 &&
		p.LastMessage == nil)
}

// ApplyTo folds the patch into c the way the store would, with updatedAt set
// to at. Used for the merged view returned to callers and by the in-memory
// store.
func (p *ChatPatch) ApplyTo(c *Chat, at time.Time) {
	if p == nil {
		return
	}
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&c.OrderID, p.OrderID)
	setIf(&c.OrderFolio, p.OrderFolio)
	setIf(&c.BuyerID, p.BuyerID)
	setIf(&c.BuyerName, p.BuyerName)
	setIf(&c.SellerID, p.SellerID)
	setIf(&c.SellerName, p.SellerName)

	for _, id := range p.AddParticipants {
		if id != "" && !contains(c.ParticipantIDs, id) {
			c.ParticipantIDs = append(c.ParticipantIDs, id)
		}
	}
	if len(p.Profiles) > 0 && c.ParticipantProfiles == nil {
		c.ParticipantProfiles = make(map[string]ParticipantProfile, len(p.Profiles))
	}
	for id, prof := range p.Profiles {
		c.ParticipantProfiles[id] = prof
	}
	if (len(p.UnreadCounts) > 0 || len(p.UnreadIncrement) > 0) && c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int)
	}
	for id, n := range p.UnreadCounts {
		c.UnreadCounts[id] = n
	}
	for id, n := range p.UnreadIncrement {
		c.UnreadCounts[id] += n
	}
	if lm := p.LastMessage; lm != nil {
		c.LastMessage = lm.Text
		c.LastMessageSenderID = lm.SenderID
		c.LastMessageAt = lm.At
	}
	if !at.IsZero() {
		c.UpdatedAt = at
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
