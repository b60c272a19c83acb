package entity

import "time"

// ChatSummary is one row of a user's chat list. It is derived and never
// persisted.
type ChatSummary struct {
	ChatID          string    `json:"chat_id"`
	OrderID         string    `json:"order_id"`
	OrderFolio      string    `json:"order_folio"`
	PartnerID       string    `json:"partner_id"`
	PartnerName     string    `json:"partner_name"`
	PartnerInitials string    `json:"partner_initials"`
	Preview         string    `json:"preview"`
	ActivityAt      time.Time `json:"activity_at"`
	TimeLabel       string    `json:"time_label"`
	Unread          int       `json:"unread"`
	UnreadBadge     string    `json:"unread_badge,omitempty"`
	Optimistic      bool      `json:"optimistic,omitempty"`
}

// MessageDay is a run of messages sharing a calendar day in the viewer's
// time zone.
type MessageDay struct {
	Label    string     `json:"label"`
	Date     string     `json:"date"`
	Messages []*Message `json:"messages"`
}
