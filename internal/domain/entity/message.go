package entity

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
// Statuses only move sent -> delivered -> read; repeats and reversals are
// rejected. An unknown current status may move to any valid one.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Valid() && next.rank() > s.rank()
}

type Message struct {
	ID          string        `json:"id" firestore:"-"`
	ChatID      string        `json:"chat_id" firestore:"chatId"`
	SenderID    string        `json:"sender_id" firestore:"senderId"`
	SenderName  string        `json:"sender_name" firestore:"senderName"`
	Text        string        `json:"text" firestore:"text"`
	Status      MessageStatus `json:"status" firestore:"status"`
	CreatedAt   time.Time     `json:"created_at" firestore:"createdAt"`
	DeliveredAt time.Time     `json:"delivered_at,omitempty" firestore:"deliveredAt,omitempty"`
	ReadAt      time.Time     `json:"read_at,omitempty" firestore:"readAt,omitempty"`
}

// Before orders messages by server creation time, then by id so that two
// messages committed in the same instant still have a stable order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
