package entity

import "time"

type OrderItem struct {
	ProductID  string  `json:"product_id" firestore:"productId"`
	Name       string  `json:"name" firestore:"name"`
	Quantity   float64 `json:"quantity" firestore:"quantity"`
	Unit       string  `json:"unit" firestore:"unit"`
	SellerID   string  `json:"seller_id" firestore:"sellerId"`
	SellerName string  `json:"seller_name" firestore:"sellerName"`
}

// Order is read by the chat core only to recover a seller id when a chat is
// opened without one.
type Order struct {
	ID        string      `json:"id" firestore:"id"`
	BuyerID   string      `json:"buyer_id" firestore:"buyerId"`
	Status    string      `json:"status" firestore:"status"`
	Items     []OrderItem `json:"items" firestore:"items"`
	CreatedAt time.Time   `json:"created_at" firestore:"createdAt"`
}

// FirstSeller returns the seller of the first line item that has one.
func (o *Order) FirstSeller() (id, name string) {
	if o == nil {
		return "", ""
	}
	for _, it := range o.Items {
		if it.SellerID != "" {
			return it.SellerID, it.SellerName
		}
	}
	return "", ""
}

// OrderStatusChange is the payload handed to the email dispatcher when an
// external order flow reports a status transition.
type OrderStatusChange struct {
	RecipientEmail string      `json:"recipientEmail" validate:"required,email"`
	RecipientName  string      `json:"recipientName"`
	OrderID        string      `json:"orderId" validate:"required"`
	NewStatus      string      `json:"newStatus" validate:"required"`
	PreviousStatus string      `json:"previousStatus,omitempty"`
	LineItems      []OrderItem `json:"lineItems" validate:"dive"`
	VendorName     string      `json:"vendorName"`
	Timestamp      time.Time   `json:"timestamp"`

	// Filled by the notifier before handoff.
	NewStatusLabel      string `json:"newStatusLabel"`
	PreviousStatusLabel string `json:"previousStatusLabel,omitempty"`
}
