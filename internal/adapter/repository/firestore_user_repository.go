package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
)

type firestoreUserRepository struct {
	client *firestore.Client
}

func NewFirestoreUserRepository(client *firestore.Client) repository.UserRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

func (r *firestoreUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	doc, err := r.client.Collection("users").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Internal("Failed to get user", err)
	}

	var user entity.User
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}
	if user.ID == "" {
		user.ID = doc.Ref.ID
	}

	data := doc.Data()
	if user.ActiveRole == entity.RoleUnknown {
		if v, ok := data["rol_activo"].(string); ok {
			user.ActiveRole = entity.ParseRole(v)
		}
	}
	if user.DisplayName == "" {
		if v, ok := data["nombre"].(string); ok {
			user.DisplayName = v
		}
	}
	return &user, nil
}

const (
	ordersCollection       = "orders"
	legacyOrdersCollection = "compras"
)

type firestoreOrderRepository struct {
	client *firestore.Client
}

func NewFirestoreOrderRepository(client *firestore.Client) repository.OrderRepository {
	return &firestoreOrderRepository{
		client: client,
	}
}

// GetByID reads the canonical orders collection first and falls back to the
// storefront's original purchases collection.
func (r *firestoreOrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	doc, err := r.client.Collection(ordersCollection).Doc(id).Get(ctx)
	if err == nil {
		var order entity.Order
		if err := doc.DataTo(&order); err != nil {
			return nil, errors.Internal("Failed to parse order data", err)
		}
		if order.ID == "" {
			order.ID = doc.Ref.ID
		}
		return &order, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, errors.Internal("Failed to get order", err)
	}

	doc, err = r.client.Collection(legacyOrdersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Order", err)
		}
		return nil, errors.Internal("Failed to get order", err)
	}
	return decodeLegacyOrder(doc.Ref.ID, doc.Data()), nil
}

func decodeLegacyOrder(id string, data map[string]interface{}) *entity.Order {
	order := &entity.Order{ID: id}
	order.BuyerID, _ = data["comprador_id"].(string)
	order.Status, _ = data["estado"].(string)
	if v, ok := data["fecha"].(time.Time); ok {
		order.CreatedAt = v
	}

	items, _ := data["productos"].([]interface{})
	for _, raw := range items {
		p, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		item := entity.OrderItem{}
		item.ProductID, _ = p["producto_id"].(string)
		item.Name, _ = p["nombre"].(string)
		item.Unit, _ = p["unidad"].(string)
		item.SellerID, _ = p["vendedor_id"].(string)
		item.SellerName, _ = p["vendedor_nombre"].(string)
		switch q := p["cantidad"].(type) {
		case int64:
			item.Quantity = float64(q)
		case float64:
			item.Quantity = q
		}
		order.Items = append(order.Items, item)
	}
	return order
}
