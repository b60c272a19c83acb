package repository

import (
	"context"

	"agromarket/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Order, error)
}
