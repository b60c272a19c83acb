package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agromarket/internal/adapter/repository"
	"agromarket/internal/domain/entity"
	"agromarket/pkg/config"
)

var t0 = time.Date(2024, 5, 14, 15, 0, 0, 0, time.UTC)

type fixture struct {
	chats  *repository.MemoryChatRepository
	users  *repository.MemoryUserRepository
	orders *repository.MemoryOrderRepository

	resolver   *ChatIdentityResolver
	reconciler *ChatReconciler
	messages   *MessageStreamManager
	list       *ChatListUseCase
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		ResolveTimeout:     time.Second,
		DeliveredDelay:     time.Millisecond,
		OrderSearchLimit:   10,
		PartnerSearchLimit: 5,
		DefaultLocale:      "en",
	}
}

func newFixture(t *testing.T, cfg config.ChatConfig) *fixture {
	t.Helper()

	f := &fixture{
		chats:  repository.NewMemoryChatRepository(func() time.Time { return t0 }),
		users:  repository.NewMemoryUserRepository(),
		orders: repository.NewMemoryOrderRepository(),
	}
	f.resolver = NewChatIdentityResolver(f.chats, cfg)
	f.reconciler = NewChatReconciler(f.chats, f.orders, f.users, f.resolver)
	f.messages = NewMessageStreamManager(f.chats, f.reconciler, cfg)
	f.list = NewChatListUseCase(f.chats, f.users, cfg)
	t.Cleanup(f.messages.WaitDelivered)
	return f
}

func profile(id, name string, role entity.Role) entity.ParticipantProfile {
	return entity.ParticipantProfile{ID: id, DisplayName: name, Role: role}
}

func session(uid, name string, role entity.Role, visible bool) entity.Session {
	return entity.Session{
		Identity: entity.Identity{UID: uid, DisplayName: name},
		Role:     role,
		Visible:  visible,
	}
}

func mustChat(t *testing.T, f *fixture, id string) *entity.Chat {
	t.Helper()
	chat, err := f.chats.GetByID(context.Background(), id)
	require.NoError(t, err)
	return chat
}
