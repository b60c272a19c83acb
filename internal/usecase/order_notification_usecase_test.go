package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
)

type chanDispatcher struct {
	got     chan *entity.OrderStatusChange
	release chan struct{}
}

func newChanDispatcher(blocking bool) *chanDispatcher {
	d := &chanDispatcher{got: make(chan *entity.OrderStatusChange, 8)}
	if blocking {
		d.release = make(chan struct{})
	}
	return d
}

func (d *chanDispatcher) Dispatch(ctx context.Context, change *entity.OrderStatusChange) error {
	d.got <- change
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func statusChange(email string) entity.OrderStatusChange {
	return entity.OrderStatusChange{
		RecipientEmail: email,
		RecipientName:  "Ana",
		OrderID:        "ord-42",
		NewStatus:      "enviado",
		PreviousStatus: "preparando",
		LineItems:      []entity.OrderItem{{Name: "Maíz blanco", Quantity: 2}},
		VendorName:     "Granja Sol",
	}
}

func TestNotifyStatusChange_Validation(t *testing.T) {
	uc := NewOrderNotificationUseCase(newChanDispatcher(false), 4)

	tests := []struct {
		name   string
		change entity.OrderStatusChange
	}{
		{name: "missing email", change: statusChange("")},
		{name: "invalid email", change: statusChange("not-an-email")},
		{name: "missing order", change: func() entity.OrderStatusChange {
			c := statusChange("ana@example.com")
			c.OrderID = ""
			return c
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, uc.NotifyStatusChange(context.Background(), tt.change))
		})
	}
}

func TestNotifyStatusChange_Dispatches(t *testing.T) {
	d := newChanDispatcher(false)
	uc := NewOrderNotificationUseCase(d, 4)
	uc.clock = func() time.Time { return t0 }
	uc.Start(context.Background())
	defer uc.Close()

	require.NoError(t, uc.NotifyStatusChange(context.Background(), statusChange("ana@example.com")))

	select {
	case got := <-d.got:
		assert.Equal(t, "ord-42", got.OrderID)
		assert.Equal(t, "Enviado", got.NewStatusLabel)
		assert.Equal(t, "Preparando", got.PreviousStatusLabel)
		assert.Equal(t, t0, got.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not dispatched")
	}
}

func TestNotifyStatusChange_UnknownStatusKeepsValue(t *testing.T) {
	d := newChanDispatcher(false)
	uc := NewOrderNotificationUseCase(d, 4)
	uc.Start(context.Background())
	defer uc.Close()

	change := statusChange("ana@example.com")
	change.NewStatus = "en_aduana"
	change.PreviousStatus = ""
	require.NoError(t, uc.NotifyStatusChange(context.Background(), change))

	got := <-d.got
	assert.Equal(t, "en_aduana", got.NewStatusLabel)
	assert.Empty(t, got.PreviousStatusLabel)
}

func TestNotifyStatusChange_NeverBlocks(t *testing.T) {
	d := newChanDispatcher(true)
	uc := NewOrderNotificationUseCase(d, 1)
	ctx, cancel := context.WithCancel(context.Background())
	uc.Start(ctx)
	defer func() {
		cancel()
		close(d.release)
		uc.Close()
	}()

	require.NoError(t, uc.NotifyStatusChange(ctx, statusChange("ana@example.com")))
	<-d.got // the worker is now stuck in Dispatch

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			assert.NoError(t, uc.NotifyStatusChange(ctx, statusChange("ana@example.com")))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyStatusChange blocked on a busy dispatcher")
	}
}

func TestNotifyStatusChange_DrainsOnShutdown(t *testing.T) {
	d := newChanDispatcher(true)
	uc := NewOrderNotificationUseCase(d, 4)
	ctx, cancel := context.WithCancel(context.Background())
	uc.Start(ctx)

	require.NoError(t, uc.NotifyStatusChange(ctx, statusChange("ana@example.com")))
	<-d.got
	for i := 0; i < 3; i++ {
		require.NoError(t, uc.NotifyStatusChange(ctx, statusChange("ana@example.com")))
	}

	// shutdown order in cmd/api: the signal context goes first, then Close
	cancel()
	close(d.release)
	uc.Close()

	assert.Len(t, d.got, 3, "queued notifications must be dispatched before Close returns")
}

func TestNotifyStatusChange_AfterClose(t *testing.T) {
	d := newChanDispatcher(false)
	uc := NewOrderNotificationUseCase(d, 2)
	uc.Start(context.Background())
	uc.Close()

	assert.NoError(t, uc.NotifyStatusChange(context.Background(), statusChange("ana@example.com")))
	assert.Empty(t, d.got)
}
