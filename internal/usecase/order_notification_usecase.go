package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/logger"
)

// EmailDispatcher hands a status-change payload to whatever renders and
// sends the email. The notifier never waits on the outcome.
type EmailDispatcher interface {
	Dispatch(ctx context.Context, change *entity.OrderStatusChange) error
}

var orderStatusLabels = map[string]string{
	"preparando": "Preparando",
	"enviado":    "Enviado",
	"recibido":   "Recibido",
	"cancelado":  "Cancelado",
}

func statusLabel(status string) string {
	if l, ok := orderStatusLabels[status]; ok {
		return l
	}
	return status
}

// OrderNotificationUseCase queues order status changes for the email
// dispatcher. A single worker drains the queue; a full queue drops the
// notification rather than block the order flow.
type OrderNotificationUseCase struct {
	dispatcher EmailDispatcher
	validate   *validator.Validate
	clock      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *entity.OrderStatusChange
	wg     sync.WaitGroup
}

func NewOrderNotificationUseCase(dispatcher EmailDispatcher, queueSize int) *OrderNotificationUseCase {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &OrderNotificationUseCase{
		dispatcher: dispatcher,
		validate:   validator.New(),
		clock:      time.Now,
		queue:      make(chan *entity.OrderStatusChange, queueSize),
	}
}

// Start runs the dispatch worker until Close is called. Cancelling ctx does
// not drop queued notifications; dispatches only inherit its values.
func (uc *OrderNotificationUseCase) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		for change := range uc.queue {
			uc.dispatch(ctx, change)
		}
	}()
}

func (uc *OrderNotificationUseCase) dispatch(ctx context.Context, change *entity.OrderStatusChange) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := uc.dispatcher.Dispatch(ctx, change); err != nil {
		logger.Error("NotifyStatusChange Error: dispatch for order %s failed: %v", change.OrderID, err)
		return
	}
	logger.Info("Order %s status email handed off (%s)", change.OrderID, change.NewStatus)
}

// Close stops accepting notifications and waits for queued ones to drain.
func (uc *OrderNotificationUseCase) Close() {
	uc.mu.Lock()
	if !uc.closed {
		uc.closed = true
		close(uc.queue)
	}
	uc.mu.Unlock()
	uc.wg.Wait()
}

// NotifyStatusChange validates change, fills its labels and timestamp and
// queues it. It returns before anything is sent; only validation errors are
// reported.
func (uc *OrderNotificationUseCase) NotifyStatusChange(ctx context.Context, change entity.OrderStatusChange) error {
	if err := uc.validate.StructCtx(ctx, change); err != nil {
		return err
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = uc.clock()
	}
	change.NewStatusLabel = statusLabel(change.NewStatus)
	if change.PreviousStatus != "" {
		change.PreviousStatusLabel = statusLabel(change.PreviousStatus)
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		logger.Warn("NotifyStatusChange: notifier closed, dropping email for order %s", change.OrderID)
		return nil
	}
	select {
	case uc.queue <- &change:
	default:
		logger.Warn("NotifyStatusChange: queue full, dropping email for order %s", change.OrderID)
	}
	return nil
}
