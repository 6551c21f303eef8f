package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alphaedge/internal/broker"
	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/retry"
	"alphaedge/pkg/utils"
)

// Monitor - оркестратор выходов. Потребляет события канала positions,
// перечитывает позицию из хранилища (payload события может быть
// устаревшим) и при выставленном should_exit размещает exit-ордер.
// Финализацию позиции выполняет Reconciler по факту fill'а:
// и paper, и реальные брокеры идут одним путём.
type Monitor struct {
	orders   OrderStore
	index    *PositionIndex
	gateways GatewayProvider

	brokerTimeout time.Duration
	retryCfg      retry.Config
	notifications chan *models.Notification
}

// NewMonitor создает монитор позиций
func NewMonitor(
	orders OrderStore,
	index *PositionIndex,
	gateways GatewayProvider,
	brokerTimeout time.Duration,
	notifications chan *models.Notification,
) *Monitor {
	if brokerTimeout <= 0 {
		brokerTimeout = DefaultBrokerTimeout
	}
	cfg := retry.AggressiveConfig()
	cfg.RetryIf = retry.IsRetryable
	return &Monitor{
		orders:        orders,
		index:         index,
		gateways:      gateways,
		brokerTimeout: brokerTimeout,
		retryCfg:      cfg,
		notifications: notifications,
	}
}

// Run потребляет канал positions до отмены контекста или закрытия канала.
// Подписку выполняет Engine.Start до запуска горутины
func (m *Monitor) Run(ctx context.Context, events <-chan *store.Envelope) {
	utils.Info("position monitor started")

	for {
		select {
		case <-ctx.Done():
			utils.Info("position monitor stopped")
			return
		case env, ok := <-events:
			if !ok {
				utils.Info("position channel closed, monitor stopped")
				return
			}

			var event models.PositionEvent
			if err := env.DecodeData(&event); err != nil {
				utils.Error("malformed position event", utils.Err(err))
				continue
			}
			m.HandleEvent(ctx, &event)
		}
	}
}

// HandleEvent обрабатывает одно событие позиции
func (m *Monitor) HandleEvent(ctx context.Context, event *models.PositionEvent) {
	position, err := m.index.Get(ctx, event.PositionID)
	if err != nil {
		// Позиция уже закрыта конкурирующим событием - не ошибка
		utils.Debug("position event for missing position",
			utils.PositionID(event.PositionID),
		)
		return
	}

	if !position.ShouldExit || !position.IsLive() {
		return
	}

	if err := m.ExitPosition(ctx, position); err != nil {
		utils.Error("position exit failed",
			utils.PositionID(position.ID),
			utils.UserID(position.UserID),
			utils.Err(err),
		)
	}
}

// ExitPosition размещает exit-ордер для позиции.
// При отказе брокера позиция деградирует в EXIT_FAILED и остаётся
// в индексе: следующее событие или sweep повторит попытку.
func (m *Monitor) ExitPosition(ctx context.Context, position *models.Position) error {
	// Уже есть exit-ордер в полёте: ждём его fill, дубль не размещаем.
	// EXIT_FAILED означает, что предыдущая попытка не дошла до брокера.
	if position.ExitOrderID != "" && position.Status == models.PositionStatusOpen {
		utils.Debug("exit already in flight",
			utils.PositionID(position.ID),
			utils.OrderID(position.ExitOrderID),
		)
		return nil
	}

	exitPrice := position.CurrentPrice
	if exitPrice <= 0 {
		exitPrice = position.EntryPrice
	}
	order := broker.FormExitOrder(position, exitPrice)

	gateway, err := m.gateways.GatewayFor(position.UserID, position.Broker)
	if err != nil {
		return m.degrade(ctx, position, fmt.Errorf("gateway unavailable: %w", err))
	}

	placedAt := time.Now()
	err = retry.Do(ctx, func() error {
		brokerCtx, cancel := context.WithTimeout(ctx, m.brokerTimeout)
		defer cancel()

		_, placeErr := gateway.PlaceOrder(brokerCtx, order)
		if placeErr != nil {
			var brokerErr *broker.BrokerError
			if errors.As(placeErr, &brokerErr) && !brokerErr.Temporary() {
				return retry.Permanent(placeErr)
			}
		}
		return placeErr
	}, m.retryCfg)
	if err != nil {
		RecordOrderFailure(position.Broker, brokerErrorCode(err))
		return m.degrade(ctx, position, err)
	}

	order.Status = models.OrderStatusPending
	if err := m.orders.Create(order); err != nil {
		// Ордер у брокера, записи нет: recovery-проход при старте
		// дотянет состояние из брокерской истории
		utils.Error("exit order persist failed",
			utils.OrderID(order.ID),
			utils.Err(err),
		)
	}

	position.ExitOrderID = order.ID
	position.Status = models.PositionStatusOpen
	position.ErrorMessage = ""
	if err := m.index.Update(ctx, position); err != nil {
		return err
	}

	RecordOrderPlaced(position.Broker, true, float64(time.Since(placedAt).Milliseconds()))
	utils.Info("exit order placed",
		utils.PositionID(position.ID),
		utils.OrderID(order.ID),
		utils.UserID(position.UserID),
		utils.Price(exitPrice),
	)
	return nil
}

// degrade переводит позицию в EXIT_FAILED, сохраняя её в индексе
func (m *Monitor) degrade(ctx context.Context, position *models.Position, cause error) error {
	if !CanTransitionPosition(position.Status, models.PositionStatusExitFailed) {
		return cause
	}

	position.Status = models.PositionStatusExitFailed
	position.ErrorMessage = cause.Error()
	if err := m.index.Update(ctx, position); err != nil {
		return fmt.Errorf("degrade position: %w (cause: %v)", err, cause)
	}

	ExitFailures.Inc()
	tryEnqueueNotification(m.notifications, models.NewNotification(
		models.NotificationTypeExitFailed,
		models.SeverityError,
		position.UserID,
		"exit failed for "+position.Identifier+": "+cause.Error(),
	))

	utils.Warn("position degraded to exit-failed",
		utils.PositionID(position.ID),
		utils.UserID(position.UserID),
		utils.Err(cause),
	)
	return cause
}
