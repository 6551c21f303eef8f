package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// Reconciler приводит durable-записи ордеров в соответствие с
// асинхронными уведомлениями брокеров и порождает/финализирует позиции.
// Единственный компонент, создающий позиции: paper-fill'ы и постбэки
// реальных брокеров сходятся здесь.
type Reconciler struct {
	orders  OrderStore
	ledger  *Ledger
	index   *PositionIndex
	archive PositionArchive
	keyed   store.KeyedStore
	bus     store.Bus

	notifications chan *models.Notification

	mu         sync.Mutex
	subscribed map[string]func()
}

// NewReconciler создает reconciler
func NewReconciler(
	orders OrderStore,
	ledger *Ledger,
	index *PositionIndex,
	archive PositionArchive,
	keyed store.KeyedStore,
	bus store.Bus,
	notifications chan *models.Notification,
) *Reconciler {
	return &Reconciler{
		orders:        orders,
		ledger:        ledger,
		index:         index,
		archive:       archive,
		keyed:         keyed,
		bus:           bus,
		notifications: notifications,
		subscribed:    make(map[string]func()),
	}
}

// WatchUser подписывает reconciler на канал fill-уведомлений пользователя.
// Повторный вызов для того же пользователя - no-op.
func (r *Reconciler) WatchUser(ctx context.Context, userID string) {
	r.mu.Lock()
	if _, ok := r.subscribed[userID]; ok {
		r.mu.Unlock()
		return
	}

	events, unsubscribe := r.bus.Subscribe(store.UserOrderChannel(userID))
	r.subscribed[userID] = unsubscribe
	r.mu.Unlock()

	go r.consume(ctx, userID, events)
}

// Stop отписывает все пользовательские каналы
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, unsubscribe := range r.subscribed {
		unsubscribe()
		delete(r.subscribed, userID)
	}
}

func (r *Reconciler) consume(ctx context.Context, userID string, events <-chan *store.Envelope) {
	utils.Debug("reconciler watching user", utils.UserID(userID))

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			r.handleEnvelope(ctx, env)
		}
	}
}

func (r *Reconciler) handleEnvelope(ctx context.Context, env *store.Envelope) {
	switch env.Action {
	case store.ActionUpdated:
		var update models.OrderUpdate
		if err := env.DecodeData(&update); err != nil {
			utils.Error("malformed order update", utils.Err(err))
			return
		}
		r.Apply(ctx, &update)

	case store.ActionPostback:
		var pointer models.PostbackPointer
		if err := env.DecodeData(&pointer); err != nil {
			utils.Error("malformed postback pointer", utils.Err(err))
			return
		}

		var update models.OrderUpdate
		found, err := r.keyed.HGet(ctx, store.CategoryPostbacks, pointer.RequestID, &update)
		if err != nil {
			utils.Error("postback read failed",
				utils.RequestID(pointer.RequestID),
				utils.Err(err),
			)
			return
		}
		if !found {
			utils.Warn("postback pointer without payload",
				utils.RequestID(pointer.RequestID),
			)
			return
		}

		r.Apply(ctx, &update)
		if err := r.keyed.HDel(ctx, store.CategoryPostbacks, pointer.RequestID); err != nil {
			utils.Warn("postback cleanup failed",
				utils.RequestID(pointer.RequestID),
				utils.Err(err),
			)
		}

	default:
		utils.Debug("ignored order envelope",
			utils.String("action", env.Action),
		)
	}
}

// Apply применяет одно уведомление брокера.
// Дубликаты по терминальному ордеру - идемпотентные no-op'ы.
func (r *Reconciler) Apply(ctx context.Context, update *models.OrderUpdate) {
	order, err := r.orders.GetByID(update.OrderID)
	if err != nil {
		utils.Warn("order update for unknown order",
			utils.OrderID(update.OrderID),
			utils.Err(err),
		)
		return
	}

	if order.IsTerminal() {
		utils.Debug("duplicate update for terminal order",
			utils.OrderID(order.ID),
			utils.State(order.Status),
		)
		return
	}

	if !CanTransitionOrder(order.Status, update.Status) {
		utils.Warn("illegal order transition ignored",
			utils.OrderID(order.ID),
			utils.String("from", order.Status),
			utils.String("to", update.Status),
		)
		return
	}

	// Durable-статус первым: именно он делает повторное применение no-op'ом
	if err := r.orders.UpdateStatus(order.ID, update.Status); err != nil {
		utils.Error("order status update failed",
			utils.OrderID(order.ID),
			utils.Err(err),
		)
		return
	}
	order.Status = update.Status

	switch update.Status {
	case models.OrderStatusCompleted:
		if order.IsExit {
			r.finalizeExit(ctx, order, update)
		} else {
			r.openPosition(ctx, order, update)
		}
	case models.OrderStatusCancelled, models.OrderStatusRejected:
		r.unwindOrder(ctx, order, update)
	}
}

// openPosition создаёт позицию из исполненного entry-ордера.
// Идентификатор позиции детерминирован от ордера, поэтому повторное
// создание обнаруживается и по записи, и по индексу.
func (r *Reconciler) openPosition(ctx context.Context, order *models.Order, update *models.OrderUpdate) {
	positionID := utils.PositionIDFor(order.ID)

	if _, err := r.index.Get(ctx, positionID); err == nil {
		utils.Debug("position already exists for order",
			utils.OrderID(order.ID),
			utils.PositionID(positionID),
		)
		return
	}

	entryPrice := update.AveragePrice
	if entryPrice <= 0 {
		entryPrice = order.Price
	}

	position := &models.Position{
		ID:             positionID,
		UserID:         order.UserID,
		Broker:         order.Broker,
		Symbol:         order.Symbol,
		Expiry:         order.Expiry,
		Strike:         order.Strike,
		Right:          order.Right,
		Identifier:     order.Identifier,
		PositionType:   models.PositionTypeFor(order.TransactionType),
		Quantity:       order.Quantity,
		EntryPrice:     entryPrice,
		CurrentPrice:   entryPrice,
		StopLoss:       order.StopLoss,
		TakeProfit:     order.TakeProfit,
		CapitalBlocked: order.CapitalBlocked,
		Status:         models.PositionStatusOpen,
		EntryOrderID:   order.ID,
		CreatedAt:      time.Now(),
	}

	if err := r.index.Add(ctx, position); err != nil {
		if errors.Is(err, ErrDuplicatePosition) {
			// Второй fill по тому же инструменту: позиция не создаётся,
			// капитал этого ордера возвращается. Лишний контракт у брокера
			// закрывает оператор по уведомлению
			utils.Warn("fill raced an existing position, releasing capital",
				utils.UserID(order.UserID),
				utils.Identifier(order.Identifier),
				utils.Capital(order.CapitalBlocked),
			)
			if order.CapitalBlocked > 0 {
				if releaseErr := r.ledger.Release(order.UserID, order.CapitalBlocked, 0); releaseErr != nil {
					utils.Error("duplicate fill release failed",
						utils.OrderID(order.ID),
						utils.Err(releaseErr),
					)
				}
			}
			tryEnqueueNotification(r.notifications, models.NewNotification(
				models.NotificationTypeOrderFailed,
				models.SeverityWarning,
				order.UserID,
				"duplicate fill for "+order.Identifier+", capital released, flatten at broker",
			))
			return
		}
		utils.Error("position create failed",
			utils.PositionID(positionID),
			utils.Err(err),
		)
		return
	}

	if err := r.orders.SetPositionID(order.ID, positionID); err != nil {
		utils.Error("order backref update failed",
			utils.OrderID(order.ID),
			utils.Err(err),
		)
	}

	if count, err := r.index.Count(ctx); err == nil {
		UpdateOpenPositions(count)
	}
	tryEnqueueNotification(r.notifications, models.NewNotification(
		models.NotificationTypePositionOpened,
		models.SeverityInfo,
		order.UserID,
		"position opened for "+order.Identifier,
	))

	utils.Info("position opened",
		utils.PositionID(positionID),
		utils.UserID(order.UserID),
		utils.Identifier(order.Identifier),
		utils.Price(entryPrice),
		utils.Quantity(order.Quantity),
	)
}

// finalizeExit закрывает позицию по исполненному exit-ордеру:
// P&L, release капитала, архив, удаление из хранилища и индекса
func (r *Reconciler) finalizeExit(ctx context.Context, order *models.Order, update *models.OrderUpdate) {
	position, err := r.index.Get(ctx, order.PositionID)
	if err != nil {
		utils.Warn("exit fill for missing position",
			utils.OrderID(order.ID),
			utils.PositionID(order.PositionID),
		)
		return
	}

	exitPrice := update.AveragePrice
	if exitPrice <= 0 {
		exitPrice = order.Price
	}

	pnl := position.ComputePNL(exitPrice)
	now := time.Now()

	position.ExitPrice = exitPrice
	position.RealizedPNL = pnl
	position.ExitOrderID = order.ID
	position.Status = models.PositionStatusClosed
	position.ClosedAt = &now

	if err := r.ledger.Release(position.UserID, position.CapitalBlocked, pnl); err != nil {
		utils.Error("capital release failed",
			utils.PositionID(position.ID),
			utils.Err(err),
		)
		// Позицию всё равно закрываем: капитал чинится по activity log
	}

	if err := r.archive.Insert(position); err != nil {
		utils.Error("position archive failed",
			utils.PositionID(position.ID),
			utils.Err(err),
		)
	}

	if err := r.index.Remove(ctx, position); err != nil {
		utils.Error("position removal failed",
			utils.PositionID(position.ID),
			utils.Err(err),
		)
		return
	}

	if count, err := r.index.Count(ctx); err == nil {
		UpdateOpenPositions(count)
	}
	RecordPositionClosed(closeReason(position, exitPrice), pnl)
	tryEnqueueNotification(r.notifications, models.NewNotification(
		models.NotificationTypePositionClosed,
		models.SeverityInfo,
		position.UserID,
		"position closed for "+position.Identifier,
	))

	utils.Info("position closed",
		utils.PositionID(position.ID),
		utils.UserID(position.UserID),
		utils.Price(exitPrice),
		utils.PNL(pnl),
	)
}

// unwindOrder обрабатывает CANCELLED/REJECTED: возвращает капитал
// entry-ордера, снимает in-flight маркер exit-ордера
func (r *Reconciler) unwindOrder(ctx context.Context, order *models.Order, update *models.OrderUpdate) {
	if update.ErrorMessage != "" {
		if err := r.orders.SetError(order.ID, update.ErrorMessage); err != nil {
			utils.Warn("order error message update failed",
				utils.OrderID(order.ID),
				utils.Err(err),
			)
		}
	}

	if order.IsExit {
		// Exit не прошёл: позиция остаётся живой, ретрай возможен
		position, err := r.index.Get(ctx, order.PositionID)
		if err == nil && position.IsLive() {
			position.ExitOrderID = ""
			position.Status = models.PositionStatusExitFailed
			position.ErrorMessage = update.ErrorMessage
			if err := r.index.Update(ctx, position); err != nil {
				utils.Error("position degrade failed",
					utils.PositionID(position.ID),
					utils.Err(err),
				)
			}
			ExitFailures.Inc()
		}
		return
	}

	if order.CapitalBlocked > 0 {
		if err := r.ledger.Release(order.UserID, order.CapitalBlocked, 0); err != nil {
			utils.Error("capital release after rejection failed",
				utils.OrderID(order.ID),
				utils.Err(err),
			)
		}
	}

	utils.Info("entry order unwound",
		utils.OrderID(order.ID),
		utils.State(update.Status),
		utils.Capital(order.CapitalBlocked),
	)
}

func closeReason(position *models.Position, exitPrice float64) string {
	long := position.PositionType == models.PositionTypeLong
	switch {
	case position.StopLoss > 0 && ((long && exitPrice <= position.StopLoss) || (!long && exitPrice >= position.StopLoss)):
		return "stop_loss"
	case position.TakeProfit > 0 && ((long && exitPrice >= position.TakeProfit) || (!long && exitPrice <= position.TakeProfit)):
		return "take_profit"
	default:
		return "manual"
	}
}
