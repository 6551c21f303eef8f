package bot

import (
	"context"

	"alphaedge/internal/models"
	"alphaedge/pkg/utils"
)

// Recovery - стартовый проход: чинит индекс позиций и дотягивает
// нетерминальные ордера до фактического состояния на стороне брокера.
// Падение процесса между durable-записью и эфемерными эффектами
// оставляет ровно те рассинхронизации, которые этот проход закрывает.
type Recovery struct {
	orders     OrderStore
	index      *PositionIndex
	gateways   GatewayProvider
	reconciler *Reconciler
}

// NewRecovery создает recovery-проход
func NewRecovery(orders OrderStore, index *PositionIndex, gateways GatewayProvider, reconciler *Reconciler) *Recovery {
	return &Recovery{
		orders:     orders,
		index:      index,
		gateways:   gateways,
		reconciler: reconciler,
	}
}

// Run выполняет полный проход. Ошибки отдельных ордеров не прерывают
// восстановление: недотянутый ордер останется PENDING до постбэка.
func (r *Recovery) Run(ctx context.Context) error {
	repaired, err := r.index.Repair(ctx)
	if err != nil {
		return err
	}

	pending, err := r.orders.GetPending()
	if err != nil {
		return err
	}

	resolved := 0
	for _, order := range pending {
		if r.resolveOrder(ctx, order) {
			resolved++
		}
	}

	if count, err := r.index.Count(ctx); err == nil {
		UpdateOpenPositions(count)
	}

	utils.Info("recovery pass finished",
		utils.Int("index_fixes", repaired),
		utils.Int("pending_orders", len(pending)),
		utils.Int("resolved", resolved),
	)
	return nil
}

// resolveOrder сверяет нетерминальный ордер с историей брокера
// и применяет найденный терминальный статус через reconciler
func (r *Recovery) resolveOrder(ctx context.Context, order *models.Order) bool {
	gateway, err := r.gateways.GatewayFor(order.UserID, order.Broker)
	if err != nil {
		utils.Warn("recovery: gateway unavailable",
			utils.OrderID(order.ID),
			utils.Broker(order.Broker),
			utils.Err(err),
		)
		return false
	}

	history, err := gateway.GetOrderHistory(ctx, order.ID)
	if err != nil {
		utils.Warn("recovery: order history unavailable",
			utils.OrderID(order.ID),
			utils.Err(err),
		)
		return false
	}

	for i := len(history) - 1; i >= 0; i-- {
		state := history[i]
		if !models.IsTerminalOrderStatus(state.Status) {
			continue
		}

		r.reconciler.Apply(ctx, &models.OrderUpdate{
			OrderID:        order.ID,
			UserID:         order.UserID,
			Broker:         order.Broker,
			Status:         state.Status,
			AveragePrice:   state.AveragePrice,
			FilledQuantity: state.FilledQuantity,
			ErrorMessage:   state.Message,
			Timestamp:      state.Timestamp,
		})

		utils.Info("recovery: order resolved",
			utils.OrderID(order.ID),
			utils.State(state.Status),
		)
		return true
	}
	return false
}
