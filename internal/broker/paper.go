package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// PaperMarginRate - доля нотионала, резервируемая paper-шлюзом как маржа
const PaperMarginRate = 1.0

// Paper - симуляционный шлюз: каждый принятый ордер немедленно
// исполняется по своей цене, fill публикуется в канал ордеров
// пользователя тем же конвертом, что и постбэк реального брокера.
// Благодаря этому paper-режим проходит через единый reconciler-путь.
type Paper struct {
	userID string
	bus    store.Bus

	mu        sync.Mutex
	balance   float64
	positions map[string]*NetPosition // identifier -> net position
	fills     map[string]*OrderState  // orderID -> terminal state
}

// NewPaper создает paper-шлюз для пользователя
func NewPaper(userID string, bus store.Bus, balance float64) *Paper {
	return &Paper{
		userID:    userID,
		bus:       bus,
		balance:   balance,
		positions: make(map[string]*NetPosition),
		fills:     make(map[string]*OrderState),
	}
}

// Name возвращает имя брокера
func (p *Paper) Name() string {
	return "paper"
}

// Login у paper-шлюза всегда успешен
func (p *Paper) Login(ctx context.Context) error {
	return nil
}

// PlaceOrder принимает ордер и немедленно публикует COMPLETED fill.
// Publish неблокирующий, поэтому синхронная публикация из вызова
// размещения не создаёт deadlock с подписчиком.
func (p *Paper) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	if order.Quantity <= 0 {
		return "", &BrokerError{
			Broker:  p.Name(),
			Code:    CodeRejected,
			Message: fmt.Sprintf("invalid quantity %d", order.Quantity),
		}
	}

	state := &OrderState{
		OrderID:        order.ID,
		Status:         models.OrderStatusCompleted,
		AveragePrice:   order.Price,
		FilledQuantity: order.Quantity,
		Timestamp:      time.Now(),
	}

	p.mu.Lock()
	p.fills[order.ID] = state
	p.applyFill(order)
	p.mu.Unlock()

	update := &models.OrderUpdate{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Broker:         p.Name(),
		Status:         models.OrderStatusCompleted,
		AveragePrice:   order.Price,
		FilledQuantity: order.Quantity,
		Timestamp:      state.Timestamp,
	}

	env, err := store.NewEnvelope(store.CategoryOrders, store.ActionUpdated, update)
	if err != nil {
		return "", err
	}
	if err := p.bus.Publish(ctx, store.UserOrderChannel(order.UserID), env); err != nil {
		return "", err
	}

	utils.Debug("paper fill published",
		utils.OrderID(order.ID),
		utils.UserID(order.UserID),
		utils.Price(order.Price),
		utils.Quantity(order.Quantity),
	)

	return order.ID, nil
}

// applyFill поддерживает net-позиции симулятора. Вызывается под mu.
func (p *Paper) applyFill(order *models.Order) {
	signed := order.Quantity
	if order.TransactionType == models.TransactionSell {
		signed = -signed
	}

	pos, ok := p.positions[order.Identifier]
	if !ok {
		p.positions[order.Identifier] = &NetPosition{
			Identifier:   order.Identifier,
			Symbol:       order.Symbol,
			Quantity:     signed,
			AveragePrice: order.Price,
			LastPrice:    order.Price,
		}
		return
	}

	pos.Quantity += signed
	pos.LastPrice = order.Price
	if pos.Quantity == 0 {
		delete(p.positions, order.Identifier)
	}
}

// CancelOrder: paper-ордера исполняются мгновенно, отменять нечего
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fills[orderID]; !ok {
		return &BrokerError{
			Broker:  p.Name(),
			Code:    CodeNotFound,
			Message: "unknown order " + orderID,
		}
	}
	return nil
}

// GetRequiredMargin считает маржу как нотионал ордера
func (p *Paper) GetRequiredMargin(ctx context.Context, order *models.Order) (float64, error) {
	return order.Price * float64(order.Quantity) * PaperMarginRate, nil
}

// GetOpenPositions возвращает net-позиции симулятора
func (p *Paper) GetOpenPositions(ctx context.Context) ([]*NetPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make([]*NetPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		copied := *pos
		positions = append(positions, &copied)
	}
	return positions, nil
}

// GetOpenOrders у paper-шлюза всегда пуст: ордера не живут в стакане
func (p *Paper) GetOpenOrders(ctx context.Context) ([]*OrderState, error) {
	return nil, nil
}

// GetOrderHistory возвращает единственное терминальное состояние ордера
func (p *Paper) GetOrderHistory(ctx context.Context, orderID string) ([]*OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.fills[orderID]
	if !ok {
		return nil, &BrokerError{
			Broker:  p.Name(),
			Code:    CodeNotFound,
			Message: "unknown order " + orderID,
		}
	}
	copied := *state
	return []*OrderState{&copied}, nil
}

// GetAccountDetails возвращает симулируемый счёт
func (p *Paper) GetAccountDetails(ctx context.Context) (*AccountDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var used float64
	for _, pos := range p.positions {
		qty := pos.Quantity
		if qty < 0 {
			qty = -qty
		}
		used += pos.AveragePrice * float64(qty) * PaperMarginRate
	}

	return &AccountDetails{
		Balance:    p.balance,
		UsedMargin: used,
		Available:  p.balance - used,
	}, nil
}

// Close освобождает ресурсы шлюза
func (p *Paper) Close() error {
	return nil
}
