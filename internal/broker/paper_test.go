package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
)

// ============================================================
// Paper Gateway Tests
// ============================================================

func testEntryOrder() *models.Order {
	return &models.Order{
		ID:              "order-1",
		UserID:          "user-1",
		Broker:          "paper",
		Symbol:          "NIFTY",
		Expiry:          "2026-08-27",
		Strike:          24000,
		Right:           "CE",
		Identifier:      "NIFTY:2026-08-27:CE:24000",
		TransactionType: models.TransactionBuy,
		OrderType:       models.OrderTypeLimit,
		Quantity:        50,
		Price:           100,
		Status:          models.OrderStatusOpen,
	}
}

func TestPaperPlaceOrderPublishesFill(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	updates, unsubscribe := bus.Subscribe(store.UserOrderChannel("user-1"))
	defer unsubscribe()

	gw := NewPaper("user-1", bus, 100000)
	order := testEntryOrder()

	brokerID, err := gw.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if brokerID != order.ID {
		t.Errorf("expected broker id %s, got %s", order.ID, brokerID)
	}

	select {
	case env := <-updates:
		if env.Category != store.CategoryOrders {
			t.Errorf("expected category %s, got %s", store.CategoryOrders, env.Category)
		}
		var update models.OrderUpdate
		if err := env.DecodeData(&update); err != nil {
			t.Fatalf("decode update: %v", err)
		}
		if update.OrderID != order.ID {
			t.Errorf("expected order id %s, got %s", order.ID, update.OrderID)
		}
		if update.Status != models.OrderStatusCompleted {
			t.Errorf("expected COMPLETED, got %s", update.Status)
		}
		if update.AveragePrice != 100 {
			t.Errorf("expected fill price 100, got %v", update.AveragePrice)
		}
		if update.FilledQuantity != 50 {
			t.Errorf("expected filled quantity 50, got %d", update.FilledQuantity)
		}
	case <-time.After(time.Second):
		t.Fatal("fill was not published")
	}
}

func TestPaperPlaceOrderRejectsInvalidQuantity(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	gw := NewPaper("user-1", bus, 100000)
	order := testEntryOrder()
	order.Quantity = 0

	_, err := gw.PlaceOrder(context.Background(), order)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var brokerErr *BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("expected BrokerError, got %T", err)
	}
	if brokerErr.Code != CodeRejected {
		t.Errorf("expected code %s, got %s", CodeRejected, brokerErr.Code)
	}
	if brokerErr.Temporary() {
		t.Error("rejection must not be retryable")
	}
}

func TestPaperNetPositions(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	gw := NewPaper("user-1", bus, 100000)
	ctx := context.Background()

	entry := testEntryOrder()
	if _, err := gw.PlaceOrder(ctx, entry); err != nil {
		t.Fatalf("entry order: %v", err)
	}

	positions, err := gw.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", positions[0].Quantity)
	}

	// Opposite fill of the same size flattens the position
	exit := testEntryOrder()
	exit.ID = "order-2"
	exit.TransactionType = models.TransactionSell
	exit.Price = 110
	if _, err := gw.PlaceOrder(ctx, exit); err != nil {
		t.Fatalf("exit order: %v", err)
	}

	positions, err = gw.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected flat book, got %d positions", len(positions))
	}
}

func TestPaperCancelUnknownOrder(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	gw := NewPaper("user-1", bus, 100000)
	err := gw.CancelOrder(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var brokerErr *BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("expected BrokerError, got %T", err)
	}
	if brokerErr.Code != CodeNotFound {
		t.Errorf("expected code %s, got %s", CodeNotFound, brokerErr.Code)
	}
}

func TestPaperRequiredMargin(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	gw := NewPaper("user-1", bus, 100000)
	margin, err := gw.GetRequiredMargin(context.Background(), testEntryOrder())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if margin != 5000 {
		t.Errorf("expected margin 5000, got %v", margin)
	}
}

func TestPaperOrderHistory(t *testing.T) {
	bus := store.NewMemoryBus()
	defer bus.Close()

	gw := NewPaper("user-1", bus, 100000)
	ctx := context.Background()

	if _, err := gw.PlaceOrder(ctx, testEntryOrder()); err != nil {
		t.Fatalf("place order: %v", err)
	}

	history, err := gw.GetOrderHistory(ctx, "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 state, got %d", len(history))
	}
	if history[0].Status != models.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", history[0].Status)
	}
}
