package models

import "time"

// Статусы ордера.
// OPEN/PENDING - нетерминальные; COMPLETED/CANCELLED/REJECTED - терминальные
// и после них запись неизменяема.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// Типы ордера
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order - долговечная запись об ордере
type Order struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Broker string `json:"broker" db:"broker"`

	// Инструмент
	Symbol     string  `json:"symbol" db:"symbol"`
	Expiry     string  `json:"expiry" db:"expiry"`
	Strike     float64 `json:"strike" db:"strike"`
	Right      string  `json:"right" db:"right"`
	Identifier string  `json:"identifier" db:"identifier"`

	TransactionType string  `json:"transaction_type" db:"transaction_type"`
	OrderType       string  `json:"order_type" db:"order_type"`
	Quantity        int     `json:"quantity" db:"quantity"`
	Price           float64 `json:"price" db:"price"`
	LotSize         int     `json:"lot_size" db:"lot_size"`

	// Параметры позиции, переносимые при fill
	StopLoss   float64 `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64 `json:"take_profit" db:"take_profit"`

	IsExit         bool    `json:"is_exit" db:"is_exit"`
	CapitalBlocked float64 `json:"capital_blocked" db:"capital_blocked"`

	// Обратная ссылка на позицию, проставляется Reconciler'ом на entry fill
	PositionID string `json:"position_id" db:"position_id"`

	Status       string `json:"status" db:"status"`
	ErrorMessage string `json:"error_message" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrderUpdate - нормализованное уведомление брокера о смене статуса ордера.
// Постбэки реальных брокеров и paper-fill'ы приводятся к этой форме
// до попадания в reconciler.
type OrderUpdate struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	Broker         string    `json:"broker"`
	Status         string    `json:"status"`
	AveragePrice   float64   `json:"average_price"`
	FilledQuantity int       `json:"filled_quantity"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PostbackPointer - лёгкая ссылка на сырой постбэк, сохранённый в keyed store
type PostbackPointer struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
}

// IsTerminal возвращает true для терминального статуса ордера
func (o *Order) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

// IsTerminalOrderStatus проверяет терминальность статуса
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}
