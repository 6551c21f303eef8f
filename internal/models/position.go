package models

import "time"

// Статусы позиции.
// EXIT_FAILED - не терминальный, а деградированный: позиция остаётся
// в индексах и эфемерном хранилище до успешного retry выхода.
const (
	PositionStatusOpen       = "OPEN"
	PositionStatusExitFailed = "EXIT_FAILED"
	PositionStatusClosed     = "CLOSED"
)

// Типы позиции
const (
	PositionTypeLong  = "LONG"
	PositionTypeShort = "SHORT"
)

// Position - живая позиция пользователя.
// Живёт в эфемерном хранилище от entry fill до закрытия,
// после закрытия архивируется в closed_positions.
type Position struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Broker string `json:"broker" db:"broker"`

	// Инструмент
	Symbol     string  `json:"symbol" db:"symbol"`
	Expiry     string  `json:"expiry" db:"expiry"`
	Strike     float64 `json:"strike" db:"strike"`
	Right      string  `json:"right" db:"right"`
	Identifier string  `json:"identifier" db:"identifier"`

	PositionType string `json:"position_type" db:"position_type"`
	Quantity     int    `json:"quantity" db:"quantity"`

	EntryPrice   float64 `json:"entry_price" db:"entry_price"`
	CurrentPrice float64 `json:"current_price" db:"current_price"`
	ExitPrice    float64 `json:"exit_price" db:"exit_price"`
	StopLoss     float64 `json:"stop_loss" db:"stop_loss"`
	TakeProfit   float64 `json:"take_profit" db:"take_profit"`

	UnrealizedPNL  float64 `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPNL    float64 `json:"realized_pnl" db:"realized_pnl"`
	CapitalBlocked float64 `json:"capital_blocked" db:"capital_blocked"`

	Status string `json:"status" db:"status"`

	// Выставляется внешним ценовым монитором или sweep'ом
	ShouldExit bool `json:"should_exit" db:"should_exit"`

	EntryOrderID string `json:"entry_order_id" db:"entry_order_id"`
	ExitOrderID  string `json:"exit_order_id" db:"exit_order_id"`
	ErrorMessage string `json:"error_message" db:"error_message"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// PositionEvent - событие канала positions: ссылка на позицию,
// состояние которой нужно перечитать из хранилища
type PositionEvent struct {
	UserID     string `json:"user_id"`
	PositionID string `json:"position_id"`
}

// PositionTypeFor возвращает тип позиции для направления входа
func PositionTypeFor(transactionType string) string {
	if transactionType == TransactionBuy {
		return PositionTypeLong
	}
	return PositionTypeShort
}

// ComputePNL считает P&L при выходе по указанной цене.
// Для SHORT знак инвертируется.
func (p *Position) ComputePNL(exitPrice float64) float64 {
	pnl := (exitPrice - p.EntryPrice) * float64(p.Quantity)
	if p.PositionType == PositionTypeShort {
		pnl = -pnl
	}
	return pnl
}

// IsLive возвращает true, если позиция требует мониторинга
func (p *Position) IsLive() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusExitFailed
}

// ExitTransactionType возвращает направление exit-ордера
func (p *Position) ExitTransactionType() string {
	if p.PositionType == PositionTypeLong {
		return TransactionSell
	}
	return TransactionBuy
}
