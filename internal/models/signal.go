package models

import (
	"fmt"
	"strconv"
	"time"
)

// Направления сделки
const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"
)

// OppositeTransaction возвращает противоположное направление.
// Используется при формировании exit-ордеров.
func OppositeTransaction(transactionType string) string {
	if transactionType == TransactionBuy {
		return TransactionSell
	}
	return TransactionBuy
}

// Signal - входящий торговый сигнал от внешнего источника.
// Транзиентный: не персистится, потребляется ровно один раз
// на проход оценки по всем активным пользователям.
type Signal struct {
	Symbol string  `json:"symbol"`
	Expiry string  `json:"expiry"`
	Strike float64 `json:"strike"`
	Right  string  `json:"right"` // CE / PE

	EntryPrice  float64 `json:"entry_price"`
	StopLoss    float64 `json:"stop_loss"`
	TargetPrice float64 `json:"target_price"`

	TransactionType string `json:"transaction_type"`
	LotSize         int    `json:"lot_size"`

	ReceivedAt time.Time `json:"received_at"`
}

// Identifier возвращает детерминированный ключ инструмента.
// По нему Position Index предотвращает дубликаты позиций.
func (s *Signal) Identifier() string {
	return InstrumentIdentifier(s.Symbol, s.Expiry, s.Right, s.Strike)
}

// InstrumentIdentifier строит ключ symbol:expiry:right:strike
func InstrumentIdentifier(symbol, expiry, right string, strike float64) string {
	return fmt.Sprintf("%s:%s:%s:%s", symbol, expiry, right,
		strconv.FormatFloat(strike, 'f', -1, 64))
}

// Validate проверяет минимальную корректность сигнала
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal symbol is empty")
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("signal entry price must be positive, got %v", s.EntryPrice)
	}
	if s.LotSize <= 0 {
		return fmt.Errorf("signal lot size must be positive, got %d", s.LotSize)
	}
	if s.TransactionType != TransactionBuy && s.TransactionType != TransactionSell {
		return fmt.Errorf("unknown transaction type %q", s.TransactionType)
	}
	return nil
}
