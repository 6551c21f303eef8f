// Package broker предоставляет унифицированный интерфейс брокерских шлюзов.
package broker

import (
	"context"
	"time"

	"alphaedge/internal/models"
	"alphaedge/pkg/utils"
)

// Gateway определяет унифицированный интерфейс для работы с любым брокером.
// Один экземпляр шлюза обслуживает одного пользователя: учётные данные
// фиксируются при создании через factory.
type Gateway interface {
	// Name возвращает имя брокера
	Name() string

	// Login проверяет учётные данные и устанавливает сессию
	Login(ctx context.Context) error

	// PlaceOrder размещает ордер и возвращает брокерский order ID.
	// Возврат без ошибки означает "принят", а не "исполнен": фактический
	// статус приходит асинхронно через order update.
	PlaceOrder(ctx context.Context, order *models.Order) (string, error)

	// CancelOrder отменяет неисполненный ордер
	CancelOrder(ctx context.Context, orderID string) error

	// GetRequiredMargin возвращает маржу, требуемую под ордер
	GetRequiredMargin(ctx context.Context, order *models.Order) (float64, error)

	// GetOpenPositions возвращает открытые позиции на стороне брокера
	GetOpenPositions(ctx context.Context) ([]*NetPosition, error)

	// GetOpenOrders возвращает неисполненные ордера на стороне брокера
	GetOpenOrders(ctx context.Context) ([]*OrderState, error)

	// GetOrderHistory возвращает историю статусов ордера
	GetOrderHistory(ctx context.Context, orderID string) ([]*OrderState, error)

	// GetAccountDetails возвращает состояние торгового счёта
	GetAccountDetails(ctx context.Context) (*AccountDetails, error)

	// Close закрывает соединения с брокером
	Close() error
}

// NetPosition - позиция в терминах брокера
type NetPosition struct {
	Identifier   string  `json:"identifier"`
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"` // отрицательное для short
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PNL          float64 `json:"pnl"`
}

// OrderState - снимок состояния ордера на стороне брокера
type OrderState struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	AveragePrice   float64   `json:"average_price"`
	FilledQuantity int       `json:"filled_quantity"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// AccountDetails - состояние торгового счёта
type AccountDetails struct {
	Balance    float64 `json:"balance"`
	UsedMargin float64 `json:"used_margin"`
	Available  float64 `json:"available"`
}

// BrokerError представляет ошибку от брокера
type BrokerError struct {
	Broker   string
	Code     string
	Message  string
	Original error
}

func (e *BrokerError) Error() string {
	return e.Broker + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *BrokerError) Unwrap() error {
	return e.Original
}

// Temporary сообщает retry-слою, имеет ли смысл повтор.
// Перегрузка и сетевые сбои - временные; отказ по валидации - нет.
func (e *BrokerError) Temporary() bool {
	switch e.Code {
	case CodeThrottled, CodeNetwork, CodeGatewayDown:
		return true
	default:
		return false
	}
}

// Коды ошибок брокера
const (
	CodeThrottled   = "THROTTLED"    // rate limit, повторить позже
	CodeNetwork     = "NETWORK"      // транспортный сбой
	CodeGatewayDown = "GATEWAY_DOWN" // 5xx на стороне брокера
	CodeRejected    = "REJECTED"     // ордер отклонён по существу
	CodeAuth        = "AUTH"         // сессия истекла или ключи неверны
	CodeNotFound    = "NOT_FOUND"    // неизвестный order ID
)

// ============================================================
// Формирование ордеров
// ============================================================

// FormEntryOrder строит entry-ордер из сигнала.
// Цена и количество приходят от composer'а после sizing.
func FormEntryOrder(signal *models.Signal, userID, brokerName string, quantity int, capitalBlocked float64) *models.Order {
	return &models.Order{
		ID:              utils.NewOrderID(),
		UserID:          userID,
		Broker:          brokerName,
		Symbol:          signal.Symbol,
		Expiry:          signal.Expiry,
		Strike:          signal.Strike,
		Right:           signal.Right,
		Identifier:      signal.Identifier(),
		TransactionType: signal.TransactionType,
		OrderType:       models.OrderTypeLimit,
		Quantity:        quantity,
		Price:           signal.EntryPrice,
		LotSize:         signal.LotSize,
		StopLoss:        signal.StopLoss,
		TakeProfit:      signal.TargetPrice,
		IsExit:          false,
		CapitalBlocked:  capitalBlocked,
		Status:          models.OrderStatusOpen,
	}
}

// FormExitOrder строит exit-ордер для позиции: направление
// инвертируется, тип принудительно MARKET чтобы выход не завис
// в стакане.
func FormExitOrder(position *models.Position, exitPrice float64) *models.Order {
	return &models.Order{
		ID:              utils.NewOrderID(),
		UserID:          position.UserID,
		Broker:          position.Broker,
		Symbol:          position.Symbol,
		Expiry:          position.Expiry,
		Strike:          position.Strike,
		Right:           position.Right,
		Identifier:      position.Identifier,
		TransactionType: position.ExitTransactionType(),
		OrderType:       models.OrderTypeMarket,
		Quantity:        position.Quantity,
		Price:           exitPrice,
		StopLoss:        position.StopLoss,
		TakeProfit:      position.TakeProfit,
		IsExit:          true,
		CapitalBlocked:  position.CapitalBlocked,
		PositionID:      position.ID,
		Status:          models.OrderStatusOpen,
	}
}
