package websocket

// Типизированные broadcast-сообщения. Известные типы сериализуются
// без рефлексии по map'ам, что заметно на частых обновлениях позиций.

// NotificationMessage - событие движка для операторского UI
type NotificationMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PositionUpdateMessage - изменение живой позиции
type PositionUpdateMessage struct {
	Type       string      `json:"type"`
	PositionID string      `json:"position_id"`
	UserID     string      `json:"user_id"`
	Data       interface{} `json:"data"`
}

// OrderUpdateMessage - смена статуса ордера
type OrderUpdateMessage struct {
	Type    string      `json:"type"`
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	Data    interface{} `json:"data"`
}

// CapitalUpdateMessage - изменение капитала пользователя
type CapitalUpdateMessage struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	Available float64 `json:"available"`
	Deployed  float64 `json:"deployed"`
}

// Типы сообщений
const (
	MessageTypeNotification   = "notification"
	MessageTypePositionUpdate = "positionUpdate"
	MessageTypeOrderUpdate    = "orderUpdate"
	MessageTypeCapitalUpdate  = "capitalUpdate"
)
