package utils

import (
	"strings"

	"github.com/google/uuid"
)

// ids.go - генерация идентификаторов
//
// Ордера бумажного брокера и postback-запросы получают
// идентификаторы на нашей стороне; реальные брокеры возвращают свои.

// PositionIDPrefix - префикс идентификатора позиции
const PositionIDPrefix = "pos_"

// NewOrderID генерирует идентификатор ордера
func NewOrderID() string {
	return uuid.NewString()
}

// NewRequestID генерирует идентификатор postback-запроса
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// PositionIDFor возвращает идентификатор позиции для ордера.
// Детерминирован: повторная обработка того же fill даёт тот же id.
func PositionIDFor(orderID string) string {
	return PositionIDPrefix + orderID
}

// IsPositionID проверяет, что строка является идентификатором позиции
func IsPositionID(id string) bool {
	return strings.HasPrefix(id, PositionIDPrefix)
}
