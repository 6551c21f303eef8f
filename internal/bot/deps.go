package bot

import (
	"alphaedge/internal/broker"
	"alphaedge/internal/models"
)

// Потребительские контракты движка. Реализуются репозиториями и
// broker factory; в тестах подменяются in-memory фейками.

// UserSource - read-доступ к пользователям
type UserSource interface {
	GetActive() ([]*models.User, error)
	GetByID(id string) (*models.User, error)
}

// OrderStore - durable-операции над ордерами
type OrderStore interface {
	Create(order *models.Order) error
	GetByID(id string) (*models.Order, error)
	GetPending() ([]*models.Order, error)
	UpdateStatus(id, status string) error
	SetPositionID(id, positionID string) error
	SetError(id, errorMessage string) error
}

// PositionArchive - insert-only архив закрытых позиций
type PositionArchive interface {
	Insert(position *models.Position) error
}

// GatewayProvider выдаёт брокерский шлюз пользователя
type GatewayProvider interface {
	GatewayFor(userID, brokerName string) (broker.Gateway, error)
}
