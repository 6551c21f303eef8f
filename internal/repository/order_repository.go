package repository

import (
	"database/sql"
	"errors"
	"time"

	"alphaedge/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_id, broker, symbol, expiry, strike, "right", identifier,
		transaction_type, order_type, quantity, price, lot_size, stop_loss, take_profit,
		is_exit, capital_blocked, position_id, status, error_message, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Broker,
		&order.Symbol,
		&order.Expiry,
		&order.Strike,
		&order.Right,
		&order.Identifier,
		&order.TransactionType,
		&order.OrderType,
		&order.Quantity,
		&order.Price,
		&order.LotSize,
		&order.StopLoss,
		&order.TakeProfit,
		&order.IsExit,
		&order.CapitalBlocked,
		&order.PositionID,
		&order.Status,
		&order.ErrorMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Create создает запись об ордере
func (r *OrderRepository) Create(order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, broker, symbol, expiry, strike, "right", identifier,
			transaction_type, order_type, quantity, price, lot_size, stop_loss, take_profit,
			is_exit, capital_blocked, position_id, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err := r.db.Exec(
		query,
		order.ID,
		order.UserID,
		order.Broker,
		order.Symbol,
		order.Expiry,
		order.Strike,
		order.Right,
		order.Identifier,
		order.TransactionType,
		order.OrderType,
		order.Quantity,
		order.Price,
		order.LotSize,
		order.StopLoss,
		order.TakeProfit,
		order.IsExit,
		order.CapitalBlocked,
		order.PositionID,
		order.Status,
		order.ErrorMessage,
		order.CreatedAt,
		order.UpdatedAt,
	)
	return err
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetByUserID возвращает ордера пользователя
func (r *OrderRepository) GetByUserID(userID string, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetPending возвращает все нетерминальные ордера.
// Используется recovery-проходом при старте.
func (r *OrderRepository) GetPending() ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at`

	rows, err := r.db.Query(query, models.OrderStatusOpen, models.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateStatus обновляет статус ордера
func (r *OrderRepository) UpdateStatus(id, status string) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.db.Exec(query, status, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// SetPositionID проставляет обратную ссылку на позицию
func (r *OrderRepository) SetPositionID(id, positionID string) error {
	query := `
		UPDATE orders
		SET position_id = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.db.Exec(query, positionID, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// SetError помечает ордер отклонённым с сообщением об ошибке
func (r *OrderRepository) SetError(id, errorMessage string) error {
	query := `
		UPDATE orders
		SET error_message = $1, status = $2, updated_at = $3
		WHERE id = $4`

	result, err := r.db.Exec(query, errorMessage, models.OrderStatusRejected, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// CountByStatus возвращает количество ордеров с определенным статусом
func (r *OrderRepository) CountByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE status = $1`

	var count int
	err := r.db.QueryRow(query, status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
