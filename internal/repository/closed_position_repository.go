package repository

import (
	"database/sql"
	"time"

	"alphaedge/internal/models"
)

// ClosedPositionRepository - insert-only архив закрытых позиций
type ClosedPositionRepository struct {
	db *sql.DB
}

// NewClosedPositionRepository создает новый экземпляр репозитория
func NewClosedPositionRepository(db *sql.DB) *ClosedPositionRepository {
	return &ClosedPositionRepository{db: db}
}

// Insert архивирует закрытую позицию
func (r *ClosedPositionRepository) Insert(position *models.Position) error {
	query := `
		INSERT INTO closed_positions (id, user_id, broker, symbol, expiry, strike, "right",
			identifier, position_type, quantity, entry_price, exit_price, stop_loss, take_profit,
			realized_pnl, capital_blocked, entry_order_id, exit_order_id, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	closedAt := time.Now()
	if position.ClosedAt != nil {
		closedAt = *position.ClosedAt
	}

	_, err := r.db.Exec(
		query,
		position.ID,
		position.UserID,
		position.Broker,
		position.Symbol,
		position.Expiry,
		position.Strike,
		position.Right,
		position.Identifier,
		position.PositionType,
		position.Quantity,
		position.EntryPrice,
		position.ExitPrice,
		position.StopLoss,
		position.TakeProfit,
		position.RealizedPNL,
		position.CapitalBlocked,
		position.EntryOrderID,
		position.ExitOrderID,
		position.CreatedAt,
		closedAt,
	)
	return err
}

// GetByUserID возвращает закрытые позиции пользователя
func (r *ClosedPositionRepository) GetByUserID(userID string, limit int) ([]*models.Position, error) {
	query := `
		SELECT id, user_id, broker, symbol, expiry, strike, "right", identifier,
			position_type, quantity, entry_price, exit_price, stop_loss, take_profit,
			realized_pnl, capital_blocked, entry_order_id, exit_order_id, created_at, closed_at
		FROM closed_positions
		WHERE user_id = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		position := &models.Position{Status: models.PositionStatusClosed}
		var closedAt sql.NullTime
		err := rows.Scan(
			&position.ID,
			&position.UserID,
			&position.Broker,
			&position.Symbol,
			&position.Expiry,
			&position.Strike,
			&position.Right,
			&position.Identifier,
			&position.PositionType,
			&position.Quantity,
			&position.EntryPrice,
			&position.ExitPrice,
			&position.StopLoss,
			&position.TakeProfit,
			&position.RealizedPNL,
			&position.CapitalBlocked,
			&position.EntryOrderID,
			&position.ExitOrderID,
			&position.CreatedAt,
			&closedAt,
		)
		if err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			position.ClosedAt = &t
		}
		positions = append(positions, position)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// TotalRealizedPNL возвращает суммарный реализованный P&L пользователя
func (r *ClosedPositionRepository) TotalRealizedPNL(userID string) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM closed_positions WHERE user_id = $1`

	var total float64
	err := r.db.QueryRow(query, userID).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}
