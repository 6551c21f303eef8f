package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"alphaedge/internal/models"
)

// Ошибки репозитория пользователей
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient available balance")
)

// UserRepository - работа с таблицами users, broker_accounts, activity_logs
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository создает новый экземпляр репозитория
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, active, available_balance, total_deployed,
		ideal_risk_reward_ratio, stop_loss_buffer, max_open_positions, open_positions,
		max_position_size, brokers, trading_start, trading_end, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Active,
		&user.AvailableBalance,
		&user.TotalDeployed,
		&user.IdealRiskRewardRatio,
		&user.StopLossBuffer,
		&user.MaxOpenPositions,
		&user.OpenPositions,
		&user.MaxPositionSize,
		pq.Array(&user.Brokers),
		&user.TradingStart,
		&user.TradingEnd,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create создает пользователя
func (r *UserRepository) Create(user *models.User) error {
	query := `
		INSERT INTO users (id, name, active, available_balance, total_deployed,
			ideal_risk_reward_ratio, stop_loss_buffer, max_open_positions, open_positions,
			max_position_size, brokers, trading_start, trading_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.Exec(
		query,
		user.ID,
		user.Name,
		user.Active,
		user.AvailableBalance,
		user.TotalDeployed,
		user.IdealRiskRewardRatio,
		user.StopLossBuffer,
		user.MaxOpenPositions,
		user.OpenPositions,
		user.MaxPositionSize,
		pq.Array(user.Brokers),
		user.TradingStart,
		user.TradingEnd,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

// GetByID возвращает пользователя по ID
func (r *UserRepository) GetByID(id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetActive возвращает всех активных пользователей
func (r *UserRepository) GetActive() ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE active = true ORDER BY id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// BlockCapital атомарно резервирует капитал под позицию.
// Условие available_balance >= amount проверяется на стороне БД,
// поэтому конкурентные block'и не могут увести баланс в минус.
// Возвращает false без мутации, если баланса не хватает.
func (r *UserRepository) BlockCapital(userID string, amount float64) (bool, error) {
	query := `
		UPDATE users
		SET available_balance = available_balance - $2,
		    total_deployed = total_deployed + $2,
		    open_positions = open_positions + 1,
		    updated_at = $3
		WHERE id = $1 AND available_balance >= $2`

	result, err := r.db.Exec(query, userID, amount, time.Now())
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// ReleaseCapital атомарно возвращает капитал с учётом реализованного P&L
func (r *UserRepository) ReleaseCapital(userID string, amount, pnl float64) error {
	query := `
		UPDATE users
		SET available_balance = available_balance + $2 + $3,
		    total_deployed = total_deployed - $2,
		    open_positions = open_positions - 1,
		    updated_at = $4
		WHERE id = $1`

	result, err := r.db.Exec(query, userID, amount, pnl, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// AppendActivity добавляет запись аудита капитальной операции
func (r *UserRepository) AppendActivity(entry *models.ActivityLogEntry) error {
	query := `
		INSERT INTO activity_logs (user_id, action, amount, pnl, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	entry.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		entry.UserID,
		entry.Action,
		entry.Amount,
		entry.PNL,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

// GetBrokerAccounts возвращает брокерские аккаунты пользователя.
// Секреты в записях зашифрованы; расшифровка - на стороне broker factory.
func (r *UserRepository) GetBrokerAccounts(userID string) ([]*models.BrokerAccount, error) {
	query := `
		SELECT id, user_id, broker, api_key, api_secret, access_token, created_at
		FROM broker_accounts
		WHERE user_id = $1
		ORDER BY broker`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.BrokerAccount
	for rows.Next() {
		account := &models.BrokerAccount{}
		err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.Broker,
			&account.APIKey,
			&account.APISecret,
			&account.AccessToken,
			&account.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}
