package models

import "time"

// User - подписчик торгового движка.
// Капитальные поля мутируются только через Capital Ledger,
// счётчик открытых позиций - вместе с block/release.
type User struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`

	// Капитал
	AvailableBalance float64 `json:"available_balance" db:"available_balance"`
	TotalDeployed    float64 `json:"total_deployed" db:"total_deployed"`

	// Риск-конфигурация
	IdealRiskRewardRatio float64 `json:"ideal_risk_reward_ratio" db:"ideal_risk_reward_ratio"`
	StopLossBuffer       float64 `json:"stop_loss_buffer" db:"stop_loss_buffer"`
	MaxOpenPositions     int     `json:"max_open_positions" db:"max_open_positions"`
	OpenPositions        int     `json:"open_positions" db:"open_positions"`
	MaxPositionSize      int     `json:"max_position_size" db:"max_position_size"`

	// Активные брокеры (paper, zerodha)
	Brokers []string `json:"brokers" db:"brokers"`

	// Торговое окно в IST, формат "HH:MM"
	TradingStart string `json:"trading_start" db:"trading_start"`
	TradingEnd   string `json:"trading_end" db:"trading_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasFreeSlot проверяет наличие свободного слота под новую позицию
func (u *User) HasFreeSlot() bool {
	return u.OpenPositions < u.MaxOpenPositions
}

// BrokerAccount - учётные данные пользователя у брокера.
// Все секреты хранятся зашифрованными (AES-256-GCM, base64).
type BrokerAccount struct {
	ID          int    `json:"id" db:"id"`
	UserID      string `json:"user_id" db:"user_id"`
	Broker      string `json:"broker" db:"broker"`
	APIKey      string `json:"-" db:"api_key"`
	APISecret   string `json:"-" db:"api_secret"`
	AccessToken string `json:"-" db:"access_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Действия журнала капитала
const (
	ActivityCapitalBlocked  = "capital_blocked"
	ActivityCapitalReleased = "capital_released"
)

// ActivityLogEntry - запись аудита капитальных операций
type ActivityLogEntry struct {
	ID     int64   `json:"id" db:"id"`
	UserID string  `json:"user_id" db:"user_id"`
	Action string  `json:"action" db:"action"`
	Amount float64 `json:"amount" db:"amount"`
	PNL    float64 `json:"pnl" db:"pnl"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
