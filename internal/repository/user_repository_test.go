package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"alphaedge/internal/models"
)

// ============================================================
// UserRepository Tests
// ============================================================

func TestNewUserRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewUserRepository(db)
	if repo == nil {
		t.Fatal("NewUserRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestUserRepositoryGetByID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		mockSetup   func(mock sqlmock.Sqlmock)
		expected    *models.User
		expectError error
	}{
		{
			name: "success",
			id:   "user-1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{
					"id", "name", "active", "available_balance", "total_deployed",
					"ideal_risk_reward_ratio", "stop_loss_buffer", "max_open_positions",
					"open_positions", "max_position_size", "brokers",
					"trading_start", "trading_end", "created_at", "updated_at",
				}).AddRow(
					"user-1", "Trader", true, 100000.0, 0.0,
					2.5, 0.5, 5, 0, 1000, pq.StringArray{"paper"},
					"09:15", "15:30", time.Now(), time.Now(),
				)
				mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
					WithArgs("user-1").
					WillReturnRows(rows)
			},
			expected: &models.User{
				ID:               "user-1",
				Name:             "Trader",
				Active:           true,
				AvailableBalance: 100000.0,
				MaxOpenPositions: 5,
			},
			expectError: nil,
		},
		{
			name: "not found",
			id:   "missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
					WithArgs("missing").
					WillReturnError(sql.ErrNoRows)
			},
			expected:    nil,
			expectError: nil, // error type checked separately below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewUserRepository(db)
			result, err := repo.GetByID(tt.id)

			if tt.expected == nil {
				if !errors.Is(err, ErrUserNotFound) {
					t.Errorf("expected ErrUserNotFound, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ID != tt.expected.ID {
				t.Errorf("expected ID=%s, got %s", tt.expected.ID, result.ID)
			}
			if result.AvailableBalance != tt.expected.AvailableBalance {
				t.Errorf("expected balance=%v, got %v", tt.expected.AvailableBalance, result.AvailableBalance)
			}
			if result.MaxOpenPositions != tt.expected.MaxOpenPositions {
				t.Errorf("expected max positions=%d, got %d", tt.expected.MaxOpenPositions, result.MaxOpenPositions)
			}
		})
	}
}

func TestUserRepositoryBlockCapital(t *testing.T) {
	tests := []struct {
		name        string
		amount      float64
		mockSetup   func(mock sqlmock.Sqlmock)
		expectOK    bool
		expectError bool
	}{
		{
			name:   "sufficient balance",
			amount: 20000,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE users`).
					WithArgs("user-1", 20000.0, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectOK: true,
		},
		{
			// Conditional update matches zero rows when the balance moved
			name:   "insufficient balance",
			amount: 200000,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE users`).
					WithArgs("user-1", 200000.0, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectOK: false,
		},
		{
			name:   "database error",
			amount: 100,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE users`).
					WithArgs("user-1", 100.0, sqlmock.AnyArg()).
					WillReturnError(errors.New("connection refused"))
			},
			expectOK:    false,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewUserRepository(db)
			ok, err := repo.BlockCapital("user-1", tt.amount)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.expectOK {
				t.Errorf("expected ok=%v, got %v", tt.expectOK, ok)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestUserRepositoryReleaseCapital(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success with profit",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE users`).
					WithArgs("user-1", 20000.0, 500.0, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name: "unknown user",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE users`).
					WithArgs("user-1", 20000.0, 500.0, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewUserRepository(db)
			err = repo.ReleaseCapital("user-1", 20000, 500)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestUserRepositoryAppendActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO activity_logs`).
		WithArgs("user-1", models.ActivityCapitalBlocked, 20000.0, 0.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewUserRepository(db)
	entry := &models.ActivityLogEntry{
		UserID: "user-1",
		Action: models.ActivityCapitalBlocked,
		Amount: 20000,
	}

	if err := repo.AppendActivity(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != 7 {
		t.Errorf("expected ID=7, got %d", entry.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserRepositoryGetBrokerAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "broker", "api_key", "api_secret", "access_token", "created_at",
	}).
		AddRow(1, "user-1", "paper", "", "", "", time.Now()).
		AddRow(2, "user-1", "zerodha", "enc-key", "enc-secret", "enc-token", time.Now())

	mock.ExpectQuery(`SELECT .+ FROM broker_accounts WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(rows)

	repo := NewUserRepository(db)
	accounts, err := repo.GetBrokerAccounts("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[1].Broker != "zerodha" {
		t.Errorf("expected zerodha, got %s", accounts[1].Broker)
	}
}
