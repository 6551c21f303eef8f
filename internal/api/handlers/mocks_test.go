package handlers

import (
	"context"
	"errors"
	"time"

	"alphaedge/internal/models"
)

// ============================================================
// Mocks shared by the handler tests
// ============================================================

type mockUserSource struct {
	users map[string]*models.User
	err   error
}

func (m *mockUserSource) GetActive() ([]*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	var active []*models.User
	for _, user := range m.users {
		if user.Active {
			active = append(active, user)
		}
	}
	return active, nil
}

func (m *mockUserSource) GetByID(id string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

type mockPositionReader struct {
	positions []*models.Position
	err       error
}

func (m *mockPositionReader) ListAll(ctx context.Context) ([]*models.Position, error) {
	return m.positions, m.err
}

func (m *mockPositionReader) ListPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Position
	for _, position := range m.positions {
		if position.UserID == userID {
			out = append(out, position)
		}
	}
	return out, nil
}

type mockArchiveReader struct {
	positions []*models.Position
	total     float64
	err       error
}

func (m *mockArchiveReader) GetByUserID(userID string, limit int) ([]*models.Position, error) {
	return m.positions, m.err
}

func (m *mockArchiveReader) TotalRealizedPNL(userID string) (float64, error) {
	return m.total, m.err
}

type mockPublisher struct {
	published []*models.Signal
	err       error
}

func (m *mockPublisher) PublishSignal(ctx context.Context, signal *models.Signal) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, signal)
	return nil
}

func sampleUser(id string) *models.User {
	return &models.User{
		ID:                   id,
		Name:                 "Trader",
		Active:               true,
		AvailableBalance:     100000,
		MaxOpenPositions:     5,
		IdealRiskRewardRatio: 2.5,
		Brokers:              []string{"paper"},
	}
}

func samplePosition(id, userID string) *models.Position {
	return &models.Position{
		ID:           id,
		UserID:       userID,
		Symbol:       "NIFTY",
		Identifier:   "NIFTY:2026-08-27:CE:24000",
		PositionType: models.PositionTypeLong,
		Quantity:     50,
		EntryPrice:   100,
		Status:       models.PositionStatusOpen,
		CreatedAt:    time.Now(),
	}
}
