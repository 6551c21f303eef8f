package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"alphaedge/internal/broker"
	"alphaedge/internal/models"
)

// ============================================================
// In-memory fakes shared by the engine tests
// ============================================================

type fakeUserStore struct {
	mu         sync.Mutex
	users      map[string]*models.User
	activities []*models.ActivityLogEntry
	accounts   map[string][]*models.BrokerAccount
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{
		users:    make(map[string]*models.User),
		accounts: make(map[string][]*models.BrokerAccount),
	}
	for _, user := range users {
		s.users[user.ID] = user
	}
	return s
}

func (s *fakeUserStore) GetByID(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) GetActive() ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*models.User
	for _, user := range s.users {
		if user.Active {
			copied := *user
			active = append(active, &copied)
		}
	}
	return active, nil
}

// BlockCapital mimics the conditional UPDATE: check and mutate under
// one lock, refuse without mutation when the balance is short.
func (s *fakeUserStore) BlockCapital(userID string, amount float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false, errors.New("user not found")
	}
	if user.AvailableBalance < amount {
		return false, nil
	}
	user.AvailableBalance -= amount
	user.TotalDeployed += amount
	user.OpenPositions++
	return true, nil
}

func (s *fakeUserStore) ReleaseCapital(userID string, amount, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.AvailableBalance += amount + pnl
	user.TotalDeployed -= amount
	user.OpenPositions--
	return nil
}

func (s *fakeUserStore) AppendActivity(entry *models.ActivityLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.activities) + 1)
	s.activities = append(s.activities, entry)
	return nil
}

func (s *fakeUserStore) GetBrokerAccounts(userID string) ([]*models.BrokerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID], nil
}

func (s *fakeUserStore) snapshot(userID string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[userID]
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*models.Order)}
}

func (s *fakeOrderStore) Create(order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *fakeOrderStore) GetByID(id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) GetPending() ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Order
	for _, order := range s.orders {
		if !order.IsTerminal() {
			copied := *order
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (s *fakeOrderStore) UpdateStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return errors.New("order not found")
	}
	order.Status = status
	return nil
}

func (s *fakeOrderStore) SetPositionID(id, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return errors.New("order not found")
	}
	order.PositionID = positionID
	return nil
}

func (s *fakeOrderStore) SetError(id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return errors.New("order not found")
	}
	order.ErrorMessage = errorMessage
	order.Status = models.OrderStatusRejected
	return nil
}

type fakeArchive struct {
	mu        sync.Mutex
	positions []*models.Position
}

func (a *fakeArchive) Insert(position *models.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := *position
	a.positions = append(a.positions, &copied)
	return nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.positions)
}

// stubGateway lets tests script broker behavior per call.
type stubGateway struct {
	mu        sync.Mutex
	placeErr  error
	margin    float64
	marginErr error
	placed    []*models.Order
	cancelled []string
	history   []*broker.OrderState

	// onPlace, when set, observes the world as the broker sees it
	// at placement time.
	onPlace func(order *models.Order)
}

func (g *stubGateway) Name() string                    { return "stub" }
func (g *stubGateway) Login(ctx context.Context) error { return nil }

func (g *stubGateway) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	g.mu.Lock()
	hook := g.onPlace
	g.mu.Unlock()
	if hook != nil {
		hook(order)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return "", g.placeErr
	}
	copied := *order
	g.placed = append(g.placed, &copied)
	return order.ID, nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *stubGateway) GetRequiredMargin(ctx context.Context, order *models.Order) (float64, error) {
	if g.marginErr != nil {
		return 0, g.marginErr
	}
	if g.margin > 0 {
		return g.margin, nil
	}
	return order.Price * float64(order.Quantity), nil
}

func (g *stubGateway) GetOpenPositions(ctx context.Context) ([]*broker.NetPosition, error) {
	return nil, nil
}

func (g *stubGateway) GetOpenOrders(ctx context.Context) ([]*broker.OrderState, error) {
	return nil, nil
}

func (g *stubGateway) GetOrderHistory(ctx context.Context, orderID string) ([]*broker.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history, nil
}

func (g *stubGateway) GetAccountDetails(ctx context.Context) (*broker.AccountDetails, error) {
	return &broker.AccountDetails{}, nil
}

func (g *stubGateway) Close() error { return nil }

func (g *stubGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *stubGateway) cancelledCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancelled)
}

type stubProvider struct {
	gateway broker.Gateway
	err     error
}

func (p *stubProvider) GatewayFor(userID, brokerName string) (broker.Gateway, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.gateway, nil
}

// ============================================================
// Fixtures
// ============================================================

func testUser() *models.User {
	return &models.User{
		ID:                   "user-1",
		Name:                 "Trader",
		Active:               true,
		AvailableBalance:     100000,
		MaxOpenPositions:     5,
		OpenPositions:        0,
		IdealRiskRewardRatio: 2.5,
		StopLossBuffer:       0.5,
		MaxPositionSize:      10000,
		Brokers:              []string{"paper"},
		TradingStart:         "00:01",
		TradingEnd:           "23:59",
	}
}

func liveSignal() *models.Signal {
	return &models.Signal{
		Symbol:          "NIFTY",
		Expiry:          "2026-08-27",
		Strike:          24000,
		Right:           "CE",
		EntryPrice:      100,
		StopLoss:        95,
		TargetPrice:     130,
		TransactionType: models.TransactionBuy,
		LotSize:         25,
		ReceivedAt:      time.Now(),
	}
}

func openPosition(id, userID, identifier string) *models.Position {
	return &models.Position{
		ID:             id,
		UserID:         userID,
		Broker:         "paper",
		Symbol:         "NIFTY",
		Identifier:     identifier,
		PositionType:   models.PositionTypeLong,
		Quantity:       50,
		EntryPrice:     100,
		CurrentPrice:   100,
		StopLoss:       95,
		TakeProfit:     130,
		CapitalBlocked: 5000,
		Status:         models.PositionStatusOpen,
		EntryOrderID:   "order-" + id,
		CreatedAt:      time.Now(),
	}
}
