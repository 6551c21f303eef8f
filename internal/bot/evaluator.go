package bot

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"alphaedge/internal/broker"
	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// Исходы оценки сигнала для одного пользователя
const (
	OutcomePlaced       = "placed"
	OutcomeMarketClosed = "market_closed"
	OutcomeRiskReward   = "risk_reward"
	OutcomeDuplicate    = "duplicate"
	OutcomeNoSlot       = "no_slot"
	OutcomeZeroQuantity = "zero_quantity"
	OutcomeCapital      = "capital"
	OutcomeBrokerError  = "broker_error"
	OutcomeError        = "error"
)

// DefaultBrokerTimeout - потолок на один вызов брокера
const DefaultBrokerTimeout = 10 * time.Second

// Evaluator оценивает входящие сигналы против всех активных пользователей
// и размещает entry-ордера. Оценки пользователей независимы и идут
// параллельно: broker I/O одного пользователя не задерживает остальных.
type Evaluator struct {
	users    UserSource
	orders   OrderStore
	ledger   *Ledger
	index    *PositionIndex
	gateways GatewayProvider

	brokerTimeout time.Duration
	notifications chan *models.Notification

	// Подменяется в тестах для детерминизма торгового окна
	now func() time.Time
}

// NewEvaluator создает evaluator
func NewEvaluator(
	users UserSource,
	orders OrderStore,
	ledger *Ledger,
	index *PositionIndex,
	gateways GatewayProvider,
	brokerTimeout time.Duration,
	notifications chan *models.Notification,
) *Evaluator {
	if brokerTimeout <= 0 {
		brokerTimeout = DefaultBrokerTimeout
	}
	return &Evaluator{
		users:         users,
		orders:        orders,
		ledger:        ledger,
		index:         index,
		gateways:      gateways,
		brokerTimeout: brokerTimeout,
		notifications: notifications,
		now:           utils.NowIST,
	}
}

// Run потребляет канал сигналов до отмены контекста или закрытия канала.
// Подписку выполняет Engine.Start до запуска горутины: сигналы,
// опубликованные сразу после старта, не теряются.
func (e *Evaluator) Run(ctx context.Context, signals <-chan *store.Envelope) {
	utils.Info("signal evaluator started")

	for {
		select {
		case <-ctx.Done():
			utils.Info("signal evaluator stopped")
			return
		case env, ok := <-signals:
			if !ok {
				utils.Info("signal channel closed, evaluator stopped")
				return
			}

			var signal models.Signal
			if err := env.DecodeData(&signal); err != nil {
				utils.Error("malformed signal envelope", utils.Err(err))
				continue
			}
			e.EvaluateSignal(ctx, &signal)
		}
	}
}

// EvaluateSignal прогоняет сигнал по всем активным пользователям.
// Каждый пользователь оценивается в своей горутине; возврат происходит
// после завершения всех оценок, чтобы сигнал был обработан ровно один раз.
func (e *Evaluator) EvaluateSignal(ctx context.Context, signal *models.Signal) {
	started := time.Now()

	if err := signal.Validate(); err != nil {
		utils.Warn("invalid signal dropped",
			utils.Symbol(signal.Symbol),
			utils.Err(err),
		)
		return
	}

	users, err := e.users.GetActive()
	if err != nil {
		utils.Error("load active users failed", utils.Err(err))
		return
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u *models.User) {
			defer wg.Done()
			outcome := e.evaluateForUser(ctx, u, signal)
			RecordEvaluation(outcome)
		}(user)
	}
	wg.Wait()

	SignalToOrderLatency.WithLabelValues(signal.Symbol).
		Observe(float64(time.Since(started).Milliseconds()))
}

// evaluateForUser выполняет полный конвейер проверок и размещение.
// Любой отказ - нормальный исход фильтрации, не ошибка.
func (e *Evaluator) evaluateForUser(ctx context.Context, user *models.User, signal *models.Signal) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			utils.Error("evaluation panic recovered",
				utils.UserID(user.ID),
				utils.Any("panic", r),
			)
			outcome = OutcomeError
		}
	}()

	log := utils.L().With(
		utils.UserID(user.ID),
		utils.Symbol(signal.Symbol),
		utils.Identifier(signal.Identifier()),
	)

	// 1. Торговое окно
	if !IsTradingTime(user, e.now()) {
		log.Debug("skip: outside trading window")
		return OutcomeMarketClosed
	}

	// 2. Risk-reward фильтр
	if !MeetsRiskReward(user, signal) {
		log.Debug("skip: risk-reward below threshold")
		return OutcomeRiskReward
	}

	// 3. Дубликат по инструменту
	exists, err := e.index.HasOpenPosition(ctx, user.ID, signal.Identifier())
	if err != nil {
		log.Error("duplicate check failed", utils.Err(err))
		return OutcomeError
	}
	if exists {
		log.Debug("skip: open position exists")
		return OutcomeDuplicate
	}

	// 4. Свободный слот
	if !user.HasFreeSlot() {
		log.Debug("skip: no free position slot")
		return OutcomeNoSlot
	}

	// 5. Sizing
	sizing := ComputeSizing(user, signal)
	if sizing.Quantity <= 0 {
		log.Debug("skip: sized below one lot",
			utils.Float64("risk_amount", sizing.RiskAmount),
			utils.Float64("risk_per_unit", sizing.RiskPerUnit),
		)
		return OutcomeZeroQuantity
	}

	if len(user.Brokers) == 0 {
		log.Warn("skip: user has no brokers configured")
		return OutcomeError
	}
	brokerName := user.Brokers[0]

	gateway, err := e.gateways.GatewayFor(user.ID, brokerName)
	if err != nil {
		log.Error("gateway unavailable", utils.Broker(brokerName), utils.Err(err))
		return OutcomeBrokerError
	}

	// 6. Стоимость капитала: сначала фиксируем количество, затем цену
	order := broker.FormEntryOrder(signal, user.ID, brokerName, sizing.Quantity, 0)

	brokerCtx, cancel := context.WithTimeout(ctx, e.brokerTimeout)
	defer cancel()

	required, err := gateway.GetRequiredMargin(brokerCtx, order)
	if err != nil {
		log.Error("margin query failed", utils.Broker(brokerName), utils.Err(err))
		RecordOrderFailure(brokerName, brokerErrorCode(err))
		return OutcomeBrokerError
	}
	order.CapitalBlocked = required

	canBlock, err := e.ledger.CanBlock(user.ID, required)
	if err != nil {
		log.Error("capital precheck failed", utils.Err(err))
		return OutcomeError
	}
	if !canBlock {
		log.Debug("skip: insufficient capital", utils.Capital(required))
		return OutcomeCapital
	}

	// 7. Блокировка, персистентность, размещение.
	// Ордер обязан существовать durable до вызова брокера: fill может
	// прийти синхронно с размещением (paper, быстрый постбэк), и
	// reconciler должен найти свою запись.
	blocked, err := e.ledger.Block(user.ID, required)
	if err != nil {
		log.Error("capital block failed", utils.Err(err))
		return OutcomeError
	}
	if !blocked {
		// Конкурентная оценка успела забрать баланс
		log.Debug("skip: capital block refused", utils.Capital(required))
		return OutcomeCapital
	}

	order.Status = models.OrderStatusPending
	if err := e.orders.Create(order); err != nil {
		log.Error("order persist failed", utils.OrderID(order.ID), utils.Err(err))
		if releaseErr := e.ledger.Release(user.ID, required, 0); releaseErr != nil {
			log.Error("rollback release failed", utils.Err(releaseErr))
		}
		return OutcomeError
	}

	placedAt := time.Now()
	if _, err := gateway.PlaceOrder(brokerCtx, order); err != nil {
		// Отказ брокера: ордер терминируется, капитал возвращается.
		// Неоднозначный таймаут разрешит recovery-проход по истории брокера
		log.Warn("order placement failed", utils.Broker(brokerName), utils.Err(err))
		RecordOrderFailure(brokerName, brokerErrorCode(err))
		if setErr := e.orders.SetError(order.ID, err.Error()); setErr != nil {
			log.Error("rollback order status failed", utils.Err(setErr))
		}
		if releaseErr := e.ledger.Release(user.ID, required, 0); releaseErr != nil {
			log.Error("rollback release failed", utils.Err(releaseErr))
		}
		tryEnqueueNotification(e.notifications, models.NewNotification(
			models.NotificationTypeOrderFailed,
			models.SeverityWarning,
			user.ID,
			"entry order rejected: "+err.Error(),
		))
		return OutcomeBrokerError
	}
	latencyMs := float64(time.Since(placedAt).Milliseconds())

	RecordOrderPlaced(brokerName, false, latencyMs)
	tryEnqueueNotification(e.notifications, models.NewNotification(
		models.NotificationTypeOrderPlaced,
		models.SeverityInfo,
		user.ID,
		"entry order placed for "+order.Identifier,
	))

	log.Info("entry order placed",
		utils.OrderID(order.ID),
		utils.Broker(brokerName),
		utils.Quantity(order.Quantity),
		utils.Price(order.Price),
		utils.Capital(required),
	)
	return OutcomePlaced
}

// ============================================================
// Sizing
// ============================================================

// Sizing - разбор расчёта размера позиции
type Sizing struct {
	CapitalPerSlot float64
	RiskAmount     float64
	AdjustedStop   float64
	RiskPerUnit    float64
	Quantity       int
}

// ComputeSizing считает размер позиции по риск-параметрам пользователя.
// Количество округляется вниз до целых лотов и ограничивается
// MaxPositionSize; ноль означает "ниже одного лота, пропустить".
func ComputeSizing(user *models.User, signal *models.Signal) Sizing {
	var s Sizing

	freeSlots := user.MaxOpenPositions - user.OpenPositions
	if freeSlots <= 0 || signal.LotSize <= 0 {
		return s
	}

	s.CapitalPerSlot = user.AvailableBalance / float64(freeSlots)
	s.RiskAmount = s.CapitalPerSlot * (user.IdealRiskRewardRatio / 100)
	s.AdjustedStop = signal.StopLoss * (1 - user.StopLossBuffer/100)
	s.RiskPerUnit = math.Abs(signal.EntryPrice - s.AdjustedStop)
	if s.RiskPerUnit <= 0 {
		return s
	}

	lots := int(math.Floor(s.RiskAmount / s.RiskPerUnit / float64(signal.LotSize)))
	quantity := lots * signal.LotSize

	if user.MaxPositionSize > 0 && quantity > user.MaxPositionSize {
		quantity = (user.MaxPositionSize / signal.LotSize) * signal.LotSize
	}

	s.Quantity = quantity
	return s
}

// MeetsRiskReward проверяет соотношение потенциальной прибыли к риску.
// Сигналы с неположительным риском отклоняются.
func MeetsRiskReward(user *models.User, signal *models.Signal) bool {
	risk := signal.EntryPrice - signal.StopLoss
	if risk <= 0 {
		return false
	}
	ratio := (signal.TargetPrice - signal.EntryPrice) / risk
	return ratio >= user.IdealRiskRewardRatio
}

func brokerErrorCode(err error) string {
	var brokerErr *broker.BrokerError
	if errors.As(err, &brokerErr) {
		return brokerErr.Code
	}
	return broker.CodeNetwork
}
