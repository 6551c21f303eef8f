package bot

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"alphaedge/internal/broker"
	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/retry"
	"alphaedge/pkg/utils"
)

// notificationBuffer - ёмкость канала уведомлений для UI
const notificationBuffer = 256

// UserDirectory - доступ к пользователям, их капиталу и брокерским
// аккаунтам. Реализуется repository.UserRepository.
type UserDirectory interface {
	UserSource
	CapitalStore
	GetBrokerAccounts(userID string) ([]*models.BrokerAccount, error)
}

// ============================================================
// Gateway cache
// ============================================================

// GatewayCache создаёт шлюзы по требованию и переиспользует их.
// Ключ кэша - пара (user, broker): у каждого пользователя свои
// учётные данные.
type GatewayCache struct {
	factory  *broker.Factory
	accounts UserDirectory

	mu       sync.RWMutex
	gateways map[string]broker.Gateway
}

// NewGatewayCache создает кэш шлюзов
func NewGatewayCache(factory *broker.Factory, accounts UserDirectory) *GatewayCache {
	return &GatewayCache{
		factory:  factory,
		accounts: accounts,
		gateways: make(map[string]broker.Gateway),
	}
}

// GatewayFor возвращает шлюз пользователя, создавая при первом обращении
func (c *GatewayCache) GatewayFor(userID, brokerName string) (broker.Gateway, error) {
	key := userID + ":" + brokerName

	c.mu.RLock()
	gateway, ok := c.gateways[key]
	c.mu.RUnlock()
	if ok {
		return gateway, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gateway, ok := c.gateways[key]; ok {
		return gateway, nil
	}

	accounts, err := c.accounts.GetBrokerAccounts(userID)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		if account.Broker != brokerName {
			continue
		}
		gateway, err := c.factory.Gateway(account)
		if err != nil {
			return nil, err
		}
		c.gateways[key] = gateway
		return gateway, nil
	}
	return nil, fmt.Errorf("no %s account for user %s", brokerName, userID)
}

// Close закрывает все созданные шлюзы
func (c *GatewayCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, gateway := range c.gateways {
		if err := gateway.Close(); err != nil {
			utils.Warn("gateway close failed",
				utils.String("gateway", key),
				utils.Err(err),
			)
		}
		delete(c.gateways, key)
	}
}

// ============================================================
// Engine
// ============================================================

// Engine собирает компоненты движка и управляет их жизненным циклом.
// Компоненты общаются только через шину, ledger и индекс - никаких
// прямых вызовов внутреннего состояния друг друга.
type Engine struct {
	users      UserDirectory
	index      *PositionIndex
	ledger     *Ledger
	sentinel   *Sentinel
	evaluator  *Evaluator
	monitor    *Monitor
	reconciler *Reconciler
	recovery   *Recovery
	gateways   *GatewayCache
	bus        store.Bus

	notifications chan *models.Notification

	// Оценка сигналов останавливается раньше остальных компонентов,
	// поэтому у неё свой контекст
	cancelEval context.CancelFunc
	cancelRun  context.CancelFunc

	// Подписки evaluator'а и monitor'а; снимаются в Stop
	unsubSignals   func()
	unsubPositions func()

	wg sync.WaitGroup
}

// EngineConfig - настройки движка
type EngineConfig struct {
	BrokerTimeout time.Duration
	SweepInterval time.Duration
}

// NewEngine собирает движок из зависимостей
func NewEngine(
	cfg EngineConfig,
	users UserDirectory,
	orders OrderStore,
	archive PositionArchive,
	keyed store.KeyedStore,
	bus store.Bus,
	factory *broker.Factory,
) *Engine {
	notifications := make(chan *models.Notification, notificationBuffer)

	index := NewPositionIndex(keyed)
	ledger := NewLedger(users, notifications)
	gateways := NewGatewayCache(factory, users)

	reconciler := NewReconciler(orders, ledger, index, archive, keyed, bus, notifications)

	return &Engine{
		users:         users,
		index:         index,
		ledger:        ledger,
		gateways:      gateways,
		bus:           bus,
		sentinel:      NewSentinel(users, index, bus, cfg.SweepInterval, notifications),
		evaluator:     NewEvaluator(users, orders, ledger, index, gateways, cfg.BrokerTimeout, notifications),
		monitor:       NewMonitor(orders, index, gateways, cfg.BrokerTimeout, notifications),
		reconciler:    reconciler,
		recovery:      NewRecovery(orders, index, gateways, reconciler),
		notifications: notifications,
	}
}

// Notifications возвращает канал уведомлений для UI-потребителей
func (e *Engine) Notifications() <-chan *models.Notification {
	return e.notifications
}

// Index возвращает индекс позиций для read-API
func (e *Engine) Index() *PositionIndex {
	return e.index
}

// Start выполняет recovery-проход и запускает все компоненты
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	evalCtx, cancelEval := context.WithCancel(runCtx)
	e.cancelRun = cancelRun
	e.cancelEval = cancelEval

	if err := e.recovery.Run(runCtx); err != nil {
		cancelRun()
		return fmt.Errorf("recovery pass: %w", err)
	}

	users, err := e.users.GetActive()
	if err != nil {
		cancelRun()
		return fmt.Errorf("load active users: %w", err)
	}
	for _, user := range users {
		e.reconciler.WatchUser(runCtx, user.ID)
	}

	// Подписки до запуска горутин: событие, опубликованное сразу после
	// Start, уже имеет подписчика и не теряется шиной
	signals, unsubSignals := e.bus.Subscribe(store.ChannelSignals)
	positionEvents, unsubPositions := e.bus.Subscribe(store.ChannelPositions)
	e.unsubSignals = unsubSignals
	e.unsubPositions = unsubPositions

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.evaluator.Run(evalCtx, signals)
	}()
	go func() {
		defer e.wg.Done()
		e.monitor.Run(runCtx, positionEvents)
	}()
	go func() {
		defer e.wg.Done()
		e.sentinel.Run(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reportRuntime(runCtx)
	}()

	utils.Info("trading engine started",
		utils.Int("active_users", len(users)),
	)
	return nil
}

// Stop выполняет graceful shutdown: остановка приёма сигналов,
// принудительный выход из всех позиций, ограниченное ожидание
// опустошения эфемерного хранилища.
func (e *Engine) Stop(ctx context.Context) error {
	utils.Info("trading engine stopping")

	// Новые сигналы не принимаем; monitor и reconciler продолжают
	// работать, пока идёт drain позиций
	if e.cancelEval != nil {
		e.cancelEval()
	}
	if e.unsubSignals != nil {
		e.unsubSignals()
	}

	flagged, err := e.sentinel.FlagAll(ctx)
	if err != nil {
		utils.Error("force-exit flagging failed", utils.Err(err))
	} else if flagged > 0 {
		utils.Info("force-exit requested", utils.Int("positions", flagged))
	}

	drainErr := retry.Do(ctx, func() error {
		count, err := e.index.Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%d positions still open", count)
		}
		return nil
	}, retry.ConservativeConfig())
	if drainErr != nil {
		// Состояние живёт в хранилищах, не в памяти процесса:
		// остаток подхватит recovery при следующем старте
		utils.Warn("shutdown proceeding with open positions", utils.Err(drainErr))
	}

	if e.cancelRun != nil {
		e.cancelRun()
	}
	if e.unsubPositions != nil {
		e.unsubPositions()
	}
	e.reconciler.Stop()
	e.wg.Wait()
	e.gateways.Close()
	close(e.notifications)

	utils.Info("trading engine stopped")
	return drainErr
}

// PublishSignal кладёт сигнал в канал оценки
func (e *Engine) PublishSignal(ctx context.Context, signal *models.Signal) error {
	env, err := store.NewEnvelope(store.CategorySignals, store.ActionCreated, signal)
	if err != nil {
		return err
	}
	return e.bus.Publish(ctx, store.ChannelSignals, env)
}

func (e *Engine) reportRuntime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
