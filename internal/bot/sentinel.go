package bot

import (
	"context"
	"time"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// DefaultSweepInterval - период обхода trading-hours sentinel
const DefaultSweepInterval = 30 * time.Second

// UserWindow возвращает торговое окно пользователя.
// Пустая конфигурация означает стандартную сессию биржи.
func UserWindow(user *models.User) (utils.TradingWindow, error) {
	if user.TradingStart == "" || user.TradingEnd == "" {
		return utils.MarketWindow(), nil
	}

	return utils.NewTradingWindow(user.TradingStart, user.TradingEnd)
}

// IsTradingTime проверяет, попадает ли момент в окно пользователя.
// Некорректно сконфигурированное окно трактуется как закрытый рынок.
func IsTradingTime(user *models.User, now time.Time) bool {
	window, err := UserWindow(user)
	if err != nil {
		utils.Warn("invalid trading window",
			utils.UserID(user.ID),
			utils.String("start", user.TradingStart),
			utils.String("end", user.TradingEnd),
			utils.Err(err),
		)
		return false
	}
	return window.Contains(now)
}

// Sentinel периодически обходит живые позиции и помечает на выход
// все позиции пользователей, у которых торговое окно закрылось.
// Сам выход выполняет Monitor, получив событие из канала positions.
type Sentinel struct {
	users    UserSource
	index    *PositionIndex
	bus      store.Bus
	interval time.Duration

	notifications chan *models.Notification

	// Подменяется в тестах для детерминизма торгового окна
	now func() time.Time
}

// NewSentinel создает trading-hours sentinel
func NewSentinel(users UserSource, index *PositionIndex, bus store.Bus, interval time.Duration, notifications chan *models.Notification) *Sentinel {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sentinel{
		users:         users,
		index:         index,
		bus:           bus,
		interval:      interval,
		notifications: notifications,
		now:           utils.NowIST,
	}
}

// Run запускает цикл обхода до отмены контекста
func (s *Sentinel) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("trading-hours sentinel started",
		utils.String("interval", s.interval.String()),
	)

	for {
		select {
		case <-ctx.Done():
			utils.Info("trading-hours sentinel stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				utils.Error("sentinel sweep failed", utils.Err(err))
			}
		}
	}
}

// Sweep помечает на выход позиции пользователей вне торгового окна.
// Возвращает количество помеченных позиций.
func (s *Sentinel) Sweep(ctx context.Context) (int, error) {
	users, err := s.users.GetActive()
	if err != nil {
		return 0, err
	}

	now := s.now()
	flagged := 0

	for _, user := range users {
		if IsTradingTime(user, now) {
			continue
		}

		positions, err := s.index.ListPositions(ctx, user.ID)
		if err != nil {
			utils.Error("sentinel: list positions failed",
				utils.UserID(user.ID),
				utils.Err(err),
			)
			continue
		}

		for _, position := range positions {
			if !position.IsLive() || position.ShouldExit {
				continue
			}

			position.ShouldExit = true
			if err := s.index.Update(ctx, position); err != nil {
				utils.Error("sentinel: flag position failed",
					utils.PositionID(position.ID),
					utils.Err(err),
				)
				continue
			}

			if err := s.publishEvent(ctx, position); err != nil {
				utils.Error("sentinel: publish event failed",
					utils.PositionID(position.ID),
					utils.Err(err),
				)
				continue
			}
			flagged++
		}

		if flagged > 0 {
			tryEnqueueNotification(s.notifications, models.NewNotification(
				models.NotificationTypeSweep,
				models.SeverityWarning,
				user.ID,
				"trading window closed, positions flagged for exit",
			))
		}
	}

	if flagged > 0 {
		utils.Info("sentinel sweep flagged positions",
			utils.Int("flagged", flagged),
		)
	}
	return flagged, nil
}

// FlagAll помечает на выход все живые позиции всех пользователей.
// Используется при graceful shutdown.
func (s *Sentinel) FlagAll(ctx context.Context) (int, error) {
	positions, err := s.index.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, position := range positions {
		if !position.IsLive() {
			continue
		}
		if !position.ShouldExit {
			position.ShouldExit = true
			if err := s.index.Update(ctx, position); err != nil {
				return flagged, err
			}
		}
		if err := s.publishEvent(ctx, position); err != nil {
			return flagged, err
		}
		flagged++
	}
	return flagged, nil
}

func (s *Sentinel) publishEvent(ctx context.Context, position *models.Position) error {
	env, err := store.NewEnvelope(store.ChannelPositions, store.ActionUpdated, &models.PositionEvent{
		UserID:     position.UserID,
		PositionID: position.ID,
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, store.ChannelPositions, env)
}
