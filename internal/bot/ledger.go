package bot

import (
	"fmt"
	"hash/fnv"
	"sync"

	"alphaedge/internal/models"
	"alphaedge/pkg/utils"
)

// ledgerStripes - количество полос блокировок; степень двойки
const ledgerStripes = 64

// CapitalStore - durable-операции над капиталом пользователя.
// Реализуется repository.UserRepository.
type CapitalStore interface {
	GetByID(id string) (*models.User, error)
	BlockCapital(userID string, amount float64) (bool, error)
	ReleaseCapital(userID string, amount, pnl float64) error
	AppendActivity(entry *models.ActivityLogEntry) error
}

// Ledger - единственная точка мутации капитала.
// Инвариант no-overcommit обеспечивается условным UPDATE на стороне БД;
// полосы блокировок сериализуют пары mutate+audit одного пользователя,
// чтобы activity log не перемешивался.
type Ledger struct {
	store CapitalStore
	locks [ledgerStripes]sync.Mutex

	notifications chan *models.Notification
}

// NewLedger создает capital ledger
func NewLedger(store CapitalStore, notifications chan *models.Notification) *Ledger {
	return &Ledger{
		store:         store,
		notifications: notifications,
	}
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &l.locks[h.Sum32()&(ledgerStripes-1)]
}

// CanBlock - консультативная проверка до обращения к брокеру.
// Не резервирует капитал: окончательное слово за Block.
func (l *Ledger) CanBlock(userID string, amount float64) (bool, error) {
	user, err := l.store.GetByID(userID)
	if err != nil {
		return false, err
	}
	return user.AvailableBalance >= amount && user.HasFreeSlot(), nil
}

// Block резервирует капитал под позицию.
// Возвращает false без мутации, если баланса не хватает:
// конкурентный Block другого потока мог опередить.
func (l *Ledger) Block(userID string, amount float64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("block amount must be positive, got %v", amount)
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := l.store.BlockCapital(userID, amount)
	if err != nil {
		return false, err
	}
	if !ok {
		utils.Debug("capital block refused",
			utils.UserID(userID),
			utils.Capital(amount),
		)
		return false, nil
	}

	if err := l.store.AppendActivity(&models.ActivityLogEntry{
		UserID: userID,
		Action: models.ActivityCapitalBlocked,
		Amount: amount,
	}); err != nil {
		// Аудит не должен откатывать уже выполненную блокировку
		utils.Warn("activity log write failed",
			utils.UserID(userID),
			utils.Err(err),
		)
	}

	RecordCapitalBlocked(amount)
	tryEnqueueNotification(l.notifications, models.NewNotification(
		models.NotificationTypeCapital,
		models.SeverityInfo,
		userID,
		fmt.Sprintf("blocked %.2f", amount),
	))

	utils.Info("capital blocked",
		utils.UserID(userID),
		utils.Capital(amount),
	)
	return true, nil
}

// Release возвращает капитал с учётом реализованного P&L.
// Идемпотентность обеспечивает вызывающая сторона: release происходит
// ровно один раз на позицию, в момент её архивации.
func (l *Ledger) Release(userID string, amount, pnl float64) error {
	if amount < 0 {
		return fmt.Errorf("release amount must not be negative, got %v", amount)
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.ReleaseCapital(userID, amount, pnl); err != nil {
		return err
	}

	if err := l.store.AppendActivity(&models.ActivityLogEntry{
		UserID: userID,
		Action: models.ActivityCapitalReleased,
		Amount: amount,
		PNL:    pnl,
	}); err != nil {
		utils.Warn("activity log write failed",
			utils.UserID(userID),
			utils.Err(err),
		)
	}

	RecordCapitalReleased(amount)
	tryEnqueueNotification(l.notifications, models.NewNotification(
		models.NotificationTypeCapital,
		models.SeverityInfo,
		userID,
		fmt.Sprintf("released %.2f, pnl %.2f", amount, pnl),
	))

	utils.Info("capital released",
		utils.UserID(userID),
		utils.Capital(amount),
		utils.PNL(pnl),
	)
	return nil
}
