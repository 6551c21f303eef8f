package bot

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// indexStripes - количество полос блокировок индекса
const indexStripes = 64

// Ошибки индекса позиций
var (
	ErrDuplicatePosition = errors.New("open position already exists for user and instrument")
	ErrPositionNotFound  = errors.New("position not found")
)

// PositionIndex поддерживает эфемерное хранилище позиций и два обратных
// отображения над ним: identifier -> set(positionID) и userID -> set(positionID).
// Запись позиции и оба отображения меняются как единое целое под полосой
// блокировки (user, identifier); рассинхронизация после падения процесса
// чинится Repair-проходом при старте.
type PositionIndex struct {
	store store.KeyedStore
	locks [indexStripes]sync.Mutex
}

// NewPositionIndex создает индекс над keyed-хранилищем
func NewPositionIndex(keyed store.KeyedStore) *PositionIndex {
	return &PositionIndex{store: keyed}
}

func (idx *PositionIndex) lockFor(userID, identifier string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(identifier))
	return &idx.locks[h.Sum32()&(indexStripes-1)]
}

// ============================================================
// Set-отображения
// ============================================================

func (idx *PositionIndex) readSet(ctx context.Context, category, key string) ([]string, error) {
	var ids []string
	ok, err := idx.store.HGet(ctx, category, key, &ids)
	if err != nil || !ok {
		return nil, err
	}
	return ids, nil
}

func (idx *PositionIndex) addToSet(ctx context.Context, category, key, id string) error {
	ids, err := idx.readSet(ctx, category, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return idx.store.HSet(ctx, category, key, append(ids, id))
}

func (idx *PositionIndex) removeFromSet(ctx context.Context, category, key, id string) error {
	ids, err := idx.readSet(ctx, category, key)
	if err != nil {
		return err
	}

	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return idx.store.HDel(ctx, category, key)
	}
	return idx.store.HSet(ctx, category, key, filtered)
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// ============================================================
// Операции индекса
// ============================================================

// Add сохраняет позицию и регистрирует её в обоих отображениях.
// Возвращает ErrDuplicatePosition, если у пользователя уже есть
// живая позиция по этому инструменту.
func (idx *PositionIndex) Add(ctx context.Context, position *models.Position) error {
	mu := idx.lockFor(position.UserID, position.Identifier)
	mu.Lock()
	defer mu.Unlock()

	exists, err := idx.hasOpenPositionLocked(ctx, position.UserID, position.Identifier)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicatePosition
	}

	if err := idx.store.HSet(ctx, store.CategoryPositions, position.ID, position); err != nil {
		return err
	}
	if err := idx.addToSet(ctx, store.CategoryPositionIDMappings, position.Identifier, position.ID); err != nil {
		return err
	}
	return idx.addToSet(ctx, store.CategoryPositionUserMappings, position.UserID, position.ID)
}

// Update перезаписывает тело позиции, не трогая отображения
func (idx *PositionIndex) Update(ctx context.Context, position *models.Position) error {
	return idx.store.HSet(ctx, store.CategoryPositions, position.ID, position)
}

// Get читает позицию из эфемерного хранилища
func (idx *PositionIndex) Get(ctx context.Context, positionID string) (*models.Position, error) {
	var position models.Position
	ok, err := idx.store.HGet(ctx, store.CategoryPositions, positionID, &position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return &position, nil
}

// Remove удаляет позицию из хранилища и обоих отображений
func (idx *PositionIndex) Remove(ctx context.Context, position *models.Position) error {
	mu := idx.lockFor(position.UserID, position.Identifier)
	mu.Lock()
	defer mu.Unlock()

	if err := idx.store.HDel(ctx, store.CategoryPositions, position.ID); err != nil {
		return err
	}
	if err := idx.removeFromSet(ctx, store.CategoryPositionIDMappings, position.Identifier, position.ID); err != nil {
		return err
	}
	return idx.removeFromSet(ctx, store.CategoryPositionUserMappings, position.UserID, position.ID)
}

// HasOpenPosition проверяет, есть ли у пользователя живая позиция
// по инструменту
func (idx *PositionIndex) HasOpenPosition(ctx context.Context, userID, identifier string) (bool, error) {
	mu := idx.lockFor(userID, identifier)
	mu.Lock()
	defer mu.Unlock()
	return idx.hasOpenPositionLocked(ctx, userID, identifier)
}

func (idx *PositionIndex) hasOpenPositionLocked(ctx context.Context, userID, identifier string) (bool, error) {
	byInstrument, err := idx.readSet(ctx, store.CategoryPositionIDMappings, identifier)
	if err != nil {
		return false, err
	}
	if len(byInstrument) == 0 {
		return false, nil
	}

	byUser, err := idx.readSet(ctx, store.CategoryPositionUserMappings, userID)
	if err != nil {
		return false, err
	}
	for _, id := range byInstrument {
		if contains(byUser, id) {
			return true, nil
		}
	}
	return false, nil
}

// ListPositions возвращает живые позиции пользователя
func (idx *PositionIndex) ListPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	ids, err := idx.readSet(ctx, store.CategoryPositionUserMappings, userID)
	if err != nil {
		return nil, err
	}

	positions := make([]*models.Position, 0, len(ids))
	for _, id := range ids {
		position, err := idx.Get(ctx, id)
		if errors.Is(err, ErrPositionNotFound) {
			continue // осиротевшая запись отображения, уберёт Repair
		}
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// ListAll возвращает все живые позиции
func (idx *PositionIndex) ListAll(ctx context.Context) ([]*models.Position, error) {
	ids, err := idx.store.HKeys(ctx, store.CategoryPositions)
	if err != nil {
		return nil, err
	}

	positions := make([]*models.Position, 0, len(ids))
	for _, id := range ids {
		position, err := idx.Get(ctx, id)
		if errors.Is(err, ErrPositionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// Count возвращает количество живых позиций
func (idx *PositionIndex) Count(ctx context.Context) (int, error) {
	return idx.store.HLen(ctx, store.CategoryPositions)
}

// Repair согласует отображения с хранилищем позиций:
// дописывает отсутствующие записи и убирает осиротевшие.
// Возвращает количество исправлений.
func (idx *PositionIndex) Repair(ctx context.Context) (int, error) {
	repaired := 0

	positions, err := idx.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	live := make(map[string]bool, len(positions))
	for _, position := range positions {
		live[position.ID] = true

		byInstrument, err := idx.readSet(ctx, store.CategoryPositionIDMappings, position.Identifier)
		if err != nil {
			return repaired, err
		}
		if !contains(byInstrument, position.ID) {
			if err := idx.addToSet(ctx, store.CategoryPositionIDMappings, position.Identifier, position.ID); err != nil {
				return repaired, err
			}
			repaired++
		}

		byUser, err := idx.readSet(ctx, store.CategoryPositionUserMappings, position.UserID)
		if err != nil {
			return repaired, err
		}
		if !contains(byUser, position.ID) {
			if err := idx.addToSet(ctx, store.CategoryPositionUserMappings, position.UserID, position.ID); err != nil {
				return repaired, err
			}
			repaired++
		}
	}

	for _, category := range []string{store.CategoryPositionIDMappings, store.CategoryPositionUserMappings} {
		keys, err := idx.store.HKeys(ctx, category)
		if err != nil {
			return repaired, err
		}
		for _, key := range keys {
			ids, err := idx.readSet(ctx, category, key)
			if err != nil {
				return repaired, err
			}

			filtered := ids[:0]
			for _, id := range ids {
				if live[id] {
					filtered = append(filtered, id)
				}
			}
			if len(filtered) == len(ids) {
				continue
			}

			repaired += len(ids) - len(filtered)
			if len(filtered) == 0 {
				err = idx.store.HDel(ctx, category, key)
			} else {
				err = idx.store.HSet(ctx, category, key, filtered)
			}
			if err != nil {
				return repaired, err
			}
		}
	}

	if repaired > 0 {
		utils.Warn("position index repaired",
			utils.Int("fixes", repaired),
		)
	}
	return repaired, nil
}
