package store

import (
	"context"
	"sync"

	"alphaedge/pkg/utils"
)

// In-memory реализации KeyedStore и Bus.
// Семантика как у Redis hash и pub/sub: значения хранятся JSON-строками,
// подписчики получают независимые копии конвертов.

// ============================================================
// MemoryStore
// ============================================================

// MemoryStore - потокобезопасное hash-хранилище в памяти
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]string),
	}
}

// HSet записывает JSON-сериализованное значение
func (s *MemoryStore) HSet(ctx context.Context, category, key string, value interface{}) error {
	raw, err := jsonAPI.MarshalToString(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[category]
	if !ok {
		bucket = make(map[string]string)
		s.data[category] = bucket
	}
	bucket[key] = raw

	return nil
}

// HGet читает значение в dest; false если ключа нет
func (s *MemoryStore) HGet(ctx context.Context, category, key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[category][key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if err := jsonAPI.UnmarshalFromString(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// HDel удаляет ключи категории
func (s *MemoryStore) HDel(ctx context.Context, category string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[category]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(bucket, key)
	}
	return nil
}

// HKeys возвращает все ключи категории
func (s *MemoryStore) HKeys(ctx context.Context, category string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.data[category]
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	return keys, nil
}

// HLen возвращает количество ключей категории
func (s *MemoryStore) HLen(ctx context.Context, category string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[category]), nil
}

// ============================================================
// MemoryBus
// ============================================================

// subscriberBuffer - ёмкость канала подписчика.
// Медленный подписчик теряет сообщения, а не блокирует publisher.
const subscriberBuffer = 256

// MemoryBus - pub/sub шина в памяти
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Envelope
	closed      bool
}

// NewMemoryBus создаёт шину без подписчиков
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]chan *Envelope),
	}
}

// Publish отправляет конверт всем подписчикам канала.
// Отправка неблокирующая: переполненный подписчик пропускает сообщение.
func (b *MemoryBus) Publish(ctx context.Context, channel string, env *Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]chan *Envelope, len(b.subscribers[channel]))
	copy(subs, b.subscribers[channel])
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- env:
		default:
			utils.Warn("bus subscriber buffer full, dropping message",
				utils.String("channel", channel),
				utils.String("action", env.Action))
		}
	}
	return nil
}

// Subscribe регистрирует подписчика канала
func (b *MemoryBus) Subscribe(channel string) (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			removed := false
			subs := b.subscribers[channel]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					removed = true
					break
				}
			}
			b.mu.Unlock()
			// Close() уже закрыл канал, если подписчик не найден
			if removed {
				close(ch)
			}
		})
	}

	return ch, unsubscribe
}

// Close закрывает шину и все каналы подписчиков
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for channel, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subscribers, channel)
	}
}
