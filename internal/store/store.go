package store

import (
	"context"
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// Интерфейсы эфемерного хранилища и шины событий.
// Движок работает только через эти контракты; in-memory реализации
// (memory.go) покрывают single-process деплой и тесты, сетевые
// реализации подключаются без изменения потребителей.

// jsonAPI - быстрый кодек, совместимый с encoding/json
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки хранилища
var (
	ErrClosed = errors.New("store is closed")
)

// Категории keyed-хранилища
const (
	CategoryPositions            = "positions"
	CategoryPositionIDMappings   = "position_id_mappings"
	CategoryPositionUserMappings = "position_user_mappings"
	CategoryPostbacks            = "postbacks"
)

// Каналы шины событий
const (
	ChannelSignals   = "signals"
	ChannelPositions = "positions"
)

// Категории и действия конвертов
const (
	CategoryOrders  = "orders"
	CategorySignals = "signals"

	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionPostback = "postback"
)

// UserOrderChannel возвращает имя канала fill-уведомлений пользователя
func UserOrderChannel(userID string) string {
	return "orders:" + userID
}

// ============================================================
// Envelope - конверт сообщения шины
// ============================================================

// Envelope - JSON-конверт {category, action, data}
type Envelope struct {
	Category string          `json:"category"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data"`
}

// NewEnvelope сериализует payload в конверт
func NewEnvelope(category, action string, data interface{}) (*Envelope, error) {
	raw, err := jsonAPI.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Category: category,
		Action:   action,
		Data:     raw,
	}, nil
}

// DecodeData десериализует payload конверта в dest
func (e *Envelope) DecodeData(dest interface{}) error {
	return jsonAPI.Unmarshal(e.Data, dest)
}

// Encode сериализует конверт целиком (для транспорта)
func (e *Envelope) Encode() ([]byte, error) {
	return jsonAPI.Marshal(e)
}

// DecodeEnvelope разбирает конверт из байтов
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := jsonAPI.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ============================================================
// KeyedStore - эфемерное hash-хранилище
// ============================================================

// KeyedStore - записи, адресуемые (category, key).
// Значения сериализуются в JSON на стороне реализации.
type KeyedStore interface {
	// HSet записывает значение под ключом категории
	HSet(ctx context.Context, category, key string, value interface{}) error

	// HGet читает значение в dest; возвращает false если ключа нет
	HGet(ctx context.Context, category, key string, dest interface{}) (bool, error)

	// HDel удаляет ключи категории; отсутствующие ключи игнорируются
	HDel(ctx context.Context, category string, keys ...string) error

	// HKeys возвращает все ключи категории
	HKeys(ctx context.Context, category string) ([]string, error)

	// HLen возвращает количество ключей категории
	HLen(ctx context.Context, category string) (int, error)
}

// ============================================================
// Bus - publish/subscribe шина
// ============================================================

// Bus - шина событий с каналами-конвертами.
// Подписчики одного канала получают сообщения в порядке публикации;
// межканальный порядок не гарантируется.
type Bus interface {
	// Publish отправляет конверт всем подписчикам канала
	Publish(ctx context.Context, channel string, env *Envelope) error

	// Subscribe возвращает канал конвертов и функцию отписки.
	// Отписка закрывает возвращённый канал.
	Subscribe(channel string) (<-chan *Envelope, func())
}
