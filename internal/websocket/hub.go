package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"alphaedge/internal/models"
	"alphaedge/pkg/utils"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON-буферов: убирает аллокации на каждом Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Центральный менеджер broadcast-сообщений для операторского UI:
// уведомления движка, изменения позиций и ордеров уходят всем
// подключенным клиентам без polling'а.
//
// Использование:
//  1. hub := NewHub()
//  2. go hub.Run()
//  3. go hub.StreamNotifications(engine.Notifications())
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}

	// Счётчик сообщений, отброшенных при переполнении broadcast-канала
	dropped atomic.Int64

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("ws client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("ws client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			// Копируем список под коротким RLock, отправляем без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать - отключаем
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				utils.Warn("removed slow ws clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("total", total),
				)
			}
		}
	}
}

// Stop останавливает главный цикл и отключает всех клиентов
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast сериализует и отправляет сообщение всем клиентам.
// Не блокируется: при переполнении канала сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := jsonAPI.NewEncoder(buf).Encode(message); err != nil {
		utils.Error("broadcast marshal failed", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение
func (h *Hub) BroadcastRaw(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

// BroadcastNotification отправляет уведомление движка
func (h *Hub) BroadcastNotification(notification *models.Notification) {
	h.Broadcast(&NotificationMessage{
		Type: MessageTypeNotification,
		Data: notification,
	})
}

// BroadcastPositionUpdate отправляет изменение позиции
func (h *Hub) BroadcastPositionUpdate(position *models.Position) {
	h.Broadcast(&PositionUpdateMessage{
		Type:       MessageTypePositionUpdate,
		PositionID: position.ID,
		UserID:     position.UserID,
		Data:       position,
	})
}

// BroadcastOrderUpdate отправляет смену статуса ордера
func (h *Hub) BroadcastOrderUpdate(update *models.OrderUpdate) {
	h.Broadcast(&OrderUpdateMessage{
		Type:    MessageTypeOrderUpdate,
		OrderID: update.OrderID,
		UserID:  update.UserID,
		Data:    update,
	})
}

// StreamNotifications транслирует канал уведомлений движка в hub.
// Возвращается при закрытии канала (остановка движка).
func (h *Hub) StreamNotifications(notifications <-chan *models.Notification) {
	for notification := range notifications {
		if notification == nil {
			continue
		}
		h.BroadcastNotification(notification)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
