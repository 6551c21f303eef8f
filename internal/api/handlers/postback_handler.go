package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"alphaedge/internal/broker"
	"alphaedge/internal/models"
	"alphaedge/internal/store"
	"alphaedge/pkg/utils"
)

// PostbackHandler принимает асинхронные уведомления брокеров об ордерах.
//
// POST /postback/{broker}/{userID}
//
// Приём отделён от обработки: сырой payload нормализуется, сохраняется
// в keyed store под сгенерированным request id, а в канал ордеров
// пользователя публикуется лёгкий указатель {request_id, user_id}.
// Reconciler забирает payload по указателю и применяет его.
// Брокеру всегда отвечаем быстро - ретраи на его стороне нам не нужны.
type PostbackHandler struct {
	keyed store.KeyedStore
	bus   store.Bus
}

// NewPostbackHandler создает postback handler
func NewPostbackHandler(keyed store.KeyedStore, bus store.Bus) *PostbackHandler {
	return &PostbackHandler{keyed: keyed, bus: bus}
}

// zerodhaPostback - формат постбэка Kite Connect
type zerodhaPostback struct {
	OrderID           string  `json:"order_id"`
	Status            string  `json:"status"`
	AveragePrice      float64 `json:"average_price"`
	FilledQuantity    int     `json:"filled_quantity"`
	StatusMessage     string  `json:"status_message"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

// Receive обрабатывает один постбэк
func (h *PostbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	brokerName := vars["broker"]
	userID := vars["userID"]

	if !broker.IsSupported(brokerName) {
		writeError(w, http.StatusNotFound, "unknown broker", brokerName)
		return
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id", "")
		return
	}

	update, err := h.normalize(brokerName, userID, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed postback", err.Error())
		return
	}
	if update.OrderID == "" {
		writeError(w, http.StatusBadRequest, "postback without order id", "")
		return
	}

	requestID := utils.NewRequestID()
	ctx := r.Context()

	if err := h.keyed.HSet(ctx, store.CategoryPostbacks, requestID, update); err != nil {
		utils.Error("postback store failed",
			utils.RequestID(requestID),
			utils.Err(err),
		)
		writeError(w, http.StatusInternalServerError, "postback store failed", "")
		return
	}

	env, err := store.NewEnvelope(store.CategoryOrders, store.ActionPostback, &models.PostbackPointer{
		RequestID: requestID,
		UserID:    userID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "postback publish failed", "")
		return
	}
	if err := h.bus.Publish(ctx, store.UserOrderChannel(userID), env); err != nil {
		utils.Error("postback publish failed",
			utils.RequestID(requestID),
			utils.UserID(userID),
			utils.Err(err),
		)
		writeError(w, http.StatusInternalServerError, "postback publish failed", "")
		return
	}

	utils.Info("postback accepted",
		utils.RequestID(requestID),
		utils.UserID(userID),
		utils.Broker(brokerName),
		utils.OrderID(update.OrderID),
	)
	writeJSON(w, http.StatusAccepted, SuccessResponse{Message: "accepted"})
}

// normalize приводит сырой payload брокера к OrderUpdate
func (h *PostbackHandler) normalize(brokerName, userID string, r *http.Request) (*models.OrderUpdate, error) {
	switch brokerName {
	case "zerodha":
		var raw zerodhaPostback
		if err := jsonAPI.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		return &models.OrderUpdate{
			OrderID:        raw.OrderID,
			UserID:         userID,
			Broker:         brokerName,
			Status:         broker.MapZerodhaStatus(raw.Status),
			AveragePrice:   raw.AveragePrice,
			FilledQuantity: raw.FilledQuantity,
			ErrorMessage:   raw.StatusMessage,
			Timestamp:      time.Now(),
		}, nil

	default:
		// Paper и будущие брокеры шлют уже нормализованную форму
		var update models.OrderUpdate
		if err := jsonAPI.NewDecoder(r.Body).Decode(&update); err != nil {
			return nil, err
		}
		update.UserID = userID
		update.Broker = brokerName
		if update.Timestamp.IsZero() {
			update.Timestamp = time.Now()
		}
		return &update, nil
	}
}
