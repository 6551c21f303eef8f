package handlers

import (
	"context"
	"net/http"
	"time"

	"alphaedge/internal/models"
)

// SignalPublisher кладёт сигнал в канал оценки. Реализуется bot.Engine.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, signal *models.Signal) error
}

// SignalHandler принимает торговые сигналы от внешнего источника.
//
// POST /api/v1/signals
//
// Тело - JSON сигнала: symbol, expiry, strike, right, entry_price,
// stop_loss, target_price, transaction_type, lot_size.
// Оценка асинхронная: 202 Accepted означает "сигнал принят в очередь",
// а не "ордера размещены".
type SignalHandler struct {
	publisher SignalPublisher
}

// NewSignalHandler создает signal handler
func NewSignalHandler(publisher SignalPublisher) *SignalHandler {
	return &SignalHandler{publisher: publisher}
}

// Receive обрабатывает один сигнал
func (h *SignalHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var signal models.Signal
	if err := jsonAPI.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal", err.Error())
		return
	}
	signal.ReceivedAt = time.Now()

	if err := signal.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid signal", err.Error())
		return
	}

	if err := h.publisher.PublishSignal(r.Context(), &signal); err != nil {
		writeError(w, http.StatusInternalServerError, "signal enqueue failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SuccessResponse{
		Message: "signal accepted",
		Data:    map[string]string{"identifier": signal.Identifier()},
	})
}
