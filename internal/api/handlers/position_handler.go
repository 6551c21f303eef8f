package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"alphaedge/internal/models"
)

// PositionReader - доступ к живым позициям для read-API.
// Реализуется bot.PositionIndex.
type PositionReader interface {
	ListAll(ctx context.Context) ([]*models.Position, error)
	ListPositions(ctx context.Context, userID string) ([]*models.Position, error)
}

// PositionArchiveReader - доступ к закрытым позициям
type PositionArchiveReader interface {
	GetByUserID(userID string, limit int) ([]*models.Position, error)
	TotalRealizedPNL(userID string) (float64, error)
}

// closedPositionsLimit ограничивает размер выдачи архива за один запрос
const closedPositionsLimit = 200

// PositionHandler обрабатывает read-only запросы по позициям.
//
// Endpoints:
// - GET /api/v1/positions - все живые позиции
// - GET /api/v1/positions/{userID} - живые позиции пользователя
// - GET /api/v1/positions/{userID}/closed - закрытые позиции с суммарным P&L
type PositionHandler struct {
	index   PositionReader
	archive PositionArchiveReader
}

// NewPositionHandler создает position handler
func NewPositionHandler(index PositionReader, archive PositionArchiveReader) *PositionHandler {
	return &PositionHandler{index: index, archive: archive}
}

// GetPositions возвращает все живые позиции
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.index.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load positions", err.Error())
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetUserPositions возвращает живые позиции пользователя
func (h *PositionHandler) GetUserPositions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	positions, err := h.index.ListPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load positions", err.Error())
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ClosedPositionsResponse - закрытые позиции вместе с суммарным P&L
type ClosedPositionsResponse struct {
	Positions []*models.Position `json:"positions"`
	TotalPNL  float64            `json:"total_pnl"`
}

// GetClosedPositions возвращает архив закрытых позиций пользователя
func (h *PositionHandler) GetClosedPositions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	positions, err := h.archive.GetByUserID(userID, closedPositionsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load closed positions", err.Error())
		return
	}
	total, err := h.archive.TotalRealizedPNL(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute realized pnl", err.Error())
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}
	writeJSON(w, http.StatusOK, ClosedPositionsResponse{
		Positions: positions,
		TotalPNL:  total,
	})
}
