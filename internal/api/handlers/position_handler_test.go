package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"alphaedge/internal/models"
)

func positionRouter(h *PositionHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/positions", h.GetPositions).Methods("GET")
	router.HandleFunc("/api/v1/positions/{userID}", h.GetUserPositions).Methods("GET")
	router.HandleFunc("/api/v1/positions/{userID}/closed", h.GetClosedPositions).Methods("GET")
	return router
}

func TestGetPositions(t *testing.T) {
	reader := &mockPositionReader{positions: []*models.Position{
		samplePosition("pos_1", "user-1"),
		samplePosition("pos_2", "user-2"),
	}}
	router := positionRouter(NewPositionHandler(reader, &mockArchiveReader{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var positions []*models.Position
	if err := jsonAPI.Unmarshal(rec.Body.Bytes(), &positions); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(positions))
	}
}

func TestGetUserPositionsFiltersByUser(t *testing.T) {
	reader := &mockPositionReader{positions: []*models.Position{
		samplePosition("pos_1", "user-1"),
		samplePosition("pos_2", "user-2"),
	}}
	router := positionRouter(NewPositionHandler(reader, &mockArchiveReader{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var positions []*models.Position
	if err := jsonAPI.Unmarshal(rec.Body.Bytes(), &positions); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(positions) != 1 || positions[0].UserID != "user-1" {
		t.Errorf("expected only user-1 positions, got %+v", positions)
	}
}

func TestGetUserPositionsEmptyIsArray(t *testing.T) {
	router := positionRouter(NewPositionHandler(&mockPositionReader{}, &mockArchiveReader{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/user-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	body := rec.Body.String()
	if body == "null\n" || body == "null" {
		t.Error("empty position list must serialize as [], not null")
	}
}

func TestGetClosedPositions(t *testing.T) {
	closed := samplePosition("pos_1", "user-1")
	closed.Status = models.PositionStatusClosed
	closed.RealizedPNL = 500

	archive := &mockArchiveReader{
		positions: []*models.Position{closed},
		total:     500,
	}
	router := positionRouter(NewPositionHandler(&mockPositionReader{}, archive))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/user-1/closed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp ClosedPositionsResponse
	if err := jsonAPI.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Positions) != 1 {
		t.Errorf("expected 1 closed position, got %d", len(resp.Positions))
	}
	if resp.TotalPNL != 500 {
		t.Errorf("expected total pnl 500, got %v", resp.TotalPNL)
	}
}
