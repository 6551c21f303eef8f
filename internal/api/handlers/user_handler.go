package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"alphaedge/internal/models"
)

// UserSource - доступ к пользователям для read-API
type UserSource interface {
	GetActive() ([]*models.User, error)
	GetByID(id string) (*models.User, error)
}

// UserHandler обрабатывает read-only запросы по пользователям.
//
// Endpoints:
// - GET /api/v1/users - активные пользователи
// - GET /api/v1/users/{id} - один пользователь
//
// Учётные данные брокеров наружу не отдаются: json-теги моделей
// исключают их из сериализации.
type UserHandler struct {
	users UserSource
}

// NewUserHandler создает user handler
func NewUserHandler(users UserSource) *UserHandler {
	return &UserHandler{users: users}
}

// GetUsers возвращает всех активных пользователей
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.GetActive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load users", err.Error())
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser возвращает одного пользователя по id
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	user, err := h.users.GetByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found", id)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
