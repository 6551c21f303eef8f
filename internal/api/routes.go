package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alphaedge/internal/api/handlers"
	"alphaedge/internal/api/middleware"
	"alphaedge/internal/store"
	"alphaedge/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Users     handlers.UserSource
	Positions handlers.PositionReader
	Archive   handlers.PositionArchiveReader
	Publisher handlers.SignalPublisher
	Keyed     store.KeyedStore
	Bus       store.Bus
	Hub       *websocket.Hub

	// APIKeyHash - bcrypt-хеш операторского ключа для мутирующих endpoints;
	// пустая строка отключает проверку
	APIKeyHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /signals
//	│   └── POST / - принять торговый сигнал
//	├── /users/
//	│   ├── GET / - активные пользователи
//	│   └── GET /{id} - один пользователь
//	└── /positions/
//	    ├── GET / - все живые позиции
//	    ├── GET /{userID} - живые позиции пользователя
//	    └── GET /{userID}/closed - архив закрытых позиций
//
// /postback/{broker}/{userID} - POST, приём уведомлений брокеров
// /ws/stream                  - WebSocket для real-time обновлений
// /metrics                    - Prometheus
// /health                     - health check
//
// Middleware применяется в порядке: Recovery, Logging, CORS.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps != nil && deps.Publisher != nil {
		signalHandler := handlers.NewSignalHandler(deps.Publisher)
		auth := middleware.APIKeyAuth(deps.APIKeyHash)
		api.Handle("/signals", auth(http.HandlerFunc(signalHandler.Receive))).Methods("POST")
	}

	if deps != nil && deps.Users != nil {
		userHandler := handlers.NewUserHandler(deps.Users)
		api.HandleFunc("/users", userHandler.GetUsers).Methods("GET")
		api.HandleFunc("/users/{id}", userHandler.GetUser).Methods("GET")
	}

	if deps != nil && deps.Positions != nil {
		positionHandler := handlers.NewPositionHandler(deps.Positions, deps.Archive)
		api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{userID}", positionHandler.GetUserPositions).Methods("GET")
		if deps.Archive != nil {
			api.HandleFunc("/positions/{userID}/closed", positionHandler.GetClosedPositions).Methods("GET")
		}
	}

	if deps != nil && deps.Keyed != nil && deps.Bus != nil {
		postbackHandler := handlers.NewPostbackHandler(deps.Keyed, deps.Bus)
		router.HandleFunc("/postback/{broker}/{userID}", postbackHandler.Receive).Methods("POST")
	}

	if deps != nil && deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
