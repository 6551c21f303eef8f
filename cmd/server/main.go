package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"alphaedge/internal/api"
	"alphaedge/internal/bot"
	"alphaedge/internal/broker"
	"alphaedge/internal/config"
	"alphaedge/internal/repository"
	"alphaedge/internal/store"
	"alphaedge/internal/websocket"
	"alphaedge/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	utils.Info("starting alphaedge",
		utils.String("db", cfg.Database.DSNWithoutPassword()),
		utils.Int("port", cfg.Server.Port))

	// ============================================================
	// База данных
	// ============================================================

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	users := repository.NewUserRepository(db)
	orders := repository.NewOrderRepository(db)
	archive := repository.NewClosedPositionRepository(db)

	// ============================================================
	// Движок
	// ============================================================

	keyed := store.NewMemoryStore()
	bus := store.NewMemoryBus()
	defer bus.Close()

	factory, err := broker.NewFactory([]byte(cfg.Security.EncryptionKey), bus, cfg.Engine.PaperBalance)
	if err != nil {
		return fmt.Errorf("broker factory: %w", err)
	}

	engine := bot.NewEngine(bot.EngineConfig{
		BrokerTimeout: cfg.Engine.BrokerTimeout,
		SweepInterval: cfg.Engine.SweepInterval,
	}, users, orders, archive, keyed, bus, factory)

	if err := engine.Start(context.Background()); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	// ============================================================
	// WebSocket + HTTP
	// ============================================================

	hub := websocket.NewHub()
	go hub.Run()
	go hub.StreamNotifications(engine.Notifications())

	router := api.SetupRoutes(&api.Dependencies{
		Users:      users,
		Positions:  engine.Index(),
		Archive:    archive,
		Publisher:  engine,
		Keyed:      keyed,
		Bus:        bus,
		Hub:        hub,
		APIKeyHash: cfg.Security.APIKeyHash,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		utils.Info("http server listening", utils.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// ============================================================
	// Graceful shutdown
	// ============================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		utils.Info("shutdown signal received", utils.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	// Сначала закрываем входящий трафик, потом сливаем позиции движка
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Error("http shutdown", utils.Err(err))
	}

	if err := engine.Stop(shutdownCtx); err != nil {
		utils.Error("engine stop", utils.Err(err))
	}

	hub.Stop()
	broker.CloseGlobalClient()

	utils.Info("alphaedge stopped")
	return nil
}
