package main

import (
	"calcchat/backend/internal/api/handler"
	"calcchat/backend/internal/changefeed"
	"calcchat/backend/internal/chathub"
	"calcchat/backend/internal/config"
	"calcchat/backend/internal/gate"
	"calcchat/backend/internal/localization"
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/realtime"
	"calcchat/backend/internal/storage"
	"calcchat/backend/internal/vault"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type dependencies struct {
	store *storage.Service
	rdb   *redis.Client
	nc    *nats.Conn
	codes *vault.Vault
}

func setupDependencies(cfg *config.Config) *dependencies {
	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect PostgreSQL", zap.Error(err))
	}
	store := storage.NewStorageService(db, cfg.PublicBaseURL)

	// 2. Міграції та тригери для стрічки змін
	if err := store.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := store.InstallChangeTriggers(config.ChangeChannel); err != nil {
		logger.Fatal("Failed to install change triggers", zap.Error(err))
	}

	// 3. Redis (присутність)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		logger.Fatal("Failed to connect Redis", zap.Error(err))
	}

	// 4. NATS (typing / recording)
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("calcchat"), nats.MaxReconnects(-1))
	if err != nil {
		logger.Fatal("Failed to connect NATS", zap.Error(err))
	}

	// 5. Локальне сховище кодів
	codes, err := vault.Open(cfg.VaultPath, map[string]string{
		vault.KeyCalculator: cfg.DefaultCalculatorCode,
		vault.KeyUserA:      cfg.DefaultUserACode,
	})
	if err != nil {
		logger.Fatal("Failed to open vault", zap.Error(err))
	}

	logger.Info("Database, Redis and NATS connections established, migrations complete.")
	return &dependencies{store: store, rdb: rdb, nc: nc, codes: codes}
}

func main() {
	logger.Info("Starting CalcChat Backend...")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	deps := setupDependencies(cfg)
	defer deps.rdb.Close()
	defer deps.nc.Close()
	defer deps.codes.Close()

	// 2. Стрічка змін з PostgreSQL
	source, err := changefeed.NewPQSource(cfg.DatabaseURL, config.ChangeChannel, deps.store)
	if err != nil {
		logger.Fatal("Failed to listen for row changes", zap.Error(err))
	}
	feed := changefeed.NewFeed()
	go source.Run(ctx)
	go feed.Run(ctx, source.Changes())

	// 3. Синхронізація кодів працює і без відкритої сесії
	codeSync := &gate.CodeSync{Source: deps.store, Codes: deps.codes}
	if err := codeSync.Pull(ctx); err != nil {
		logger.Warn("initial code sync failed", zap.Error(err))
	}
	feed.Subscribe(changefeed.Subscription{
		Table:  "messages",
		Event:  models.ChangeInsert,
		Filter: changefeed.Filter{Column: "chat_id", Value: models.ChatID},
	}, func(c models.RowChange) {
		var msg models.Message
		if err := json.Unmarshal(c.Row, &msg); err != nil {
			return
		}
		codeSync.HandleInsert(ctx, msg)
	})

	// 4. Локалізовані мітки присутності
	loc, err := localization.Builtin()
	if err != nil {
		logger.Fatal("Failed to load locales", zap.Error(err))
	}

	// 5. Chat Hub
	hub := chathub.NewManagerService(chathub.Deps{
		Store:          deps.store,
		Codes:          deps.codes,
		Roster:         realtime.NewPresenceChannel(deps.rdb, config.PresenceRoom, realtime.DefaultPresenceTTL),
		Activity:       realtime.NewBroadcaster(deps.nc, config.ActivitySubject),
		Feed:           feed,
		Labels:         loc.PresenceLabels(cfg.Language),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	go hub.Run(ctx)

	// 6. Налаштування Gin та роутингу
	r := gin.Default()
	h := handler.NewHandler(hub, gate.New(deps.codes), deps.store, handler.NewTokenIssuer(cfg.JWTSecret))
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	// Сесії виходять з присутності перед закриттям Redis
	<-hub.Done()
}
