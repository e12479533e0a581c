package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"summit-server/internal/achievements"
	"summit-server/internal/config"
	"summit-server/internal/content"
	"summit-server/internal/database"
	"summit-server/internal/effects"
	"summit-server/internal/engine"
	"summit-server/internal/events"
	"summit-server/internal/handler"
	"summit-server/internal/interfaces"
	"summit-server/internal/leaderboard"
	"summit-server/internal/logger"
	"summit-server/internal/maplayout"
	"summit-server/internal/memstore"
	"summit-server/internal/messaging"
	"summit-server/internal/metrics"
	"summit-server/internal/middleware"
	"summit-server/internal/service"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Summit Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutput,
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized",
		zap.String("logLevel", cfg.LogLevel),
		zap.String("storeDriver", cfg.StoreDriver),
		zap.String("summitClaimScope", cfg.SummitClaimScope),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Контент и игровое ядро ---
	registry, err := content.Load(cfg.ContentDir, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load game content", zap.Error(err))
	}
	// Эффекты контента проверяются в engine.New после регистрации пользовательских типов.
	effectHandler := effects.NewHandler(registry, nil, zapLogger)

	var overlays maplayout.OverlayStore = maplayout.NewMemoryOverlayStore()
	if cfg.MapOverlayDir != "" {
		overlays = maplayout.NewFileOverlayStore(cfg.MapOverlayDir)
	}
	layout, err := maplayout.New(registry, overlays, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build map layout", zap.Error(err))
	}

	gameEngine, err := engine.New(cfg.EngineConfig(), registry, layout, effectHandler, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create game engine", zap.Error(err))
	}
	bus := events.NewBus(events.NewRing(cfg.EventHistorySize), zapLogger)

	// --- Хранилище ---
	store, err := setupStore(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize game store", zap.Error(err))
	}
	defer store.Close()

	// --- Redis: кэш рейтинга и тираж ---
	var (
		leaderboardCache interfaces.LeaderboardCache
		stock            interfaces.StockCounter = leaderboard.NewMemoryStock()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		leaderboardCache = leaderboard.NewRedisCache(rdb, cfg.RedisKeyPrefix, zapLogger)
		stock = leaderboard.NewRedisStock(rdb, cfg.RedisKeyPrefix, zapLogger)
		zapLogger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	// --- RabbitMQ: публикация событий ---
	if cfg.RabbitMQURL != "" {
		rabbitConn, publisher, err := setupPublisher(ctx, cfg, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to set up event publisher", zap.Error(err))
		}
		defer rabbitConn.Close()
		defer publisher.Close()
		bus.AddSink(publisher)
	}

	gameMetrics := metrics.New()
	svc, err := service.New(service.Deps{
		Store:        store,
		Engine:       gameEngine,
		Achievements: achievements.NewEngine(registry, effectHandler, zapLogger),
		Layout:       layout,
		Registry:     registry,
		Bus:          bus,
		Leaderboard:  leaderboardCache,
		Stock:        stock,
		Metrics:      gameMetrics,
		Logger:       zapLogger,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create game service", zap.Error(err))
	}
	if err := svc.Init(ctx); err != nil {
		zapLogger.Fatal("Failed to initialize game service", zap.Error(err))
	}

	// --- HTTP ---
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.EchoZapLogger(zapLogger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	handler.NewGameHandler(svc, store, gameMetrics.Handler(), cfg.JWTSecret, zapLogger).RegisterRoutes(e)

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown of HTTP server failed", zap.Error(err))
	}
	zapLogger.Info("Summit Server stopped")
}

// setupStore открывает хранилище по STORE_DRIVER и применяет миграции.
func setupStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.GameStore, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memstore.New(logger), nil
	}
	pool, err := database.Connect(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to PostgreSQL", zap.String("dsn", cfg.RedactedDSN()))
	if err := database.NewMigrator(pool, logger).Up(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return database.NewPgStore(pool, logger), nil
}

func setupPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*amqp.Connection, *messaging.EventPublisher, error) {
	conn, err := messaging.Connect(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := messaging.NewEventPublisher(conn, cfg.GameEventsQueue, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info("Connected to RabbitMQ", zap.String("queue", cfg.GameEventsQueue))
	return conn, publisher, nil
}
