package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Skufu/DianaV2/internal/abtest"
	"github.com/Skufu/DianaV2/internal/drift"
	"github.com/Skufu/DianaV2/internal/engine"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/infra/auth"
	"github.com/Skufu/DianaV2/internal/ratelimit"
	"github.com/Skufu/DianaV2/internal/registry"
	"github.com/Skufu/DianaV2/internal/server"
	"github.com/Skufu/DianaV2/internal/server/handler"
	"github.com/Skufu/DianaV2/internal/storage"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := buildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting serving runtime",
		zap.String("mode", cfg.Mode),
		zap.String("storage", cfg.Storage.Driver))

	// Контекст инициализации (restore состояния из хранилища)
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Durable-хранилище
	store, cleanup, err := buildStore(appCtx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer cleanup()

	// 3. Компоненты рантайма
	reg := registry.New(cfg.Models, cfg.IsProduction(), logger)
	limiter := ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.PerMinute)

	manager, err := abtest.NewManager(appCtx, store, cfg.ABTest, logger)
	if err != nil {
		logger.Fatal("abtest manager init failed", zap.Error(err))
	}

	monitor, err := drift.NewMonitor(appCtx, store, cfg.Drift, logger)
	if err != nil {
		logger.Fatal("drift monitor init failed", zap.Error(err))
	}

	// Метрики
	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)

	core := engine.New(limiter, reg, manager, monitor, cfg.Models, metrics, logger)
	core.SyncAlertGauge()

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		logger.Info("metrics listener started", zap.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 4. Операторский периметр: RS256 валидатор, если ключ сконфигурирован
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid operator public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	} else {
		logger.Warn("operator perimeter is open: no public key configured")
	}

	// 5. HTTP Server
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.NewServer(
			cfg,
			logger,
			validator,
			handler.NewPredictHandler(core, logger),
			handler.NewABTestHandler(core.ABTests(), logger),
			handler.NewMonitoringHandler(core.Drift(), core.SyncAlertGauge, logger),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("serving runtime started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("serving runtime stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Сбрасываем несохраненный хвост лога прогнозов
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("prediction log drain failed", zap.Error(err))
	}
	logger.Info("serving runtime exited properly")
}

// buildStore выбирает реализацию durable-хранилища по конфигу
func buildStore(ctx context.Context, cfg *infra.Config) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.NewPostgresStore(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, noop, err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return nil, noop, err
		}
		return pg, func() { pg.Close() }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPass,
			DB:       cfg.Storage.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, noop, err
		}
		return storage.NewRedisStore(rdb, infra.RedisKeyPrefix), func() { rdb.Close() }, nil
	default:
		fs, err := storage.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	}
}

// buildLogger собирает zap так, как настроено в конфиге
func buildLogger(cfg infra.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
