package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/automarket-platform/config"
	"github.com/athebyme/automarket-platform/internal/adapters/cache"
	"github.com/athebyme/automarket-platform/internal/adapters/logger"
	"github.com/athebyme/automarket-platform/internal/adapters/messaging"
	postgres "github.com/athebyme/automarket-platform/internal/adapters/storage"
	"github.com/athebyme/automarket-platform/internal/api"
	"github.com/athebyme/automarket-platform/internal/domain/services"
	syncer "github.com/athebyme/automarket-platform/internal/domain/sync"
	"github.com/athebyme/automarket-platform/internal/security"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// метрики для Prometheus
var (
	httpDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_durations_seconds",
		Help:    "Длительность HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Общее количество HTTP запросов",
	}, []string{"path", "method", "status"})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_active_requests",
		Help: "Количество активных HTTP запросов",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	postgresCon, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		fmt.Printf("Ошибка инициализации строки подключения базы: %v\n", err)
		os.Exit(1)
	}

	db, err := postgres.NewPostgresStorage(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer db.Close()
	log.Info("Хранилище инициализировано")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	notifier := messaging.NewKafkaNotifier(messagingClient, cfg.Kafka.NotificationTopic)
	refs := cache.NewReferenceStore(cacheClient)

	ledger, err := loadLedger(cfg.Sync, log)
	if err != nil {
		log.Fatal("Ошибка загрузки реестра свежести", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	engines := buildEngines(cfg, db, refs, notifier, ledger, log)
	log.Info("Движки синхронизации настроены", interfaces.LogField{Key: "platforms", Value: len(engines)})

	catalogService := services.NewCatalogService(db, cacheClient, engines, log)
	log.Info("Сервис каталога инициализирован")

	publicKeyPEM, err := os.ReadFile(cfg.Security.JWTPublicKeyFile)
	if err != nil {
		log.Fatal("Ошибка чтения публичного ключа JWT", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	jwtManager, err := security.NewJWTValidator(publicKeyPEM, cfg.Security.JWTIssuer)
	if err != nil {
		log.Fatal("Ошибка инициализации JWT", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	router := api.SetupRouter(catalogService, log, cfg.Security.CORSAllowOrigins, jwtManager)
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metricsMux,
		}
		go func() {
			log.Info("Сервер метрик запущен", interfaces.LogField{Key: "address", Value: metricsServer.Addr})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Ошибка сервера метрик", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}

		log.Info("HTTP сервер остановлен")

		if err := messagingClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Kafka",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := db.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}

// loadLedger читает снапшот реестра свежести, если путь задан.
// Без снапшота движок работает с пустым реестром: записи без
// подтвержденных изображений будут пропускаться как невалидные.
func loadLedger(cfg config.SyncConfig, log interfaces.LoggerPort) (*syncer.FreshnessLedger, error) {
	if cfg.LedgerPath == "" {
		log.Warn("Путь к реестру свежести не задан, используется пустой реестр")
		return syncer.NewFreshnessLedger(cfg.LedgerRetention), nil
	}

	f, err := os.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть снапшот реестра: %w", err)
	}
	defer f.Close()

	ledger, err := syncer.LoadFreshnessLedger(f, cfg.LedgerRetention, time.Now())
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать снапшот реестра: %w", err)
	}

	log.Info("Реестр свежести загружен",
		interfaces.LogField{Key: "path", Value: cfg.LedgerPath},
		interfaces.LogField{Key: "entries", Value: ledger.Len()})
	return ledger, nil
}

// buildEngines собирает движок синхронизации для каждой настроенной площадки
func buildEngines(
	cfg *config.Config,
	db *postgres.CatalogStorage,
	refs syncer.ReferenceStore,
	notifier syncer.Notifier,
	ledger *syncer.FreshnessLedger,
	log interfaces.LoggerPort,
) map[string]*syncer.Engine {
	engines := make(map[string]*syncer.Engine, len(cfg.Sources))
	vocab := syncer.DefaultVocabulary()

	for tag, src := range cfg.Sources {
		if src.Platform == "" {
			src.Platform = tag
		}

		feed := syncer.NewFeedClient(src.BaseURL, src.APIKey, 20*time.Second)
		resolver := syncer.NewAssetResolver(ledger, cfg.Sync.PermanentAssetHost, cfg.Sync.BlockedCDNHosts)
		normalizer := syncer.NewNormalizer(src, vocab)

		engines[src.Platform] = syncer.NewEngine(
			feed, db, refs, notifier, resolver, normalizer, log, cfg.Sync, src,
		)
	}

	return engines
}
