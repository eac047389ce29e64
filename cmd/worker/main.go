package main

import (
	"context"
	"encoding/json"
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
	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/internal/domain/services"
	syncer "github.com/athebyme/automarket-platform/internal/domain/sync"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// метрики для Prometheus
var (
	syncRunsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Количество запусков синхронизации",
	}, []string{"platform", "mode", "status"})

	syncRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_sync_run_duration_seconds",
		Help:    "Длительность запусков синхронизации",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"platform", "mode"})

	syncRecordsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_records_total",
		Help: "Счетчики записей по итогам запусков",
	}, []string{"platform", "kind"})
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
	log.Info("Инициализация воркера синхронизации",
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

	messagingClient, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()

	notifier := messaging.NewKafkaNotifier(messagingClient, cfg.Kafka.NotificationTopic)
	refs := cache.NewReferenceStore(cacheClient)

	ledger, err := loadLedger(cfg.Sync, log)
	if err != nil {
		log.Fatal("Ошибка загрузки реестра свежести", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	engines := buildEngines(cfg, db, refs, notifier, ledger, log)
	catalogService := services.NewCatalogService(db, cacheClient, engines, log)
	log.Info("Сервис каталога инициализирован",
		interfaces.LogField{Key: "platforms", Value: catalogService.Platforms()})

	runner := &syncRunner{service: catalogService, notifier: notifier, logger: log}

	// команды ручного запуска из Kafka
	unsubscribe, err := messagingClient.Subscribe(ctx, cfg.Kafka.CommandTopic, runner.handleCommand)
	if err != nil {
		log.Fatal("Ошибка подписки на команды синхронизации", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer unsubscribe()
	log.Info("Подписка на команды оформлена", interfaces.LogField{Key: "topic", Value: cfg.Kafka.CommandTopic})

	// плановые инкрементальные запуски по расписанию
	go runner.schedule(ctx, cfg.Sync.Interval, cfg.Sources)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	if err := unsubscribe(); err != nil {
		log.Error("Ошибка при отмене подписки", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	log.Info("Воркер корректно завершил работу")
}

// syncRunner выполняет запуски синхронизации по командам и расписанию
type syncRunner struct {
	service  *services.CatalogService
	notifier *messaging.KafkaNotifier
	logger   interfaces.LoggerPort
}

// handleCommand разбирает команду запуска из Kafka и выполняет ее.
// Ошибки самого запуска не возвращаются: повторная доставка команды
// не сделает неисправную ленту исправной.
func (r *syncRunner) handleCommand(ctx context.Context, msg *interfaces.Message) error {
	var req models.SyncRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		r.logger.Error("Не удалось разобрать команду синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()},
			interfaces.LogField{Key: "message_id", Value: msg.ID})
		return nil
	}

	r.run(ctx, req)
	return nil
}

// schedule запускает инкрементальную синхронизацию каждой площадки по тикеру
func (r *syncRunner) schedule(ctx context.Context, interval time.Duration, sources map[string]config.SourceConfig) {
	if interval <= 0 {
		r.logger.Warn("Интервал плановой синхронизации не задан, расписание отключено")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for tag, src := range sources {
				platform := src.Platform
				if platform == "" {
					platform = tag
				}
				r.run(ctx, models.SyncRequest{
					Mode:     models.ModeIncremental,
					Source:   src.Source,
					Platform: platform,
				})
			}
		}
	}
}

// run выполняет один запуск и снимает метрики по его итогам
func (r *syncRunner) run(ctx context.Context, req models.SyncRequest) {
	log := r.logger.WithField("platform", req.Platform)
	log.Info("Запуск синхронизации", interfaces.LogField{Key: "mode", Value: string(req.Mode)})

	started := time.Now()
	run, err := r.service.RunSync(ctx, req)
	if err != nil {
		log.Error("Запуск синхронизации отклонен", interfaces.LogField{Key: "error", Value: err.Error()})
		syncRunsCounter.WithLabelValues(req.Platform, string(req.Mode), "rejected").Inc()
		return
	}

	syncRunsCounter.WithLabelValues(run.Platform, string(run.Mode), run.Status).Inc()
	syncRunDuration.WithLabelValues(run.Platform, string(run.Mode)).Observe(time.Since(started).Seconds())
	syncRecordsCounter.WithLabelValues(run.Platform, "added").Add(float64(run.Counts.Added))
	syncRecordsCounter.WithLabelValues(run.Platform, "updated").Add(float64(run.Counts.Updated))
	syncRecordsCounter.WithLabelValues(run.Platform, "removed").Add(float64(run.Counts.Removed))
	syncRecordsCounter.WithLabelValues(run.Platform, "skipped").Add(float64(run.Counts.Skipped))
	syncRecordsCounter.WithLabelValues(run.Platform, "errors").Add(float64(run.Counts.Errors))

	if err := r.notifier.RunFinished(ctx, run); err != nil {
		log.Warn("Не удалось опубликовать итог запуска",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	log.Info("Запуск синхронизации завершен",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "status", Value: run.Status},
		interfaces.LogField{Key: "added", Value: run.Counts.Added},
		interfaces.LogField{Key: "updated", Value: run.Counts.Updated},
		interfaces.LogField{Key: "removed", Value: run.Counts.Removed},
		interfaces.LogField{Key: "skipped", Value: run.Counts.Skipped},
		interfaces.LogField{Key: "errors", Value: run.Counts.Errors})
}

// loadLedger читает снапшот реестра свежести, если путь задан
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
