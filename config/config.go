package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
	}

	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		GroupID           string   `mapstructure:"group_id"`
		NotificationTopic string   `mapstructure:"notification_topic"`
		CommandTopic      string   `mapstructure:"command_topic"`
	}

	Metrics struct {
		Enabled bool
		Port    int `mapstructure:"port"`
	}

	Security struct {
		JWTPublicKeyFile  string
		JWTPrivateKeyFile string
		JWTIssuer         string
		JWTExpiration     time.Duration
		CORSAllowOrigins  []string
	}

	Sync SyncConfig

	// Sources описывает подключенные вендорские площадки по тегу платформы
	Sources map[string]SourceConfig
}

// SyncConfig содержит общие параметры движка синхронизации
type SyncConfig struct {
	BatchSize       int           // размер батча апсерта
	RequestDelay    time.Duration // обязательная пауза между запросами к вендору
	PageBudget      int           // бюджет страниц по умолчанию
	TimeBudget      time.Duration // бюджет времени одного запуска
	LedgerRetention time.Duration // окно доверия записям реестра свежести
	LedgerPath      string        // путь к снапшоту реестра свежести
	Interval        time.Duration // период плановых запусков воркера

	PermanentAssetHost string   // хост собственного постоянного хранилища изображений
	BlockedCDNHosts    []string // CDN-хосты, отклоняющие запросы вне своей географии
}

// SourceConfig описывает одну вендорскую площадку
type SourceConfig struct {
	Source    string  `mapstructure:"source"`   // рынок: china, japan, korea
	Platform  string  `mapstructure:"platform"` // тег площадки внутри рынка
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	Currency  string  `mapstructure:"currency"`    // валюта цен вендора
	RateToUSD float64 `mapstructure:"rate_to_usd"` // статический курс к расчетной валюте
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	// Получаем окружение
	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	if err := cfg.validateSources(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateSources проверяет конфигурацию площадок.
// Отсутствие учетных данных вендора — единственная ошибка, фатальная
// до начала любой работы.
func (c *Config) validateSources() error {
	for tag, src := range c.Sources {
		if src.APIKey == "" {
			return fmt.Errorf("площадка %s: не задан api_key", tag)
		}
		if src.BaseURL == "" {
			return fmt.Errorf("площадка %s: не задан base_url", tag)
		}
		if src.Source == "" {
			return fmt.Errorf("площадка %s: не задан source", tag)
		}
		if src.RateToUSD <= 0 {
			return fmt.Errorf("площадка %s: некорректный rate_to_usd", tag)
		}
	}
	return nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "catalog-sync-service")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "catalog")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupID", "catalog-sync-service")
	viper.SetDefault("kafka.notificationTopic", "listing-events")
	viper.SetDefault("kafka.commandTopic", "sync-commands")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	viper.SetDefault("security.jwtPublicKeyFile", "keys/jwt_public.pem")
	viper.SetDefault("security.jwtPrivateKeyFile", "")
	viper.SetDefault("security.jwtIssuer", "automarket-platform")
	viper.SetDefault("security.jwtExpiration", "60m")
	viper.SetDefault("security.corsAllowOrigins", []string{"*"})

	// Настройки синхронизации
	viper.SetDefault("sync.batchSize", 50)
	viper.SetDefault("sync.requestDelay", "50ms")
	viper.SetDefault("sync.pageBudget", 200)
	viper.SetDefault("sync.timeBudget", "10m")
	viper.SetDefault("sync.ledgerRetention", "144h") // 6 суток
	viper.SetDefault("sync.ledgerPath", "")
	viper.SetDefault("sync.interval", "1h")
	viper.SetDefault("sync.permanentAssetHost", "assets.automarket.internal")
	viper.SetDefault("sync.blockedCDNHosts", []string{})
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.notificationTopic", "KAFKA_NOTIFICATION_TOPIC")
	viper.BindEnv("kafka.commandTopic", "KAFKA_COMMAND_TOPIC")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	viper.BindEnv("security.jwtPublicKeyFile", "JWT_PUBLIC_KEY_FILE")
	viper.BindEnv("security.jwtPrivateKeyFile", "JWT_PRIVATE_KEY_FILE")
	viper.BindEnv("security.jwtIssuer", "JWT_ISSUER")
	viper.BindEnv("security.jwtExpiration", "JWT_EXPIRATION")
	viper.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")

	// Настройки синхронизации
	viper.BindEnv("sync.batchSize", "SYNC_BATCH_SIZE")
	viper.BindEnv("sync.requestDelay", "SYNC_REQUEST_DELAY")
	viper.BindEnv("sync.pageBudget", "SYNC_PAGE_BUDGET")
	viper.BindEnv("sync.timeBudget", "SYNC_TIME_BUDGET")
	viper.BindEnv("sync.ledgerRetention", "SYNC_LEDGER_RETENTION")
	viper.BindEnv("sync.ledgerPath", "SYNC_LEDGER_PATH")
	viper.BindEnv("sync.interval", "SYNC_INTERVAL")
	viper.BindEnv("sync.permanentAssetHost", "SYNC_PERMANENT_ASSET_HOST")
	viper.BindEnv("sync.blockedCDNHosts", "SYNC_BLOCKED_CDN_HOSTS")
}
