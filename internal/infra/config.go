package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Режимы исполнения. От режима зависит строгость проверки целостности
// артефактов: в production отсутствие манифеста хэшей — фатальная ошибка.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config — корневая структура конфигурации serving-рантайма.
type Config struct {
	Mode      string          `mapstructure:"mode"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Models    ModelsConfig    `mapstructure:"models"`
	Storage   StorageConfig   `mapstructure:"storage"`
	ABTest    ABTestConfig    `mapstructure:"abtest"`
	Drift     DriftConfig     `mapstructure:"drift"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig — отдельный listener для Prometheus.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuthConfig: API-ключ закрывает predict-периметр, RS256 публичный ключ —
// операторский. Пустое значение = периметр открыт (development mode).
type AuthConfig struct {
	APIKey        string `mapstructure:"api_key"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// RateLimitConfig — лимиты скользящих окон на клиента.
type RateLimitConfig struct {
	PerSecond int `mapstructure:"per_second"`
	PerMinute int `mapstructure:"per_minute"`
}

// ModelEntry — один логический слот в реестре моделей.
type ModelEntry struct {
	Kind    string `mapstructure:"kind"` // "artifact" или "http"
	File    string `mapstructure:"file"` // имя артефакта в models.dir
	URL     string `mapstructure:"url"`  // endpoint для kind=http
	Version string `mapstructure:"version"`
}

// ModelsConfig описывает каталог артефактов и набор логических моделей.
type ModelsConfig struct {
	Dir            string                `mapstructure:"dir"`
	Default        string                `mapstructure:"default"`
	ManifestFile   string                `mapstructure:"manifest_file"` // манифест sha256-хэшей
	PredictTimeout time.Duration         `mapstructure:"predict_timeout"`
	Entries        map[string]ModelEntry `mapstructure:"entries"`
}

// StorageConfig выбирает реализацию durable-хранилища.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // file | postgres | redis
	Dir         string `mapstructure:"dir"`
	PostgresURL string `mapstructure:"postgres_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPass   string `mapstructure:"redis_password"`
	RedisDB     int    `mapstructure:"redis_db"`
}

// ABTestConfig — параметры менеджера A/B-тестов.
type ABTestConfig struct {
	// Лог прогнозов сбрасывается в хранилище каждые FlushEvery записей.
	// Плата — до FlushEvery-1 потерянных записей при жестком падении.
	FlushEvery int `mapstructure:"flush_every"`
}

// DriftConfig — параметры статистики дрифт-монитора.
type DriftConfig struct {
	Bins    int     `mapstructure:"bins"`
	KSAlpha float64 `mapstructure:"ks_alpha"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя файл, ENV и дефолты.
// Схема проверяется сразу: лучше упасть на старте, чем ловить nil глубоко
// в пайплайне предсказания.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if len(cfg.Models.Entries) == 0 {
		cfg.Models.Entries = defaultModelEntries()
	}

	// Публичный ключ: либо PEM прямо в ENV (Docker/K8s), либо файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate — fail-fast проверка схемы после маппинга.
func (c *Config) Validate() error {
	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return fmt.Errorf("config: mode must be %q or %q, got %q",
			ModeProduction, ModeDevelopment, c.Mode)
	}
	if c.RateLimit.PerSecond < 1 || c.RateLimit.PerMinute < 1 {
		return fmt.Errorf("config: rate limits must be positive (got %d/s, %d/min)",
			c.RateLimit.PerSecond, c.RateLimit.PerMinute)
	}
	if c.ABTest.FlushEvery < 1 {
		return fmt.Errorf("config: abtest.flush_every must be positive, got %d", c.ABTest.FlushEvery)
	}
	if c.Drift.Bins < 2 {
		return fmt.Errorf("config: drift.bins must be at least 2, got %d", c.Drift.Bins)
	}
	if c.Drift.KSAlpha <= 0 || c.Drift.KSAlpha >= 1 {
		return fmt.Errorf("config: drift.ks_alpha must be in (0,1), got %g", c.Drift.KSAlpha)
	}
	switch c.Storage.Driver {
	case "file", "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if _, ok := c.Models.Entries[c.Models.Default]; !ok {
		return fmt.Errorf("config: default model %q is not declared in models.entries", c.Models.Default)
	}
	for name, e := range c.Models.Entries {
		switch e.Kind {
		case "artifact":
			if e.File == "" {
				return fmt.Errorf("config: model %q: artifact kind requires file", name)
			}
		case "http":
			if e.URL == "" {
				return fmt.Errorf("config: model %q: http kind requires url", name)
			}
		default:
			return fmt.Errorf("config: model %q: unknown kind %q", name, e.Kind)
		}
	}
	return nil
}

// IsProduction — строгий режим: целостность артефактов обязательна.
func (c *Config) IsProduction() bool { return c.Mode == ModeProduction }

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeDevelopment)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", int64(10<<20)) // 10 MB
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("ratelimit.per_second", 20)
	v.SetDefault("ratelimit.per_minute", 120)
	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.default", "clinical")
	v.SetDefault("models.manifest_file", "model_hashes.json")
	v.SetDefault("models.predict_timeout", 10*time.Second)
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "./data/monitoring")
	v.SetDefault("abtest.flush_every", 10)
	v.SetDefault("drift.bins", 10)
	v.SetDefault("drift.ks_alpha", 0.05)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func defaultModelEntries() map[string]ModelEntry {
	return map[string]ModelEntry{
		"clinical": {Kind: "artifact", File: "clinical.json", Version: "clinical-v1"},
		"ada":      {Kind: "artifact", File: "ada.json", Version: "ada-v1"},
	}
}

// loadKeyResource — ключ либо прилетает напрямую в ENV, либо читается из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
