package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"summit-server/internal/engine"
	"summit-server/internal/models"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// DefaultSecretsDir - стандартный путь Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// Config содержит конфигурацию игрового сервера
type Config struct {
	// Настройки сервера
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutput   string `envconfig:"LOG_OUTPUT_PATH"`

	// Хранилище: postgres или memory
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"summit"`
	DBName        string        `envconfig:"DB_NAME" default:"summit"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string `ignored:"true"`

	// Redis: пустой адрес отключает кэш рейтинга, тираж считается в памяти
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"summit"`
	RedisPassword  string `ignored:"true"`

	// RabbitMQ: пустой URL отключает публикацию событий
	RabbitMQURL     string `envconfig:"RABBITMQ_URL"`
	GameEventsQueue string `envconfig:"GAME_EVENTS_QUEUE" default:"game_events"`

	// Контент и карта
	ContentDir       string `envconfig:"CONTENT_DIR"`
	MapOverlayDir    string `envconfig:"MAP_OVERLAY_DIR"`
	EventHistorySize int    `envconfig:"EVENT_HISTORY_SIZE" default:"1000"`

	// Правила
	SummitClaimScope  string `envconfig:"SUMMIT_CLAIM_SCOPE" default:"session"`
	DiceCost          int    `envconfig:"DICE_COST" default:"10"`
	FirstSummitBonus  int    `envconfig:"FIRST_SUMMIT_BONUS" default:"20"`
	RepeatTrapPenalty int    `envconfig:"REPEAT_TRAP_PENALTY" default:"10"`
	InitialScore      int    `envconfig:"INITIAL_SCORE" default:"20"`

	SecretsDir string `envconfig:"SECRETS_DIR" default:"/run/secrets"`
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string `ignored:"true"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN - DSN без пароля для логов.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// EngineConfig - правила движка из конфигурации.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DiceCost:          c.DiceCost,
		FirstSummitBonus:  c.FirstSummitBonus,
		RepeatTrapPenalty: c.RepeatTrapPenalty,
		InitialScore:      c.InitialScore,
		SummitClaimScope:  c.SummitClaimScope,
	}
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: ошибка загрузки конфигурации: %v", models.ErrConfig, err)
	}

	var loadErr error
	cfg.JWTSecret, loadErr = ReadSecret(cfg.SecretsDir, "jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}
	if cfg.StoreDriver == StoreDriverPostgres {
		cfg.DBPassword, loadErr = ReadSecret(cfg.SecretsDir, "db_password")
		if loadErr != nil {
			return nil, loadErr
		}
	}
	if cfg.RedisAddr != "" {
		// пароль redis необязателен
		cfg.RedisPassword, _ = ReadSecret(cfg.SecretsDir, "redis_password")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые envconfig не может проверить сам.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.SummitClaimScope {
	case engine.SummitScopeSession, engine.SummitScopeWorld:
	default:
		errs = append(errs, fmt.Errorf("unknown SUMMIT_CLAIM_SCOPE %q", c.SummitClaimScope))
	}
	if c.DiceCost < 0 {
		errs = append(errs, errors.New("DICE_COST must not be negative"))
	}
	if c.InitialScore < 0 {
		errs = append(errs, errors.New("INITIAL_SCORE must not be negative"))
	}
	if c.EventHistorySize < 1000 {
		errs = append(errs, errors.New("EVENT_HISTORY_SIZE must be at least 1000"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfig, err)
	}
	return nil
}

// ReadSecret читает секрет из файла в каталоге секретов. Если файла нет,
// используется переменная окружения с именем секрета в верхнем регистре
// (только для локальной разработки).
func ReadSecret(dir, name string) (string, error) {
	if dir == "" {
		dir = DefaultSecretsDir
	}
	filePath := filepath.Join(dir, name)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		if v := strings.TrimSpace(os.Getenv(strings.ToUpper(name))); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("%w: failed to read secret file %s: %v", models.ErrConfig, filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("%w: secret file %s is empty", models.ErrConfig, filePath)
	}
	return secret, nil
}
