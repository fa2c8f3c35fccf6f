package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jinzhu/configor"
	"github.com/joho/godotenv"
)

// DefaultFile is read when LOANMATCH_CONFIG is unset and the file exists.
const DefaultFile = "config/config.yml"

type Config struct {
	App     AppConfig
	DB      DBConfig
	Upload  UploadConfig
	Webhook WebhookConfig
	Redis   RedisConfig
	Watch   WatchConfig
}

type AppConfig struct {
	Name     string `default:"loanmatch" env:"APP_NAME"`
	Env      string `default:"development" env:"APP_ENV"`
	Port     int    `default:"8081" env:"APP_PORT"`
	LogLevel string `default:"info" env:"LOG_LEVEL"`
}

type DBConfig struct {
	// DSN wins over the discrete fields when set.
	DSN          string `env:"DB_DSN"`
	Host         string `default:"localhost" env:"DB_HOST"`
	Port         uint   `default:"5432" env:"DB_PORT"`
	Name         string `default:"loanmatch" env:"DB_NAME"`
	User         string `default:"postgres" env:"DB_USER"`
	Password     string `env:"DB_PASSWORD"`
	SSLMode      string `default:"disable" env:"DB_SSLMODE"`
	AutoMigrate  bool   `default:"true" env:"DB_AUTO_MIGRATE"`
	MaxOpenConns int    `default:"10" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `default:"5" env:"DB_MAX_IDLE_CONNS"`
}

type UploadConfig struct {
	MaxBytes         int64 `default:"10485760" env:"UPLOAD_MAX_BYTES"`
	ErrorLogLimit    int   `default:"100" env:"UPLOAD_ERROR_LOG_LIMIT"`
	ErrorSampleLimit int   `default:"10" env:"UPLOAD_ERROR_SAMPLE_LIMIT"`
}

type WebhookConfig struct {
	BaseURL       string        `env:"MATCHER_WEBHOOK_URL"`
	Timeout       time.Duration `default:"5s" env:"MATCHER_WEBHOOK_TIMEOUT"`
	SigningSecret string        `env:"MATCHER_SIGNING_SECRET"`
}

type RedisConfig struct {
	// Empty Addr disables the summary cache.
	Addr       string        `env:"REDIS_ADDR"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `default:"0" env:"REDIS_DB"`
	SummaryTTL time.Duration `default:"30s" env:"REDIS_SUMMARY_TTL"`
}

type WatchConfig struct {
	Dir      string        `default:"inbox" env:"WATCH_DIR"`
	Debounce time.Duration `default:"300ms" env:"WATCH_DEBOUNCE"`
}

// Load reads ./.env (without overriding the real environment), then the
// optional config file, then environment variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var files []string
	if path := strings.TrimSpace(os.Getenv("LOANMATCH_CONFIG")); path != "" {
		files = append(files, path)
	} else if _, err := os.Stat(DefaultFile); err == nil {
		files = append(files, DefaultFile)
	}

	var cfg Config
	if err := configor.New(&configor.Config{ENVPrefix: "-"}).Load(&cfg, files...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// PostgresDSN returns DB.DSN or builds a keyword/value DSN from the discrete fields.
func (c DBConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + c.Name,
		"user=" + c.User,
		"sslmode=" + c.SSLMode,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	return strings.Join(parts, " ")
}

// Addr is the HTTP listen address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
