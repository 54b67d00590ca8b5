// Package config loads runtime settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds runtime settings for the bot.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	HTTP       HTTPConfig       `yaml:"http"`
	Conversion ConversionConfig `yaml:"conversion"`
	Calibre    CalibreConfig    `yaml:"calibre"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Access     AccessConfig     `yaml:"access"`
	Log        LogConfig        `yaml:"log"`
}

type TelegramConfig struct {
	Token         string        `yaml:"token"`
	BaseURL       string        `yaml:"base_url"`
	Mode          string        `yaml:"mode"`
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	APIToken        string        `yaml:"api_token"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ConversionConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`
	MaxUnpackedMB   int           `yaml:"max_unpacked_mb"`
	ConvertTimeout  time.Duration `yaml:"convert_timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	DiagnosticLimit int           `yaml:"diagnostic_limit"`
	ExtractCover    bool          `yaml:"extract_cover"`
	WorkDir         string        `yaml:"work_dir"`
	SecondsPerJob   int           `yaml:"seconds_per_job"`
}

type CalibreConfig struct {
	ConvertBin    string              `yaml:"convert_bin"`
	MetaBin       string              `yaml:"meta_bin"`
	OutputProfile string              `yaml:"output_profile"`
	Margin        string              `yaml:"margin"`
	ExtraCSS      string              `yaml:"extra_css"`
	PassCover     bool                `yaml:"pass_cover"`
	FormatFlags   map[string][]string `yaml:"format_flags"`
	ExtraArgs     []string            `yaml:"extra_args"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AccessConfig struct {
	AllowedUsers  []int64 `yaml:"allowed_users"`
	AdminUsers    []int64 `yaml:"admin_users"`
	AllowlistFile string  `yaml:"allowlist_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads the YAML file (optional), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the settings the bot runs with out of the box.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			BaseURL:       "https://api.telegram.org",
			Mode:          ModePolling,
			PollTimeout:   30 * time.Second,
			RatePerSecond: 25,
			Burst:         5,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Conversion: ConversionConfig{
			QueueCapacity:   5,
			MaxUploadMB:     20,
			MaxUnpackedMB:   100,
			ConvertTimeout:  180 * time.Second,
			MetadataTimeout: 30 * time.Second,
			RestartDelay:    5 * time.Second,
			DiagnosticLimit: 500,
			ExtractCover:    true,
			WorkDir:         "./tmp/work",
			SecondsPerJob:   25,
		},
		Calibre: CalibreConfig{
			ConvertBin:    "ebook-convert",
			MetaBin:       "ebook-meta",
			OutputProfile: "kindle_pw3",
			Margin:        "0",
			ExtraCSS:      "body { font-family: serif; line-height: 1.4; }",
			PassCover:     true,
			FormatFlags: map[string][]string{
				"mobi": {"--mobi-keep-original-images"},
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "./data/settings.db"},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        7 * 24 * time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "kg:",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   "./logs/bot.log",
		},
	}
}

// Validate checks the configuration for errors. The bot token is checked
// separately by RequireToken since offline commands do not need it.
func (c *Config) Validate() error {
	if c.Telegram.Mode != ModePolling && c.Telegram.Mode != ModeWebhook {
		return fmt.Errorf("invalid telegram mode: %s", c.Telegram.Mode)
	}
	if c.Telegram.Mode == ModeWebhook {
		if c.Telegram.WebhookURL == "" {
			return errors.New("telegram.webhook_url is required in webhook mode")
		}
		if !c.HTTP.Enabled {
			return errors.New("webhook mode needs the http server enabled")
		}
	}
	if c.Conversion.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive: %d", c.Conversion.QueueCapacity)
	}
	if c.Conversion.MaxUploadMB < 1 || c.Conversion.MaxUploadMB > 2000 {
		return fmt.Errorf("max_upload_mb must be between 1 and 2000: %d", c.Conversion.MaxUploadMB)
	}
	if c.Conversion.ConvertTimeout <= 0 {
		return errors.New("convert_timeout must be positive")
	}
	if strings.TrimSpace(c.Conversion.WorkDir) == "" || c.Conversion.WorkDir == "/" || c.Conversion.WorkDir == "." {
		return fmt.Errorf("invalid work_dir: %q", c.Conversion.WorkDir)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return errors.New("database.postgres.dsn is required for postgres")
	}
	if c.Cache.Driver != "none" && c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

// RequireToken fails when no bot token is configured.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram bot token is required (TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// MaxUploadBytes converts the upload ceiling to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Conversion.MaxUploadMB) << 20
}

// MaxUnpackedBytes converts the archive ceiling to bytes.
func (c *Config) MaxUnpackedBytes() int64 {
	return int64(c.Conversion.MaxUnpackedMB) << 20
}

func applyEnvOverrides(cfg *Config) {
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", getEnv("KINDLEGARDEN_TELEGRAM_TOKEN", cfg.Telegram.Token))
	cfg.Telegram.Mode = getEnv("KINDLEGARDEN_TELEGRAM_MODE", cfg.Telegram.Mode)
	cfg.Telegram.WebhookURL = getEnv("KINDLEGARDEN_WEBHOOK_URL", cfg.Telegram.WebhookURL)
	cfg.Telegram.WebhookSecret = getEnv("KINDLEGARDEN_WEBHOOK_SECRET", cfg.Telegram.WebhookSecret)

	cfg.HTTP.Addr = getEnv("KINDLEGARDEN_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.APIToken = getEnv("KINDLEGARDEN_API_TOKEN", cfg.HTTP.APIToken)

	cfg.Conversion.QueueCapacity = getEnvInt("KINDLEGARDEN_QUEUE_CAPACITY", cfg.Conversion.QueueCapacity)
	cfg.Conversion.MaxUploadMB = getEnvInt("KINDLEGARDEN_MAX_UPLOAD_MB", cfg.Conversion.MaxUploadMB)
	cfg.Conversion.WorkDir = getEnv("KINDLEGARDEN_WORK_DIR", cfg.Conversion.WorkDir)
	if secs := getEnvInt("KINDLEGARDEN_CONVERT_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.Conversion.ConvertTimeout = time.Duration(secs) * time.Second
	}

	cfg.Calibre.ConvertBin = getEnv("KINDLEGARDEN_EBOOK_CONVERT", cfg.Calibre.ConvertBin)
	cfg.Calibre.MetaBin = getEnv("KINDLEGARDEN_EBOOK_META", cfg.Calibre.MetaBin)

	if v := getEnv("DATABASE_URL", ""); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := getEnv("REDIS_URL", ""); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	cfg.Cache.Driver = getEnv("KINDLEGARDEN_CACHE_DRIVER", cfg.Cache.Driver)

	if v := getEnv("KINDLEGARDEN_ALLOWED_USERS", ""); v != "" {
		cfg.Access.AllowedUsers = parseIDs(v)
	}
	if v := getEnv("KINDLEGARDEN_ADMIN_USERS", ""); v != "" {
		cfg.Access.AdminUsers = parseIDs(v)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out int
	_, err := fmt.Sscanf(value, "%d", &out)
	if err != nil || out <= 0 {
		return fallback
	}
	return out
}

// parseIDs reads a comma separated list of numeric ids, skipping junk.
func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
