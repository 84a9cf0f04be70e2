package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"loft/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Locks      LocksConfig      `yaml:"locks"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Booking    BookingConfig    `yaml:"booking"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LocksConfig selects the reservation lock backend.
type LocksConfig struct {
	Backend       string        `yaml:"backend"` // sqlite, redis, memory, failover
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

type PricingConfig struct {
	ServiceFeeBP int64  `yaml:"service_fee_bp"`
	Currency     string `yaml:"currency"`
}

type BookingConfig struct {
	MaxAdvanceDays int `yaml:"max_advance_days"`
	MaxNights      int `yaml:"max_nights"`
	MaxGuests      int `yaml:"max_guests"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	DefaultRole  string         `yaml:"default_role"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey maps an API key to the actor it authenticates.
type APIClientKey struct {
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
	Role    string `yaml:"role"`
	OwnerID int64  `yaml:"owner_id"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type OutboxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	UseRedisQueue bool          `yaml:"use_redis_queue"`
}

type TelegramConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BotToken     string `yaml:"bot_token"`
	ManagersChat int64  `yaml:"managers_chat"`
	Debug        bool   `yaml:"debug"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Locks.Backend {
	case "sqlite", "memory":
	case "redis", "failover":
		if c.Redis.Address == "" {
			return fmt.Errorf("locks.backend=%s requires redis.address", c.Locks.Backend)
		}
	default:
		return fmt.Errorf("unknown locks.backend %q", c.Locks.Backend)
	}

	if c.Pricing.ServiceFeeBP < 0 || c.Pricing.ServiceFeeBP > models.BasisPoints {
		return fmt.Errorf("pricing.service_fee_bp must be within 0..%d", models.BasisPoints)
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE") {
		return errors.New("telegram bot token is required")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka brokers and topic are required")
	}

	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.BookingSpreadSheetID == "") {
		return errors.New("google credentials_file and bookings_spreadsheet_id are required")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys rejects duplicate keys and unknown roles.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true

		if _, err := models.ParseRole(k.Role); err != nil {
			return fmt.Errorf("api key '%s': %w", k.Name, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "loft"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.DefaultRole == "" {
		c.API.Auth.DefaultRole = string(models.RoleGuest)
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 5
	}

	if c.Locks.Backend == "" {
		c.Locks.Backend = "sqlite"
	}
	if c.Locks.TTL == 0 {
		c.Locks.TTL = models.DefaultLockTTL
	}
	if c.Locks.SweepInterval == 0 {
		c.Locks.SweepInterval = time.Minute
	}
	if c.Locks.KeyPrefix == "" {
		c.Locks.KeyPrefix = "loft:lock"
	}

	if c.Pricing.ServiceFeeBP == 0 {
		c.Pricing.ServiceFeeBP = models.DefaultServiceFeeBP
	}
	if c.Pricing.Currency == "" {
		c.Pricing.Currency = models.DefaultCurrency
	}

	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = 365
	}
	if c.Booking.MaxNights == 0 {
		c.Booking.MaxNights = 90
	}
	if c.Booking.MaxGuests == 0 {
		c.Booking.MaxGuests = 20
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.InitialDelay == 0 {
		c.Outbox.InitialDelay = 2 * time.Second
	}
	if c.Outbox.MaxDelay == 0 {
		c.Outbox.MaxDelay = time.Minute
	}
	if c.Outbox.BackoffFactor == 0 {
		c.Outbox.BackoffFactor = 2
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}

	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
}
