package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"staybook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	API        APIConfig        `yaml:"api"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Booking    BookingConfig    `yaml:"booking"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Payment    PaymentConfig    `yaml:"payment"`
	Listing    ListingConfig    `yaml:"listing"`
	Notify     NotifyConfig     `yaml:"notify"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
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
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a libpq-style URL for pgx.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.DBName,
	}
	q := u.Query()
	q.Set("sslmode", p.SSLMode)
	if p.MaxConnections > 0 {
		q.Set("pool_max_conns", fmt.Sprint(p.MaxConnections))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type BookingConfig struct {
	PaymentWindow time.Duration `yaml:"payment_window"`
	MaxNights     int           `yaml:"max_nights"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`

	// CancelNotice закрывает отмену оплаченной брони ближе чем за N до заезда; 0 = без ограничений.
	CancelNotice time.Duration `yaml:"cancel_notice"`
}

type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	// Asynq schedules a precise expiry task per hold in addition to the ticker.
	Asynq bool `yaml:"asynq"`
}

const (
	PaymentProviderFake   = "fake"
	PaymentProviderStripe = "stripe"
)

type PaymentConfig struct {
	Provider      string        `yaml:"provider"`
	SecretKey     string        `yaml:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	APIURL        string        `yaml:"api_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type ListingConfig struct {
	BaseURL    string           `yaml:"base_url"`
	APIKey     string           `yaml:"api_key"`
	APIExtra   string           `yaml:"api_extra"`
	Timeout    time.Duration    `yaml:"timeout"`
	CacheTTL   time.Duration    `yaml:"cache_ttl"`
	Properties []models.Listing `yaml:"properties"`
}

type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
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

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Payment.Provider {
	case PaymentProviderFake:
	case PaymentProviderStripe:
		if c.Payment.SecretKey == "" {
			return errors.New("stripe secret key is required")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	if c.Notify.Enabled && (c.Notify.BotToken == "" || c.Notify.ChatID == 0) {
		return errors.New("notify requires bot_token and chat_id")
	}

	if c.Booking.MaxNights < 1 || c.Booking.MaxNights > models.DefaultMaxNights {
		return fmt.Errorf("booking max_nights must be within 1..%d", models.DefaultMaxNights)
	}
	if c.Booking.MaxAttempts < 1 {
		return errors.New("booking max_attempts must be at least 1")
	}
	if c.Cache.TTL <= 0 || c.Cache.TTL > models.DefaultCacheTTL {
		return fmt.Errorf("cache ttl must be within (0, %s]", models.DefaultCacheTTL)
	}

	if c.Booking.BackoffCap < c.Booking.BackoffBase {
		return errors.New("booking backoff_cap must not be below backoff_base")
	}

	return ValidateListings(c.Listing.Properties)
}

func ValidateListings(listings []models.Listing) error {
	seen := make(map[string]bool)
	for _, l := range listings {
		if l.PropertyID == "" {
			return errors.New("listing with empty property_id")
		}
		if l.OwnerID == "" {
			return fmt.Errorf("listing %s has no owner_id", l.PropertyID)
		}
		if l.NightlyRate <= 0 {
			return fmt.Errorf("listing %s has non-positive nightly_rate", l.PropertyID)
		}
		if seen[l.PropertyID] {
			return fmt.Errorf("duplicate property_id found: %s", l.PropertyID)
		}
		seen[l.PropertyID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "staybook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = models.DefaultCacheTTL
	}

	// Booking defaults
	if c.Booking.PaymentWindow == 0 {
		c.Booking.PaymentWindow = models.DefaultPaymentWindow
	}
	if c.Booking.MaxNights == 0 {
		c.Booking.MaxNights = models.DefaultMaxNights
	}
	if c.Booking.MaxAttempts == 0 {
		c.Booking.MaxAttempts = models.DefaultCreateAttempts
	}
	if c.Booking.BackoffBase == 0 {
		c.Booking.BackoffBase = models.DefaultBackoffBase
	}
	if c.Booking.BackoffCap == 0 {
		c.Booking.BackoffCap = models.DefaultBackoffCap
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = models.DefaultSweepInterval
	}
	if c.Sweeper.BatchSize == 0 {
		c.Sweeper.BatchSize = models.DefaultSweepBatch
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = PaymentProviderFake
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}

	if c.Listing.Timeout == 0 {
		c.Listing.Timeout = 5 * time.Second
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "./backups"
	}
}
