package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Notification NotificationConfig `mapstructure:"notification"`
	System       SystemConfig       `mapstructure:"system"`
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds token verification settings. Tokens are issued elsewhere.
type AuthConfig struct {
	JWTSecret   string   `mapstructure:"jwt_secret"`
	Issuer      string   `mapstructure:"issuer"`
	AdminEmails []string `mapstructure:"admin_emails"`
}

// RealtimeConfig holds websocket and fan-out settings.
type RealtimeConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	QueueSize      int           `mapstructure:"queue_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	RelayEnabled   bool          `mapstructure:"relay_enabled"`
	RelayChannel   string        `mapstructure:"relay_channel"`
}

// NotificationConfig holds email side-channel settings.
type NotificationConfig struct {
	EmailEnabled   bool          `mapstructure:"email_enabled"`
	FromAddress    string        `mapstructure:"from_address"`
	Queue          string        `mapstructure:"queue"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRetry       int           `mapstructure:"max_retry"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	RunWorker      bool          `mapstructure:"run_worker"`
}

// SystemConfig holds maintenance flag and background job settings.
type SystemConfig struct {
	MaintenanceTTL     time.Duration `mapstructure:"maintenance_ttl"`
	InvalidateChannel  string        `mapstructure:"invalidate_channel"`
	LinkSweepInterval  time.Duration `mapstructure:"link_sweep_interval"`
	BadgeRefreshWindow time.Duration `mapstructure:"badge_refresh_window"`
}

// CORSConfig holds allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds share link lookups per caller. It needs Redis.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/taskhub")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// TASKHUB_DATABASE_DRIVER overrides database.driver, and so on.
	v.SetEnvPrefix("TASKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if secret := os.Getenv("TASKHUB_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("TASKHUB_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Server.Mode == "release" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required in release mode")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("config: realtime.send_buffer must be positive")
	}
	return nil
}

// Default returns the defaults without reading files or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "taskhub")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.issuer", "taskhub")
	v.SetDefault("auth.admin_emails", []string{})

	// Realtime defaults
	v.SetDefault("realtime.send_buffer", 128)
	v.SetDefault("realtime.queue_size", 1024)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.max_message_size", 4096)
	v.SetDefault("realtime.relay_enabled", false)
	v.SetDefault("realtime.relay_channel", "taskhub:realtime")

	// Notification defaults
	v.SetDefault("notification.email_enabled", false)
	v.SetDefault("notification.from_address", "noreply@taskhub.local")
	v.SetDefault("notification.queue", "notifications")
	v.SetDefault("notification.concurrency", 5)
	v.SetDefault("notification.max_retry", 5)
	v.SetDefault("notification.breaker_timeout", 60*time.Second)
	v.SetDefault("notification.run_worker", false)

	// System defaults
	v.SetDefault("system.maintenance_ttl", 30*time.Second)
	v.SetDefault("system.invalidate_channel", "taskhub:settings")
	v.SetDefault("system.link_sweep_interval", 5*time.Minute)
	v.SetDefault("system.badge_refresh_window", time.Minute)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", time.Minute)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
