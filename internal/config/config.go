package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Delivery      DeliveryConfig      `mapstructure:"delivery"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	CORS               CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// DeliveryConfig holds outbox delivery configuration
type DeliveryConfig struct {
	MaxPublishAttempts      int           `mapstructure:"max_publish_attempts"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize          int           `mapstructure:"sweep_batch_size"`
	SweepDeadline           time.Duration `mapstructure:"sweep_deadline"`
	LockLease               time.Duration `mapstructure:"lock_lease"`
	LockWaitTimeout         time.Duration `mapstructure:"lock_wait_timeout"`
	DefaultIdempotencyDays  int           `mapstructure:"default_idempotency_days"`
	IdempotencyHashSalt     string        `mapstructure:"idempotency_hash_salt"`
	IdempotencyBackend      string        `mapstructure:"idempotency_backend"`
	ConsumerGroup           string        `mapstructure:"consumer_group"`
	ConsumerBatchSize       int64         `mapstructure:"consumer_batch_size"`
	ConsumerBlockDuration   time.Duration `mapstructure:"consumer_block_duration"`
	ReclaimInterval         time.Duration `mapstructure:"reclaim_interval"`
	ReclaimMinIdle          time.Duration `mapstructure:"reclaim_min_idle"`
	CircuitBreakerThreshold uint32        `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

// Load reads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("COURIER")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/courier")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields have valid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Delivery.MaxPublishAttempts <= 0 {
		errs = append(errs, fmt.Errorf("delivery.max_publish_attempts must be positive"))
	}
	if c.Delivery.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("delivery.sweep_batch_size must be positive"))
	}
	if c.Delivery.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("delivery.sweep_interval must be positive"))
	}
	if c.Delivery.SweepDeadline <= 0 {
		errs = append(errs, fmt.Errorf("delivery.sweep_deadline must be positive"))
	}
	if c.Delivery.LockLease <= 0 {
		errs = append(errs, fmt.Errorf("delivery.lock_lease must be positive"))
	}
	if c.Delivery.DefaultIdempotencyDays == 0 {
		errs = append(errs, fmt.Errorf("delivery.default_idempotency_days must not be zero"))
	}
	if b := c.Delivery.IdempotencyBackend; b != "postgres" && b != "redis" {
		errs = append(errs, fmt.Errorf("delivery.idempotency_backend must be postgres or redis, got %q", b))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "courier")
	v.SetDefault("database.password", "courier")
	v.SetDefault("database.database", "courier")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Delivery defaults
	v.SetDefault("delivery.max_publish_attempts", 3)
	v.SetDefault("delivery.sweep_interval", "30s")
	v.SetDefault("delivery.sweep_batch_size", 15)
	v.SetDefault("delivery.sweep_deadline", "30s")
	v.SetDefault("delivery.lock_lease", "10m")
	v.SetDefault("delivery.lock_wait_timeout", "5s")
	v.SetDefault("delivery.default_idempotency_days", 30)
	v.SetDefault("delivery.idempotency_hash_salt", "CourierIdempotency")
	v.SetDefault("delivery.idempotency_backend", "postgres")
	v.SetDefault("delivery.consumer_group", "courier-executors")
	v.SetDefault("delivery.consumer_batch_size", 10)
	v.SetDefault("delivery.consumer_block_duration", "1s")
	v.SetDefault("delivery.reclaim_interval", "1m")
	v.SetDefault("delivery.reclaim_min_idle", "5m")
	v.SetDefault("delivery.circuit_breaker_threshold", 10)
	v.SetDefault("delivery.circuit_breaker_timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "courier-1")
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
