package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	// Server configuration
	Port           string
	GinMode        string
	APIVersion     string
	APIPrefix      string
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// WorkersEnabled runs the sweeper, relay and consumer inside the API
	// process. cmd/worker runs them regardless.
	WorkersEnabled bool
	// AutoMigrate applies the schema on startup.
	AutoMigrate bool

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// Rate limiting
	RateLimit RateLimitConfig

	// Message bus
	Kafka KafkaConfig

	// Core engines and workers
	Reservation ReservationConfig
	Outbox      OutboxConfig
	Consumer    ConsumerConfig
	TxRetry     TxRetryConfig
	Payments    PaymentsConfig
	Alerts      AlertsConfig
	Realtime    RealtimeConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Addr     string

	SeatMapTTL time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled             bool          `json:"enabled"`
	WindowDuration      time.Duration `json:"window_duration"`
	DefaultRequests     int           `json:"default_requests"`
	ReservationRequests int           `json:"reservation_requests"`
	PaymentRequests     int           `json:"payment_requests"`
	WebhookRequests     int           `json:"webhook_requests"`
	StreamRequests      int           `json:"stream_requests"`
	HealthRequests      int           `json:"health_requests"`
	WhitelistedIPs      []string      `json:"whitelisted_ips"`
}

// KafkaConfig holds broker and topic configuration
type KafkaConfig struct {
	Brokers          []string
	ClientID         string
	ConsumerGroup    string
	PaymentTopic     string
	DeadLetterSuffix string
	RequiredAcksAll  bool
	RetryMax         int
	Timeout          time.Duration
}

// ReservationConfig holds reservation engine and sweeper configuration
type ReservationConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	LockAttempts  int
	LockBackoff   time.Duration
}

// OutboxConfig holds outbox relay configuration
type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	MaxLoops    int
}

// ConsumerConfig holds inbound consumer configuration
type ConsumerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// TxRetryConfig holds transaction retry configuration
type TxRetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PaymentsConfig holds payment provider configuration
type PaymentsConfig struct {
	WebhookSecret   string
	DefaultProvider string
}

// AlertsConfig holds alert thresholds evaluated by the health service
type AlertsConfig struct {
	OutboxFailureRatioThreshold  float64
	OutboxMinSamples             int
	WebhookFailureRatioThreshold float64
	WebhookMinSamples            int
	DeadLetterThreshold          int
	ConsumerRetryThreshold       int
}

// RealtimeConfig holds realtime fanout configuration
type RealtimeConfig struct {
	ChannelPrefix string
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		// Server configuration
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		APIVersion:     getEnv("API_VERSION", "v1"),
		APIPrefix:      getEnv("API_PREFIX", "/api"),
		ReadTimeout:    getDurationEnv("READ_TIMEOUT", 15*time.Second),
		IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getIntEnv("MAX_HEADER_BYTES", 1<<20), // 1 MB
		WorkersEnabled: getBoolEnv("WORKERS_ENABLED", false),
		AutoMigrate:    getBoolEnv("DB_AUTO_MIGRATE", true),

		// Database configuration
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "boxoffice_db"),
			User:            getEnv("DB_USER", "boxoffice_user"),
			Password:        getEnv("DB_PASSWORD", "boxoffice_password"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
		},

		// Redis configuration
		Redis: RedisConfig{
			Host:       getEnv("REDIS_HOST", "localhost"),
			Port:       getEnv("REDIS_PORT", "6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getIntEnv("REDIS_DB", 0),
			SeatMapTTL: getDurationEnv("REDIS_SEAT_MAP_TTL", 5*time.Second),
		},

		JWT: JWTConfig{
			Secret:    getEnv("JWT_SECRET", "your-super-secret-jwt-key"),
			AccessTTL: getDurationEnv("JWT_ACCESS_TTL", 15*time.Minute),
		},

		// Rate limiting
		RateLimit: RateLimitConfig{
			Enabled:             getBoolEnv("RATE_LIMIT_ENABLED", true),
			WindowDuration:      getDurationEnv("RATE_LIMIT_WINDOW_DURATION", 60*time.Second),
			DefaultRequests:     getIntEnv("RATE_LIMIT_DEFAULT_REQUESTS", 60),
			ReservationRequests: getIntEnv("RATE_LIMIT_RESERVATION_REQUESTS", 20),
			PaymentRequests:     getIntEnv("RATE_LIMIT_PAYMENT_REQUESTS", 20),
			WebhookRequests:     getIntEnv("RATE_LIMIT_WEBHOOK_REQUESTS", 600),
			StreamRequests:      getIntEnv("RATE_LIMIT_STREAM_REQUESTS", 30),
			HealthRequests:      getIntEnv("RATE_LIMIT_HEALTH_REQUESTS", 300),
			WhitelistedIPs:      getStringSliceEnv("RATE_LIMIT_WHITELISTED_IPS", []string{}),
		},

		Kafka: KafkaConfig{
			Brokers:          getStringSliceEnv("KAFKA_BROKERS", []string{}),
			ClientID:         getEnv("KAFKA_CLIENT_ID", "boxoffice"),
			ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "tickets-payment-succeeded-v1"),
			PaymentTopic:     getEnv("KAFKA_PAYMENT_SUCCEEDED_TOPIC", "payment.succeeded"),
			DeadLetterSuffix: getEnv("KAFKA_DLQ_SUFFIX", ".dlq"),
			RequiredAcksAll:  getBoolEnv("KAFKA_REQUIRED_ACKS_ALL", true),
			RetryMax:         getIntEnv("KAFKA_PRODUCER_RETRY_MAX", 3),
			Timeout:          getDurationEnv("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		},

		Reservation: ReservationConfig{
			TTL:           getDurationEnv("RESERVATION_TTL", 10*time.Minute),
			SweepInterval: getDurationEnv("RESERVATION_SWEEP_INTERVAL", 15*time.Second),
			SweepBatch:    getIntEnv("RESERVATION_SWEEP_BATCH", 100),
			LockAttempts:  getIntEnv("RESERVATION_LOCK_ATTEMPTS", 2),
			LockBackoff:   getDurationEnv("RESERVATION_LOCK_BACKOFF", 20*time.Millisecond),
		},

		Outbox: OutboxConfig{
			Interval:    getDurationEnv("OUTBOX_PUBLISH_INTERVAL", 5*time.Second),
			BatchSize:   getIntEnv("OUTBOX_PUBLISH_BATCH_SIZE", 100),
			Lease:       getDurationEnvSeconds("OUTBOX_PUBLISH_LEASE_SECONDS", 30*time.Second),
			MaxAttempts: getIntEnv("OUTBOX_PUBLISH_MAX_ATTEMPTS", 10),
			MaxLoops:    getIntEnv("OUTBOX_PUBLISH_MAX_LOOPS", 5),
		},

		Consumer: ConsumerConfig{
			MaxAttempts:  getIntEnv("CONSUMER_MAX_ATTEMPTS", 3),
			RetryBackoff: getDurationEnv("CONSUMER_RETRY_BACKOFF", 200*time.Millisecond),
		},

		TxRetry: TxRetryConfig{
			MaxAttempts: getIntEnv("TX_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getDurationEnv("TX_RETRY_BASE_DELAY", 100*time.Millisecond),
			MaxDelay:    getDurationEnv("TX_RETRY_MAX_DELAY", 2*time.Second),
		},

		Payments: PaymentsConfig{
			WebhookSecret:   getEnv("PAYMENTS_WEBHOOK_SECRET", ""),
			DefaultProvider: getEnv("PAYMENTS_DEFAULT_PROVIDER", "manual"),
		},

		Alerts: AlertsConfig{
			OutboxFailureRatioThreshold:  getFloatEnv("ALERT_OUTBOX_FAILURE_RATIO_THRESHOLD", 0.1),
			OutboxMinSamples:             getIntEnv("ALERT_OUTBOX_MIN_SAMPLES", 20),
			WebhookFailureRatioThreshold: getFloatEnv("ALERT_WEBHOOK_FAILURE_RATIO_THRESHOLD", 0.2),
			WebhookMinSamples:            getIntEnv("ALERT_WEBHOOK_MIN_SAMPLES", 20),
			DeadLetterThreshold:          getIntEnv("ALERT_PAYMENT_SUCCEEDED_DLQ_THRESHOLD", 1),
			ConsumerRetryThreshold:       getIntEnv("ALERT_PAYMENT_SUCCEEDED_RETRY_THRESHOLD", 20),
		},

		Realtime: RealtimeConfig{
			ChannelPrefix: getEnv("REALTIME_CHANNEL_PREFIX", "seats"),
		},
	}

	// Build composite values
	cfg.Database.DSN = buildDatabaseDSN(cfg.Database)
	cfg.Redis.Addr = cfg.Redis.Host + ":" + cfg.Redis.Port

	return cfg
}

// buildDatabaseDSN builds the database connection string
func buildDatabaseDSN(db DatabaseConfig) string {
	return "host=" + db.Host +
		" port=" + db.Port +
		" user=" + db.User +
		" password=" + db.Password +
		" dbname=" + db.Name +
		" sslmode=" + db.SSLMode
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getIntEnv gets an integer environment variable with a fallback value
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return fallback
}

// getDurationEnv gets a duration environment variable with a fallback value
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

// getDurationEnvSeconds gets an environment variable as seconds (int) and converts to time.Duration
func getDurationEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

// getStringSliceEnv gets a comma-separated string environment variable as a slice
func getStringSliceEnv(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GinMode == "debug"
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return ":" + c.Port
}

// GetAPIBasePath returns the API base path
func (c *Config) GetAPIBasePath() string {
	return c.APIPrefix + "/" + c.APIVersion
}

// KafkaEnabled reports whether any broker is configured
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// DeadLetterTopic returns the dead-letter topic for a consumed topic
func (c *Config) DeadLetterTopic(topic string) string {
	return topic + c.Kafka.DeadLetterSuffix
}
