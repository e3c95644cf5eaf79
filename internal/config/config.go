package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Scheduling   SchedulingConfig
	Handoff      HandoffConfig
	Safety       SafetyConfig
	Broadcast    BroadcastConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32

	// ConnectAttempts bounds startup retries while the database comes up.
	ConnectAttempts int
}

// RedisConfig holds Redis connection values. An empty Addr disables the
// cross-instance event relay.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format string
}

// AuthConfig defines coordinator authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// ServiceToken guards the voice-layer routes when set.
	ServiceToken string
	// Bootstrap coordinator created at startup when the email is unknown.
	BootstrapEmail    string
	BootstrapPassword string
	BootstrapName     string
}

// SchedulingConfig tunes the reservation lifecycle.
type SchedulingConfig struct {
	HoldTTL            time.Duration
	ConfirmationWindow time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
}

// HandoffConfig holds ticket SLAs by severity. handoff_now is always due
// immediately.
type HandoffConfig struct {
	CallbackSLA    time.Duration
	StopContactSLA time.Duration
}

// SafetyConfig points at an optional rule file; empty uses the built-in set.
type SafetyConfig struct {
	RulesPath string
}

// BroadcastConfig sizes subscriber buffers and names the relay channel.
type BroadcastConfig struct {
	SubscriberBuffer int
	RedisChannel     string
	InstanceID       string
	// PollInterval bounds how late events committed by another instance
	// reach local observers when no relay wake-up arrives.
	PollInterval time.Duration
}

// NotificationConfig configures the follow-up communicator. An empty
// WebhookURL logs follow-ups instead of delivering them.
type NotificationConfig struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	PollInterval   time.Duration
	// MaxAttempts caps deliveries of one event before it is recorded as
	// failed and skipped.
	MaxAttempts int
	// LeaseTTL is how long one instance owns the follow-up cursor without
	// renewing it.
	LeaseTTL time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where possible. envFiles are passed to godotenv; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "visit-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:        int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:   getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			ConnectAttempts: getEnvAsInt("POSTGRES_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Addr:        os.Getenv("REDIS_ADDR"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 3*time.Second),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			ServiceToken:          os.Getenv("AUTH_SERVICE_TOKEN"),
			BootstrapEmail:        os.Getenv("AUTH_BOOTSTRAP_EMAIL"),
			BootstrapPassword:     os.Getenv("AUTH_BOOTSTRAP_PASSWORD"),
			BootstrapName:         getEnv("AUTH_BOOTSTRAP_NAME", "Lead Coordinator"),
		},
		Scheduling: SchedulingConfig{
			HoldTTL:            getEnvAsDuration("SCHEDULING_HOLD_TTL", 10*time.Minute),
			ConfirmationWindow: getEnvAsDuration("SCHEDULING_CONFIRMATION_WINDOW", 48*time.Hour),
			SweepInterval:      getEnvAsDuration("SCHEDULING_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:     getEnvAsInt("SCHEDULING_SWEEP_BATCH_SIZE", 100),
		},
		Handoff: HandoffConfig{
			CallbackSLA:    getEnvAsDuration("HANDOFF_CALLBACK_SLA", 4*time.Hour),
			StopContactSLA: getEnvAsDuration("HANDOFF_STOP_CONTACT_SLA", 24*time.Hour),
		},
		Safety: SafetyConfig{
			RulesPath: os.Getenv("SAFETY_RULES_PATH"),
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: getEnvAsInt("BROADCAST_SUBSCRIBER_BUFFER", 64),
			RedisChannel:     getEnv("BROADCAST_REDIS_CHANNEL", "visit-engine:events"),
			InstanceID:       getEnv("BROADCAST_INSTANCE_ID", hostname),
			PollInterval:     getEnvAsDuration("BROADCAST_POLL_INTERVAL", 2*time.Second),
		},
		Notification: NotificationConfig{
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			WebhookTimeout: getEnvAsDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second),
			PollInterval:   getEnvAsDuration("NOTIFY_POLL_INTERVAL", 30*time.Second),
			MaxAttempts:    getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 5),
			LeaseTTL:       getEnvAsDuration("NOTIFY_LEASE_TTL", time.Minute),
		},
	}

	if cfg.Scheduling.HoldTTL <= 0 {
		return nil, fmt.Errorf("SCHEDULING_HOLD_TTL must be positive")
	}
	if cfg.Scheduling.ConfirmationWindow <= 0 {
		return nil, fmt.Errorf("SCHEDULING_CONFIRMATION_WINDOW must be positive")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the coordinator token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
