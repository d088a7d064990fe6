package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the pipeline.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Logger      LoggerConfig      `yaml:"logger"`
	Auth        AuthConfig        `yaml:"auth"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Services    ServicesConfig    `yaml:"services"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	ETL         ETLConfig         `yaml:"etl"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// PostgresConfig holds DB connection values. The same database hosts the
// workflow state and the warehouse table.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	RunMigrations   bool   `yaml:"run_migrations"`
	MigrationsDir   string `yaml:"migrations_dir"`
	ConnMaxIdleSec  int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec  int32  `yaml:"conn_max_life_seconds"`
	ApplicationName string `yaml:"application_name"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines operator authentication parameters.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	OperatorKeyHash       string `yaml:"operator_key_hash"`
	ViewerKeyHash         string `yaml:"viewer_key_hash"`
}

// KafkaConfig names the ingress stream and the notification topics.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	IngressTopic  string   `yaml:"ingress_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
	AlertsTopic   string   `yaml:"alerts_topic"`
	FailuresTopic string   `yaml:"failures_topic"`
}

// ObjectStoreConfig selects where processed tickets are persisted.
type ObjectStoreConfig struct {
	Backend string `yaml:"backend"` // "s3" or "fs"
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	RootDir string `yaml:"root_dir"`
}

// ServicesConfig points at the externally hosted stage services.
type ServicesConfig struct {
	ClassificationURL string `yaml:"classification_url"`
	GenerationURL     string `yaml:"generation_url"`
}

// WorkflowConfig bounds the orchestrator's retries and calls.
type WorkflowConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	AlertTimeout   time.Duration `yaml:"alert_timeout"`
	Concurrency    int           `yaml:"concurrency"`
	// RecoveryInterval paces the sweep that resumes stalled instances; zero
	// disables it. StallAfter is how long an instance must sit unchanged.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	StallAfter       time.Duration `yaml:"stall_after"`
}

// ETLConfig schedules the validation-and-load job.
type ETLConfig struct {
	Enabled       bool          `yaml:"enabled"`
	JobName       string        `yaml:"job_name"`
	Interval      time.Duration `yaml:"interval"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	Prefix        string        `yaml:"prefix"`
}

// Load reads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:                  "ticket-pipeline",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
		},
		Postgres: PostgresConfig{
			MaxConns:        10,
			MinConns:        2,
			RunMigrations:   true,
			MigrationsDir:   "migrations",
			ConnMaxIdleSec:  30,
			ConnMaxLifeSec:  300,
			ApplicationName: "ticket-pipeline",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			IngressTopic:  "ticket-events",
			ConsumerGroup: "ticket-pipeline",
			AlertsTopic:   "ticket-alerts",
			FailuresTopic: "ticket-workflow-failures",
		},
		ObjectStore: ObjectStoreConfig{
			Backend: "fs",
			RootDir: "data/objects",
		},
		Workflow: WorkflowConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			CallTimeout:    30 * time.Second,
			AlertTimeout:   5 * time.Second,
			Concurrency:    16,

			RecoveryInterval: time.Minute,
			StallAfter:       5 * time.Minute,
		},
		ETL: ETLConfig{
			Enabled:       true,
			JobName:       "ticket_warehouse_load",
			Interval:      2 * time.Hour,
			LeaseDuration: 30 * time.Minute,
			SettleDelay:   time.Minute,
			Prefix:        "tickets/",
		},
	}
}

func applyEnv(cfg *Config) error {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnv("APP_PORT", cfg.App.Port)
	cfg.App.Version = getEnv("APP_VERSION", cfg.App.Version)
	cfg.App.RequestTimeoutSeconds = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds)

	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns)))
	cfg.Postgres.MinConns = int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns)))
	cfg.Postgres.RunMigrations = getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations)
	cfg.Postgres.MigrationsDir = getEnv("POSTGRES_MIGRATIONS_DIR", cfg.Postgres.MigrationsDir)
	cfg.Postgres.ConnMaxIdleSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec)))
	cfg.Postgres.ConnMaxLifeSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec)))
	cfg.Postgres.ApplicationName = getEnv("POSTGRES_APPLICATION_NAME", cfg.Postgres.ApplicationName)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if val := os.Getenv("REDIS_DB"); val != "" {
		redisDB, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.Redis.DB = redisDB
	}

	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenTTLMinutes = getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes)
	cfg.Auth.OperatorKeyHash = getEnv("AUTH_OPERATOR_KEY_HASH", cfg.Auth.OperatorKeyHash)
	cfg.Auth.ViewerKeyHash = getEnv("AUTH_VIEWER_KEY_HASH", cfg.Auth.ViewerKeyHash)

	cfg.Kafka.Brokers = getEnvAsList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.IngressTopic = getEnv("KAFKA_INGRESS_TOPIC", cfg.Kafka.IngressTopic)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)
	cfg.Kafka.AlertsTopic = getEnv("KAFKA_ALERTS_TOPIC", cfg.Kafka.AlertsTopic)
	cfg.Kafka.FailuresTopic = getEnv("KAFKA_FAILURES_TOPIC", cfg.Kafka.FailuresTopic)

	cfg.ObjectStore.Backend = getEnv("OBJECT_STORE_BACKEND", cfg.ObjectStore.Backend)
	cfg.ObjectStore.Bucket = getEnv("OBJECT_STORE_BUCKET", cfg.ObjectStore.Bucket)
	cfg.ObjectStore.Region = getEnv("OBJECT_STORE_REGION", cfg.ObjectStore.Region)
	cfg.ObjectStore.RootDir = getEnv("OBJECT_STORE_ROOT_DIR", cfg.ObjectStore.RootDir)

	cfg.Services.ClassificationURL = getEnv("CLASSIFICATION_URL", cfg.Services.ClassificationURL)
	cfg.Services.GenerationURL = getEnv("GENERATION_URL", cfg.Services.GenerationURL)

	cfg.Workflow.MaxAttempts = getEnvAsInt("WORKFLOW_MAX_ATTEMPTS", cfg.Workflow.MaxAttempts)
	cfg.Workflow.InitialBackoff = getEnvAsDuration("WORKFLOW_INITIAL_BACKOFF", cfg.Workflow.InitialBackoff)
	cfg.Workflow.MaxBackoff = getEnvAsDuration("WORKFLOW_MAX_BACKOFF", cfg.Workflow.MaxBackoff)
	cfg.Workflow.CallTimeout = getEnvAsDuration("WORKFLOW_CALL_TIMEOUT", cfg.Workflow.CallTimeout)
	cfg.Workflow.AlertTimeout = getEnvAsDuration("WORKFLOW_ALERT_TIMEOUT", cfg.Workflow.AlertTimeout)
	cfg.Workflow.Concurrency = getEnvAsInt("WORKFLOW_CONCURRENCY", cfg.Workflow.Concurrency)
	cfg.Workflow.RecoveryInterval = getEnvAsDuration("WORKFLOW_RECOVERY_INTERVAL", cfg.Workflow.RecoveryInterval)
	cfg.Workflow.StallAfter = getEnvAsDuration("WORKFLOW_STALL_AFTER", cfg.Workflow.StallAfter)

	cfg.ETL.Enabled = getEnvAsBool("ETL_ENABLED", cfg.ETL.Enabled)
	cfg.ETL.JobName = getEnv("ETL_JOB_NAME", cfg.ETL.JobName)
	cfg.ETL.Interval = getEnvAsDuration("ETL_INTERVAL", cfg.ETL.Interval)
	cfg.ETL.LeaseDuration = getEnvAsDuration("ETL_LEASE_DURATION", cfg.ETL.LeaseDuration)
	cfg.ETL.SettleDelay = getEnvAsDuration("ETL_SETTLE_DELAY", cfg.ETL.SettleDelay)
	cfg.ETL.Prefix = getEnv("ETL_PREFIX", cfg.ETL.Prefix)
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("WORKFLOW_MAX_ATTEMPTS must be at least 1")
	}
	if c.Workflow.CallTimeout <= 0 {
		return errors.New("WORKFLOW_CALL_TIMEOUT must be positive")
	}
	if c.Workflow.RecoveryInterval > 0 && c.Workflow.StallAfter <= c.Workflow.CallTimeout {
		return errors.New("WORKFLOW_STALL_AFTER must exceed WORKFLOW_CALL_TIMEOUT")
	}
	if c.ETL.Interval <= 0 {
		return errors.New("ETL_INTERVAL must be positive")
	}
	if c.ETL.LeaseDuration <= 0 {
		return errors.New("ETL_LEASE_DURATION must be positive")
	}
	switch c.ObjectStore.Backend {
	case "fs":
	case "s3":
		if c.ObjectStore.Bucket == "" {
			return errors.New("OBJECT_STORE_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown OBJECT_STORE_BACKEND %q", c.ObjectStore.Backend)
	}
	return nil
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

// AccessTokenTTL returns the operator token lifetime.
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

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
