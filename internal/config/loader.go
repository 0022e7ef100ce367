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

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "theragate.yaml"

// DefaultEnvFile is the dotenv file overlaid before the process environment.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < .env < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotEnv exports variables from a dotenv file into the process
// environment. Variables already set in the environment are not overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "THERAGATE_PORT")
	setString(&cfg.Server.AdminToken, "THERAGATE_ADMIN_TOKEN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "THERAGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "THERAGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "THERAGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "THERAGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "THERAGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "THERAGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "THERAGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "THERAGATE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "THERAGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "THERAGATE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "THERAGATE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "THERAGATE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "THERAGATE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "THERAGATE_RATE_MAX_IDLE_TIME")

	// Webhook
	setString(&cfg.Webhook.Environment, "THERAGATE_WEBHOOK_ENVIRONMENT")
	setString(&cfg.Webhook.SignatureHeader, "THERAGATE_WEBHOOK_SIGNATURE_HEADER")
	setDuration(&cfg.Webhook.Tolerance, "THERAGATE_WEBHOOK_TOLERANCE")
	setInt(&cfg.Webhook.LedgerCapacity, "THERAGATE_WEBHOOK_LEDGER_CAPACITY")
	setInt64(&cfg.Webhook.MaxBodyBytes, "THERAGATE_WEBHOOK_MAX_BODY_BYTES")
	setBool(&cfg.Webhook.Async, "THERAGATE_WEBHOOK_ASYNC")
	setInt(&cfg.Webhook.QueueSize, "THERAGATE_WEBHOOK_QUEUE_SIZE")
	setInt(&cfg.Webhook.Workers, "THERAGATE_WEBHOOK_WORKERS")
	setInt64(&cfg.Webhook.MaxConcurrent, "THERAGATE_WEBHOOK_MAX_CONCURRENT")

	// Retry
	setUint(&cfg.Retry.MaxAttempts, "THERAGATE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialInterval, "THERAGATE_RETRY_INITIAL_INTERVAL")
	setFloat64(&cfg.Retry.Multiplier, "THERAGATE_RETRY_MULTIPLIER")
	setDuration(&cfg.Retry.MaxInterval, "THERAGATE_RETRY_MAX_INTERVAL")
	setDuration(&cfg.Retry.Deadline, "THERAGATE_RETRY_DEADLINE")

	// Audit
	setInt(&cfg.Audit.LocalCapacity, "THERAGATE_AUDIT_LOCAL_CAPACITY")
	setInt(&cfg.Audit.HistoryCapacity, "THERAGATE_AUDIT_HISTORY_CAPACITY")
	setString(&cfg.Audit.RemoteURL, "THERAGATE_AUDIT_REMOTE_URL")
	setInt(&cfg.Audit.RemoteQueueSize, "THERAGATE_AUDIT_REMOTE_QUEUE_SIZE")
	setDuration(&cfg.Audit.RemoteTimeout, "THERAGATE_AUDIT_REMOTE_TIMEOUT")
	setString(&cfg.Audit.AppVersion, "THERAGATE_APP_VERSION")
	setString(&cfg.Audit.Build, "THERAGATE_BUILD")
	setString(&cfg.Audit.Platform, "THERAGATE_PLATFORM")

	// Incident channels
	setDuration(&cfg.Incident.ChannelTimeout, "THERAGATE_INCIDENT_CHANNEL_TIMEOUT")
	setList(&cfg.Incident.Channels, "THERAGATE_INCIDENT_CHANNELS")
	setString(&cfg.Incident.SlackWebhook, "THERAGATE_SLACK_WEBHOOK")
	setString(&cfg.Incident.DiscordWebhook, "THERAGATE_DISCORD_WEBHOOK")
	setString(&cfg.Incident.PagerURL, "THERAGATE_PAGER_URL")
	setString(&cfg.Incident.PagerRoutingKey, "THERAGATE_PAGER_ROUTING_KEY")
	setString(&cfg.Incident.SMTPHost, "THERAGATE_SMTP_HOST")
	setString(&cfg.Incident.SMTPPort, "THERAGATE_SMTP_PORT")
	setString(&cfg.Incident.SMTPFrom, "THERAGATE_SMTP_FROM")
	setString(&cfg.Incident.SMTPTo, "THERAGATE_SMTP_TO")
	setString(&cfg.Incident.SMTPUsername, "THERAGATE_SMTP_USERNAME")
	setString(&cfg.Incident.SMTPPassword, "THERAGATE_SMTP_PASSWORD")
	setString(&cfg.Incident.AuthorityTo, "THERAGATE_AUTHORITY_TO")

	// Keystore
	setString(&cfg.Keystore.Backend, "THERAGATE_KEYSTORE_BACKEND")
	setString(&cfg.Keystore.MasterKey, "THERAGATE_MASTER_KEY")
	setString(&cfg.Keystore.FilePath, "THERAGATE_KEYSTORE_FILE")
	setDuration(&cfg.Keystore.CacheTTL, "THERAGATE_KEYSTORE_CACHE_TTL")

	// Billing
	setString(&cfg.Billing.URL, "THERAGATE_BILLING_URL")
	setString(&cfg.Billing.APIKey, "THERAGATE_BILLING_API_KEY")
	setDuration(&cfg.Billing.Timeout, "THERAGATE_BILLING_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "THERAGATE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "THERAGATE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "THERAGATE_CACHE_L2_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "THERAGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "THERAGATE_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "THERAGATE_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "THERAGATE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "THERAGATE_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Webhook.LedgerCapacity < 1 {
		return errors.New("webhook.ledger_capacity must be >= 1")
	}
	if cfg.Webhook.Async && (cfg.Webhook.QueueSize < 1 || cfg.Webhook.Workers < 1) {
		return errors.New("webhook.queue_size and webhook.workers must be >= 1 in async mode")
	}
	if cfg.Webhook.MaxBodyBytes < 1 {
		return errors.New("webhook.max_body_bytes must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Audit.LocalCapacity < 1 || cfg.Audit.HistoryCapacity < 1 {
		return errors.New("audit capacities must be >= 1")
	}
	switch cfg.Webhook.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("webhook.environment %q is not one of development, staging, production", cfg.Webhook.Environment)
	}
	switch cfg.Keystore.Backend {
	case "postgres", "file", "env":
	default:
		return fmt.Errorf("keystore.backend %q is not one of postgres, file, env", cfg.Keystore.Backend)
	}
	if cfg.Keystore.Backend != "env" && cfg.Keystore.MasterKey == "" {
		return errors.New("keystore.master_key is required for the postgres and file backends")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
