// Package config loads and validates the audit service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUD_ prefix (e.g., AUD_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to run
// with a config.yaml in local development and with pure environment variables in
// containerized deployments.
//
// Runtime audit settings (retention, thresholds, logging toggles) are not configured
// here: the migration seeds the AuditSettings singleton and the admin API owns it from
// then on. The audit section carries only process-level knobs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Detection DetectionConfig `mapstructure:"detection"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	SIEM      SIEMConfig      `mapstructure:"siem"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN builds the lib/pq connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used by the distributed rate tracker.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuthConfig holds admin-API authentication configuration. The service verifies
// bearer tokens issued by the surrounding platform; it never issues them.
type AuthConfig struct {
	// JWTSecret is the shared HMAC secret for verifying platform-issued JWTs.
	// Usually injected as AUD_AUTH_JWT_SECRET.
	JWTSecret string `mapstructure:"jwt_secret"`
	// APIKeysEnabled allows bcrypt-hashed API keys as an alternative to JWTs
	// (for SIEM pollers and scripted report pulls).
	APIKeysEnabled bool `mapstructure:"api_keys_enabled"`
	// APIKeyPrefix is the expected key prefix, e.g. "aud_".
	APIKeyPrefix string `mapstructure:"api_key_prefix"`
}

// AuditConfig carries the audit pipeline's process-level knobs. Runtime settings
// (retention days, thresholds, logging toggles) live in the audit_settings row and are
// changed through the admin API, not here.
type AuditConfig struct {
	// WriteTimeout bounds each synchronous audit write on the request path.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RetentionInterval is how often the background retention job runs; 0 disables it.
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

// DetectionConfig controls the signature detectors and the rate tracker.
type DetectionConfig struct {
	// RulesFile optionally points at a YAML signature file; empty uses built-ins.
	RulesFile string `mapstructure:"rules_file"`
	// WatchRules hot-reloads RulesFile on change.
	WatchRules bool `mapstructure:"watch_rules"`
	// ExpectedOrigins are referrer hosts considered first-party (CSRF heuristic).
	ExpectedOrigins []string `mapstructure:"expected_origins"`
	// LoginPaths are request paths treated as authentication endpoints.
	LoginPaths []string `mapstructure:"login_paths"`
	// BruteForceWindow is the sliding window for failed-login counting.
	BruteForceWindow time.Duration `mapstructure:"brute_force_window"`
	// TransactionWindow is the sliding window for high-value transaction counting.
	TransactionWindow time.Duration `mapstructure:"transaction_window"`
	// DedupeAlerts collapses repeated threshold breaches into one security event per
	// breach window.
	DedupeAlerts bool `mapstructure:"dedupe_alerts"`
	// HardBlock rejects flagged requests with 403 instead of letting them proceed.
	HardBlock bool `mapstructure:"hard_block"`
	// SensitiveFields overrides the sanitizer's sensitive-key pattern set.
	SensitiveFields []string `mapstructure:"sensitive_fields"`
}

// ArchiveConfig selects where exported reports and purged-log archives are written.
type ArchiveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DefaultBackend string `mapstructure:"default_backend"`
	// EncryptionKey is an optional base64-encoded 32-byte AES-256 key. When set,
	// exported reports are encrypted before upload. Usually injected as
	// AUD_ARCHIVE_ENCRYPTION_KEY.
	EncryptionKey string             `mapstructure:"encryption_key"`
	Local         LocalArchiveConfig `mapstructure:"local"`
	S3            S3ArchiveConfig    `mapstructure:"s3"`
	Azure         AzureArchiveConfig `mapstructure:"azure"`
	GCS           GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig holds filesystem archive configuration
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3-compatible archive configuration. Auth is either the AWS
// default credential chain (empty keys) or static credentials.
type S3ArchiveConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureArchiveConfig holds Azure Blob archive configuration
type AzureArchiveConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// GCSArchiveConfig holds Google Cloud Storage archive configuration
type GCSArchiveConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SIEMConfig configures best-effort forwarding of security events to external
// destinations (a webhook endpoint, a file tailed by a log agent, or both).
type SIEMConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Webhook SIEMWebhookConfig `mapstructure:"webhook"`
	File    SIEMFileConfig    `mapstructure:"file"`
}

// SIEMWebhookConfig holds the webhook destination; active when URL is set.
type SIEMWebhookConfig struct {
	URL string `mapstructure:"url"`
	// AuthHeader is sent as the Authorization header on every request.
	AuthHeader    string        `mapstructure:"auth_header"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SIEMFileConfig holds the file destination; active when Path is set.
type SIEMFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-service")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables.
	}

	v.SetEnvPrefix("AUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures; AutomaticEnv()
	// alone does not reach keys that are absent from the config file.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be injected by
	// infrastructure tooling.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = os.ExpandEnv(cfg.Auth.JWTSecret)
	cfg.Archive.S3.SecretAccessKey = os.ExpandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Archive.Azure.AccountKey = os.ExpandEnv(cfg.Archive.Azure.AccountKey)
	cfg.SIEM.Webhook.AuthHeader = os.ExpandEnv(cfg.SIEM.Webhook.AuthHeader)
	cfg.Archive.EncryptionKey = os.ExpandEnv(cfg.Archive.EncryptionKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.base_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections",
		"redis.enabled", "redis.address", "redis.password", "redis.db",
		"logging.level", "logging.format",
		"telemetry.enabled", "telemetry.prometheus_port",
		"auth.jwt_secret", "auth.api_keys_enabled", "auth.api_key_prefix",
		"audit.write_timeout", "audit.retention_interval",
		"detection.rules_file", "detection.watch_rules", "detection.dedupe_alerts",
		"detection.hard_block", "detection.brute_force_window", "detection.transaction_window",
		"detection.expected_origins", "detection.login_paths", "detection.sensitive_fields",
		"archive.enabled", "archive.default_backend", "archive.encryption_key",
		"archive.local.base_path",
		"archive.s3.endpoint", "archive.s3.region", "archive.s3.bucket",
		"archive.s3.access_key_id", "archive.s3.secret_access_key",
		"archive.azure.account_name", "archive.azure.account_key", "archive.azure.container_name",
		"archive.gcs.bucket", "archive.gcs.credentials_file",
		"siem.enabled", "siem.webhook.url", "siem.webhook.auth_header",
		"siem.webhook.timeout", "siem.webhook.batch_size", "siem.webhook.flush_interval",
		"siem.file.path", "siem.file.max_size_mb", "siem.file.max_backups",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults (disabled: single-instance deployments use the in-memory tracker)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Auth defaults
	v.SetDefault("auth.api_keys_enabled", true)
	v.SetDefault("auth.api_key_prefix", "aud_")

	// Audit defaults
	v.SetDefault("audit.write_timeout", "2s")
	v.SetDefault("audit.retention_interval", "24h")

	// Detection defaults
	v.SetDefault("detection.rules_file", "")
	v.SetDefault("detection.watch_rules", true)
	v.SetDefault("detection.login_paths", []string{"/api/auth/login", "/api/auth/token"})
	v.SetDefault("detection.brute_force_window", "15m")
	v.SetDefault("detection.transaction_window", "1h")
	v.SetDefault("detection.dedupe_alerts", true)
	v.SetDefault("detection.hard_block", false)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.default_backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	// SIEM forwarding defaults
	v.SetDefault("siem.enabled", false)
	v.SetDefault("siem.webhook.timeout", "10s")
	v.SetDefault("siem.webhook.batch_size", 0)
	v.SetDefault("siem.webhook.flush_interval", "5s")
	v.SetDefault("siem.file.max_size_mb", 100)
	v.SetDefault("siem.file.max_backups", 3)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Audit.WriteTimeout <= 0 {
		return fmt.Errorf("audit.write_timeout must be positive")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if c.Archive.Enabled {
		switch c.Archive.DefaultBackend {
		case "local", "s3", "azure", "gcs":
		default:
			return fmt.Errorf("unsupported archive backend: %s (must be 'local', 's3', 'azure', or 'gcs')", c.Archive.DefaultBackend)
		}
	}
	if c.SIEM.Enabled && c.SIEM.Webhook.URL == "" && c.SIEM.File.Path == "" {
		return fmt.Errorf("siem forwarding is enabled but no destination is configured")
	}
	return nil
}
