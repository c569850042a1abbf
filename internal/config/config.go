package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration for admin endpoints
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// RedisConfig holds Redis configuration for the distributed rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	SubmitSubject  string        `mapstructure:"submit_subject"`
	ConfirmSubject string        `mapstructure:"confirm_subject"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// NamingConfig holds the namespace configuration. Every nickname becomes a
// label under the parent domain, e.g. "alice" -> "alice.villa.eth".
type NamingConfig struct {
	ParentDomain string `mapstructure:"parent_domain"`
}

// GatewayConfig holds the resolution gateway signing configuration
type GatewayConfig struct {
	// SignerKey is the hex-encoded secp256k1 private key the gateway signs
	// resolution envelopes with. The API refuses to start without it.
	SignerKey string `mapstructure:"signer_key"`
	// VerifierContract is the on-chain resolver address that verifies
	// gateway signatures; it is bound into every signed digest.
	VerifierContract string        `mapstructure:"verifier_contract"`
	SignatureTTL     time.Duration `mapstructure:"signature_ttl"`
}

// ClaimConfig holds claim policy configuration
type ClaimConfig struct {
	// RatePerMinute and RateBurst bound claim attempts per owner address
	RatePerMinute     int    `mapstructure:"rate_per_minute"`
	RateBurst         int    `mapstructure:"rate_burst"`
	ProfanityListPath string `mapstructure:"profanity_list_path"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	WorkerPoolSize  int `mapstructure:"pool_size"`
	WorkerQueueSize int `mapstructure:"queue_size"`
}

// MigrationConfig holds migration coordinator configuration
type MigrationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Worker       WorkerConfig  `mapstructure:"worker"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Naming     NamingConfig   `mapstructure:"naming"`
	Gateway    GatewayConfig  `mapstructure:"gateway"`
	Claim      ClaimConfig    `mapstructure:"claim"`
}

// MigratorConfig holds configuration for the migration coordinator
type MigratorConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Naming     NamingConfig    `mapstructure:"naming"`
	Migration  MigrationConfig `mapstructure:"migration"`
}

// LoadAPIConfig loads configuration for the API server.
// The gateway signing key is mandatory: resolution must never run unsigned,
// so a missing key fails the load instead of degrading.
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("naming.parent_domain", domain.DEFAULT_PARENT_DOMAIN)
	v.SetDefault("gateway.signature_ttl", "5m")
	v.SetDefault("claim.rate_per_minute", 5)
	v.SetDefault("claim.rate_burst", 5)
	v.SetDefault("claim.profanity_list_path", "config/profanity_list.json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Gateway.SignerKey == "" {
		return nil, errors.New("gateway.signer_key is required")
	}
	if config.Gateway.SignatureTTL <= 0 || config.Gateway.SignatureTTL > domain.MAX_ENVELOPE_TTL {
		return nil, fmt.Errorf("gateway.signature_ttl must be in (0, %s]", domain.MAX_ENVELOPE_TTL)
	}

	return &config, nil
}

// LoadMigratorConfig loads configuration for the migration coordinator
func LoadMigratorConfig(configFile string, envPath string) (*MigratorConfig, error) {
	v := configureViper("migrator", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.stream_name", "NICKNAME_MIGRATION")
	v.SetDefault("nats.consumer_name", "migrator")
	v.SetDefault("nats.submit_subject", "migration.batches.submit")
	v.SetDefault("nats.confirm_subject", "migration.batches.confirmed")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 3)
	v.SetDefault("naming.parent_domain", domain.DEFAULT_PARENT_DOMAIN)
	v.SetDefault("migration.poll_interval", "30s")
	v.SetDefault("migration.batch_size", 50)
	v.SetDefault("migration.worker.pool_size", 4)
	v.SetDefault("migration.worker.queue_size", 64)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config MigratorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Migration.BatchSize <= 0 {
		return nil, errors.New("migration.batch_size must be positive")
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/api/, cmd/migrator/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("VILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.submit_subject",
		"nats.confirm_subject",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Naming
		"naming.parent_domain",
		// Gateway
		"gateway.signer_key",
		"gateway.verifier_contract",
		"gateway.signature_ttl",
		// Claim
		"claim.rate_per_minute",
		"claim.rate_burst",
		"claim.profanity_list_path",
		// Migration
		"migration.poll_interval",
		"migration.batch_size",
		"migration.worker.pool_size",
		"migration.worker.queue_size",
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
