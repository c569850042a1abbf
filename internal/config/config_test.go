package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *APIConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 15
database:
  host: localhost
  port: 5432
  user: villa
  password: secret
  dbname: nicknames
  sslmode: require
redis:
  addr: "localhost:6380"
naming:
  parent_domain: "villa.eth"
gateway:
  signer_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
  verifier_contract: "0x3e89159d144d7e5e17caB2b6A7e6e2c2c4b0cA59"
  signature_ttl: "3m"
claim:
  rate_per_minute: 10
  rate_burst: 3
  profanity_list_path: "config/profanity_list.json"
auth:
  api_keys:
    - "test-key"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 15, cfg.Server.ReadTimeout)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "nicknames", cfg.Database.DBName)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
				assert.Equal(t, "villa.eth", cfg.Naming.ParentDomain)
				assert.Equal(t, 3*time.Minute, cfg.Gateway.SignatureTTL)
				assert.Equal(t, "0x3e89159d144d7e5e17caB2b6A7e6e2c2c4b0cA59", cfg.Gateway.VerifierContract)
				assert.Equal(t, 10, cfg.Claim.RatePerMinute)
				assert.Equal(t, 3, cfg.Claim.RateBurst)
				assert.Equal(t, []string{"test-key"}, cfg.Auth.APIKeys)
			},
		},
		{
			name: "defaults applied",
			configFile: `
gateway:
  signer_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.False(t, cfg.Debug)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "villa.eth", cfg.Naming.ParentDomain)
				assert.Equal(t, 5*time.Minute, cfg.Gateway.SignatureTTL)
				assert.Equal(t, 5, cfg.Claim.RatePerMinute)
				assert.Equal(t, "config/profanity_list.json", cfg.Claim.ProfanityListPath)
			},
		},
		{
			name: "missing signer key fails closed",
			configFile: `
server:
  port: 8080
`,
			expectError: true,
		},
		{
			name: "signature ttl above ceiling rejected",
			configFile: `
gateway:
  signer_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
  signature_ttl: "15m"
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadAPIConfig(configFile, tmpDir)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadMigratorConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *MigratorConfig)
	}{
		{
			name: "valid config file",
			configFile: `
database:
  host: localhost
  user: villa
  password: secret
  dbname: nicknames
nats:
  url: "nats://localhost:4222"
  stream_name: "TEST_MIGRATION"
  consumer_name: "test-migrator"
  ack_wait: "45s"
migration:
  poll_interval: "10s"
  batch_size: 25
  worker:
    pool_size: 8
    queue_size: 128
`,
			expectError: false,
			validate: func(t *testing.T, cfg *MigratorConfig) {
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, "TEST_MIGRATION", cfg.NATS.StreamName)
				assert.Equal(t, "test-migrator", cfg.NATS.ConsumerName)
				assert.Equal(t, 45*time.Second, cfg.NATS.AckWait)
				assert.Equal(t, 10*time.Second, cfg.Migration.PollInterval)
				assert.Equal(t, 25, cfg.Migration.BatchSize)
				assert.Equal(t, 8, cfg.Migration.Worker.WorkerPoolSize)
			},
		},
		{
			name:        "defaults applied",
			configFile:  `debug: false`,
			expectError: false,
			validate: func(t *testing.T, cfg *MigratorConfig) {
				assert.Equal(t, "NICKNAME_MIGRATION", cfg.NATS.StreamName)
				assert.Equal(t, "migration.batches.submit", cfg.NATS.SubmitSubject)
				assert.Equal(t, "migration.batches.confirmed", cfg.NATS.ConfirmSubject)
				assert.Equal(t, 30*time.Second, cfg.Migration.PollInterval)
				assert.Equal(t, 50, cfg.Migration.BatchSize)
				assert.Equal(t, 3, cfg.NATS.MaxDeliver)
			},
		},
		{
			name: "zero batch size rejected",
			configFile: `
migration:
  batch_size: 0
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadMigratorConfig(configFile, tmpDir)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "villa",
		Password: "secret",
		DBName:   "nicknames",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=villa password=secret dbname=nicknames sslmode=require",
		cfg.DSN())
}

func TestConfigWithEnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()

	envContent := `
VILLA_DATABASE_HOST=env-db-host
VILLA_DATABASE_PASSWORD=env-secret
VILLA_GATEWAY_SIGNER_KEY=4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318
VILLA_CLAIM_RATE_PER_MINUTE=2
`
	envFile := filepath.Join(tmpDir, ".env")
	err := os.WriteFile(envFile, []byte(envContent), 0600)
	require.NoError(t, err)

	// godotenv mutates the process env; scrub after the test
	t.Cleanup(func() {
		for _, key := range []string{
			"VILLA_DATABASE_HOST", "VILLA_DATABASE_PASSWORD",
			"VILLA_GATEWAY_SIGNER_KEY", "VILLA_CLAIM_RATE_PER_MINUTE",
		} {
			_ = os.Unsetenv(key)
		}
	})

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte("debug: false\n"), 0600)
	require.NoError(t, err)

	cfg, err := LoadAPIConfig(configPath, tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "env-db-host", cfg.Database.Host)
	assert.Equal(t, "env-secret", cfg.Database.Password)
	assert.Equal(t, 2, cfg.Claim.RatePerMinute)
	assert.NotEmpty(t, cfg.Gateway.SignerKey)
}
