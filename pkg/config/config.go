// Package config loads daemon configuration from the environment.
//
// A .env file in the working directory is applied first when present, then
// IAMCORE_* variables are parsed into Config. Defaults target local
// development; production deployments must set the key material explicitly.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/authapp/iamcore/pkg/logging"
)

// Config carries every tunable of the iamcored process.
type Config struct {
	Environment string `env:"IAMCORE_ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"IAMCORE_LOG_LEVEL"`

	// DBPath is the SQLite database file holding the event log and the
	// projection tables.
	DBPath string `env:"IAMCORE_DB_PATH" envDefault:"data/iamcore.db"`

	// MasterKeyURL selects the secret keeper guarding the AES master key
	// (base64key:// in development, a KMS URL in production). MasterKeySealed
	// is the keeper-encrypted key, base64 encoded. When both are empty the
	// daemon generates an ephemeral key and secrets do not survive restarts.
	MasterKeyURL    string `env:"IAMCORE_MASTER_KEY_URL"`
	MasterKeySealed string `env:"IAMCORE_MASTER_KEY"`
	EncryptionKeyID string `env:"IAMCORE_ENCRYPTION_KEY_ID" envDefault:"v1"`

	// TokenSigningKey signs personal access tokens.
	TokenSigningKey string `env:"IAMCORE_TOKEN_SIGNING_KEY"`

	// InstanceID scopes the daemon's own tenant. The bootstrap fields seed
	// it on first start with an organization and an IAM owner; an empty
	// BootstrapPassword is generated and logged once.
	InstanceID        string `env:"IAMCORE_INSTANCE_ID" envDefault:"default"`
	BootstrapInstance string `env:"IAMCORE_BOOTSTRAP_INSTANCE" envDefault:"IAM Core"`
	BootstrapOrg      string `env:"IAMCORE_BOOTSTRAP_ORG" envDefault:"Default Organization"`
	BootstrapUsername string `env:"IAMCORE_BOOTSTRAP_USERNAME" envDefault:"admin"`
	BootstrapEmail    string `env:"IAMCORE_BOOTSTRAP_EMAIL" envDefault:"admin@example.com"`
	BootstrapPassword string `env:"IAMCORE_BOOTSTRAP_PASSWORD"`

	// NATSURL points at the JetStream broker. NATSEmbedded runs one inside
	// the process instead, storing streams under NATSStoreDir.
	NATSURL      string `env:"IAMCORE_NATS_URL"`
	NATSEmbedded bool   `env:"IAMCORE_NATS_EMBEDDED" envDefault:"true"`
	NATSStoreDir string `env:"IAMCORE_NATS_STORE_DIR" envDefault:"data/nats"`

	// RedisAddr enables the Redis query cache when set. Empty keeps the
	// in-process cache.
	RedisAddr     string `env:"IAMCORE_REDIS_ADDR"`
	RedisPassword string `env:"IAMCORE_REDIS_PASSWORD"`

	// StaticBucketURL is the blob bucket for user avatars (mem://, file://,
	// or a cloud bucket URL).
	StaticBucketURL string `env:"IAMCORE_STATIC_BUCKET_URL" envDefault:"mem://"`

	ProjectionInterval time.Duration `env:"IAMCORE_PROJECTION_INTERVAL" envDefault:"200ms"`
	SessionLifetime    time.Duration `env:"IAMCORE_SESSION_LIFETIME" envDefault:"720h"`
	CacheTTL           time.Duration `env:"IAMCORE_CACHE_TTL" envDefault:"5s"`

	// TraceSampleRate is the fraction of traces exported, 0 disables tracing.
	TraceSampleRate float64 `env:"IAMCORE_TRACE_SAMPLE_RATE" envDefault:"0"`
}

// Load reads the .env file if one exists and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects combinations that would silently weaken a production
// deployment. Development fills the gaps with generated material instead.
func (c Config) validate() error {
	if c.MasterKeyURL == "" && c.MasterKeySealed != "" {
		return fmt.Errorf("IAMCORE_MASTER_KEY set without IAMCORE_MASTER_KEY_URL")
	}
	if c.MasterKeyURL != "" && c.MasterKeySealed == "" {
		return fmt.Errorf("IAMCORE_MASTER_KEY_URL set without IAMCORE_MASTER_KEY")
	}
	if c.Environment != logging.EnvProduction {
		return nil
	}
	if c.MasterKeyURL == "" {
		return fmt.Errorf("production requires IAMCORE_MASTER_KEY_URL and IAMCORE_MASTER_KEY")
	}
	if c.TokenSigningKey == "" {
		return fmt.Errorf("production requires IAMCORE_TOKEN_SIGNING_KEY")
	}
	if !c.NATSEmbedded && c.NATSURL == "" {
		return fmt.Errorf("production requires IAMCORE_NATS_URL when the embedded broker is off")
	}
	return nil
}
