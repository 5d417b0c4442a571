package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "data/iamcore.db", cfg.DBPath)
	assert.Equal(t, "v1", cfg.EncryptionKeyID)
	assert.Equal(t, "default", cfg.InstanceID)
	assert.Equal(t, "admin", cfg.BootstrapUsername)
	assert.True(t, cfg.NATSEmbedded)
	assert.Equal(t, "mem://", cfg.StaticBucketURL)
	assert.Equal(t, 200*time.Millisecond, cfg.ProjectionInterval)
	assert.Equal(t, 720*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IAMCORE_DB_PATH", "/tmp/x.db")
	t.Setenv("IAMCORE_PROJECTION_INTERVAL", "50ms")
	t.Setenv("IAMCORE_REDIS_ADDR", "localhost:6379")
	t.Setenv("IAMCORE_TRACE_SAMPLE_RATE", "0.25")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 50*time.Millisecond, cfg.ProjectionInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 0.25, cfg.TraceSampleRate)
}

func TestLoadRejectsHalfConfiguredMasterKey(t *testing.T) {
	t.Setenv("IAMCORE_MASTER_KEY_URL", "base64key://")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IAMCORE_MASTER_KEY")
}

func TestLoadProductionRequiresKeyMaterial(t *testing.T) {
	t.Setenv("IAMCORE_ENVIRONMENT", "production")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IAMCORE_MASTER_KEY_URL")
}

func TestLoadProductionComplete(t *testing.T) {
	t.Setenv("IAMCORE_ENVIRONMENT", "production")
	t.Setenv("IAMCORE_MASTER_KEY_URL", "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4=")
	t.Setenv("IAMCORE_MASTER_KEY", "c2VhbGVk")
	t.Setenv("IAMCORE_TOKEN_SIGNING_KEY", "signing-key")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoadProductionRequiresBrokerURL(t *testing.T) {
	t.Setenv("IAMCORE_ENVIRONMENT", "production")
	t.Setenv("IAMCORE_MASTER_KEY_URL", "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4=")
	t.Setenv("IAMCORE_MASTER_KEY", "c2VhbGVk")
	t.Setenv("IAMCORE_TOKEN_SIGNING_KEY", "signing-key")
	t.Setenv("IAMCORE_NATS_EMBEDDED", "false")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IAMCORE_NATS_URL")
}
