package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("HOLD_TTL", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 10*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 500, cfg.SweepBatch)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadMySQLRequiresDatabase(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_USER")

	t.Setenv("DB_USER", "app")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "trains")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "db", cfg.DBHost)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HOLD_TTL", "-1m")
	_, err = Load()
	assert.Error(t, err)
}

func TestRateLimitOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	rl := LoadRateLimitConfig()
	assert.Equal(t, 5, rl.Capacity)
	assert.Equal(t, 2*time.Second, rl.RefillInterval)
	assert.Equal(t, 10*time.Second, rl.TTL)
	assert.InDelta(t, 0.5, rl.PerSecond(), 1e-9)
}

func TestEnvBool(t *testing.T) {
	for in, want := range map[string]bool{"1": true, "TRUE": true, "on": true, "off": false, "0": false, "junk": true} {
		t.Setenv("X_FLAG", in)
		assert.Equal(t, want, envBool("X_FLAG", true), in)
	}
}

func TestLoadDotEnvKeepsExistingVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=9999\nX_DOTENV_ONLY=yes\n"), 0o600))
	t.Setenv("APP_PORT", "8081")
	t.Setenv("X_DOTENV_ONLY", "")
	require.NoError(t, os.Unsetenv("X_DOTENV_ONLY"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "8081", os.Getenv("APP_PORT"))
	assert.Equal(t, "yes", os.Getenv("X_DOTENV_ONLY"))
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
