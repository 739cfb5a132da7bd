package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTOML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return fromViper(v)
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "lms-sync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "sis", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)

		assert.False(t, cfg.Moodle.SyncEnabled)
		assert.Equal(t, 30*time.Second, cfg.Moodle.Timeout)
		assert.Equal(t, 300*time.Second, cfg.Moodle.BulkTimeout)
		assert.Equal(t, int64(1), cfg.Moodle.DefaultCategoryID)
		assert.Equal(t, 1, cfg.Sync.BatchWorkers)
		assert.Equal(t, "memory", cfg.Sync.LockBackend)
		assert.Equal(t, 24*time.Hour, cfg.Sync.RecentWindow)
		assert.False(t, cfg.Scheduler.GradeImportEnabled)
		assert.Equal(t, 3, cfg.Scheduler.GradeImportMaxRetries)
		assert.Equal(t, 60*time.Second, cfg.Scheduler.GradeImportRetryBase)
		assert.Empty(t, cfg.Grading.Boundaries)
	})

	t.Run("loads values from environment variables with LMSSYNC prefix", func(t *testing.T) {
		t.Setenv("LMSSYNC_APP_NAME", "test-app")
		t.Setenv("LMSSYNC_DATABASE_HOST", "testdb.local")
		t.Setenv("LMSSYNC_DATABASE_PORT", "5433")
		t.Setenv("LMSSYNC_MOODLE_URL", "https://lms.example.edu/")
		t.Setenv("LMSSYNC_MOODLE_TOKEN", "tok")
		t.Setenv("LMSSYNC_MOODLE_SYNC_ENABLED", "true")
		t.Setenv("LMSSYNC_MOODLE_TIMEOUT_SECONDS", "5")
		t.Setenv("LMSSYNC_SYNC_BATCH_WORKERS", "4")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "https://lms.example.edu", cfg.Moodle.URL, "trailing slash trimmed")
		assert.True(t, cfg.Moodle.Configured())
		assert.Equal(t, 5*time.Second, cfg.Moodle.Timeout)
		assert.Equal(t, 4, cfg.Sync.BatchWorkers)
		assert.Equal(t, "test-app", cfg.Telemetry.ServiceName)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		t.Setenv("LMSSYNC_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("LMSSYNC_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("sync enabled requires endpoint and token", func(t *testing.T) {
		t.Setenv("LMSSYNC_MOODLE_SYNC_ENABLED", "true")
		t.Setenv("LMSSYNC_MOODLE_URL", "https://lms.example.edu")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "moodle.token")
	})

	t.Run("rejects relative moodle url", func(t *testing.T) {
		t.Setenv("LMSSYNC_MOODLE_URL", "lms.example.edu")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absolute URL")
	})

	t.Run("rejects unknown lock backend", func(t *testing.T) {
		t.Setenv("LMSSYNC_SYNC_LOCK_BACKEND", "etcd")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock_backend")
	})
}

func TestLoad_GradingBoundaries(t *testing.T) {
	t.Run("reads a custom table", func(t *testing.T) {
		cfg, err := loadTOML(t, `
[[grading.boundaries]]
letter = "P"
min_score = 50
points = 1.0

[[grading.boundaries]]
letter = "NP"
min_score = 0
points = 0.0
`)
		require.NoError(t, err)
		require.Len(t, cfg.Grading.Boundaries, 2)
		assert.Equal(t, "P", cfg.Grading.Boundaries[0].Letter)
		assert.Equal(t, 50.0, cfg.Grading.Boundaries[0].MinScore)
	})

	t.Run("rejects ascending table", func(t *testing.T) {
		_, err := loadTOML(t, `
[[grading.boundaries]]
letter = "F"
min_score = 0
points = 0.0

[[grading.boundaries]]
letter = "A"
min_score = 90
points = 4.0
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strictly descending")
	})

	t.Run("rejects table without zero floor", func(t *testing.T) {
		_, err := loadTOML(t, `
[[grading.boundaries]]
letter = "A"
min_score = 90
points = 4.0
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_score 0")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		t.Setenv("LMSSYNC_APP_ENV", "production")
		t.Setenv("LMSSYNC_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		t.Setenv("LMSSYNC_DATABASE_PASSWORD", "secure-password")
		t.Setenv("LMSSYNC_DATABASE_SSLMODE", "require")
		t.Setenv("LMSSYNC_MOODLE_WEBHOOK_SECRET", "hook-secret")
	}

	t.Run("requires jwt.secret in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LMSSYNC_JWT_SECRET", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret is required in production")
	})

	t.Run("requires jwt.secret at least 32 characters in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LMSSYNC_JWT_SECRET", "short-secret")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 32 characters")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LMSSYNC_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.sslmode cannot be 'disable' in production")
	})

	t.Run("requires webhook secret in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LMSSYNC_MOODLE_WEBHOOK_SECRET", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook_secret")
	})

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass@word#123", DBName: "db", SSLMode: "disable"}
		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}
