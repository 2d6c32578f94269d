package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, QueueDriverMemory, cfg.QueueDriver)
	assert.Equal(t, "upload_runs", cfg.UploadQueue)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.StaleAfter)
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_USER", "crm")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_NAME", "leads")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://crm:secret@db:5432/leads?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	t.Setenv("WORKER_COUNT", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("WORKER_COUNT", "0")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("QUEUE_DRIVER", "kafka")
	_, err = Load()
	assert.Error(t, err)
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	assert.Error(t, err)
}
