package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "postgres://localhost:5432/saga?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "public", cfg.Database.Schema)
	assert.Equal(t, "saga_executions", cfg.Tables.Executions)
	assert.Equal(t, "saga_locks", cfg.Tables.Locks)
	assert.Equal(t, "saga_idempotency", cfg.Tables.Idempotency)
	assert.Equal(t, "saga_dispatch", cfg.Tables.Dispatch)
	assert.Equal(t, time.Minute, cfg.Recovery.GraceWindow)
}

func TestLoadFile_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagactl.yaml")

	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://db.example.test:5432/records"
	cfg.Database.Schema = "civic"
	cfg.Recovery.GraceWindow = 5 * time.Minute
	require.NoError(t, cfg.SaveFile(path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.example.test:5432/records", got.Database.URL)
	assert.Equal(t, "civic", got.Database.Schema)
	assert.Equal(t, 5*time.Minute, got.Recovery.GraceWindow)
	assert.Equal(t, "saga_executions", got.Tables.Executions)
}

func TestLoadFile_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagactl.yaml")
	partial := "database:\n  url: postgres://partial.example.test/saga\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://partial.example.test/saga", got.Database.URL)
	assert.Equal(t, "saga_locks", got.Tables.Locks)
	assert.Equal(t, time.Minute, got.Recovery.GraceWindow)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagactl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [notamap"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_EnvOverridesURL(t *testing.T) {
	t.Setenv("SAGACTL_DATABASE_URL", "postgres://env.example.test/saga")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env.example.test/saga", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	t.Run("fills empty fields", func(t *testing.T) {
		cfg := &Config{Database: DatabaseConfig{URL: "postgres://x/saga"}}
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "public", cfg.Database.Schema)
		assert.Equal(t, "saga_dispatch", cfg.Tables.Dispatch)
		assert.Equal(t, time.Minute, cfg.Recovery.GraceWindow)
	})

	t.Run("rejects empty url", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url")
	})
}
