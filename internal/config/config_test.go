package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.True(t, cfg.RAG.FailFast)
	assert.Equal(t, "index", cfg.Storage.IndexName)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[rag]
chunk_size = 800
chunk_overlap = 100
top_k = 3

[storage]
index_root = "/srv/index"
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("RAG_FAIL_FAST", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 7, cfg.RAG.TopK)
	assert.False(t, cfg.RAG.FailFast)
	assert.Equal(t, "/srv/index", cfg.Storage.IndexRoot)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not smaller than size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"non positive top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"empty index root", func(c *Config) { c.Storage.IndexRoot = " " }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultConfig().Validate())
}

func TestBadIntEnvFallsBack(t *testing.T) {
	t.Setenv("APP_PORT", "not-a-number")
	assert.Equal(t, 8080, getEnvAsInt("APP_PORT", 8080))
}
