package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL_NAME", "bge-m3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 300*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, "local", cfg.Embedding.Mode)
	assert.Equal(t, "bge-m3", cfg.Embedding.ModelName)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Workers.PollInterval)
	assert.Equal(t, 10, cfg.Workers.EnrichmentBatchSize)
	assert.Equal(t, 2, cfg.Workers.LLMMaxConcurrency)
	assert.Equal(t, 128, cfg.Workers.MigrationBatchSize)
	assert.Equal(t, 500, cfg.Chunker.ChunkTokens)
	assert.Equal(t, 80, cfg.Chunker.OverlapTokens)
	assert.Equal(t, "cl100k_base", cfg.Chunker.Encoding)
	assert.Equal(t, 8010, cfg.Server.Port)
	assert.False(t, cfg.OCR.Enabled)
	assert.False(t, cfg.Graph.Active())
	assert.Equal(t, "documents", cfg.Object.Bucket)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL_NAME", "bge-m3")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("LLM_PROVIDER", "vllm")
	t.Setenv("LLM_REQUEST_TIMEOUT", "60")
	t.Setenv("EMBEDDING_MODE", "api")
	t.Setenv("EMBEDDING_API_BASE", "http://embed:8080")
	t.Setenv("NEO4J_ENABLED", "true")
	t.Setenv("NEO4J_URI", "bolt://graph:7687")
	t.Setenv("MINIO_BUCKET_NAME", "uploads")
	t.Setenv("CHUNKER_CHUNK_TOKENS", "256")
	t.Setenv("OCR_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, "vllm", cfg.LLM.Provider)
	assert.Equal(t, time.Minute, cfg.LLM.RequestTimeout)
	assert.Equal(t, "api", cfg.Embedding.Mode)
	assert.Equal(t, "http://embed:8080", cfg.Embedding.APIBase)
	assert.True(t, cfg.Graph.Active())
	assert.Equal(t, "uploads", cfg.Object.Bucket)
	assert.Equal(t, 256, cfg.Chunker.ChunkTokens)
	assert.True(t, cfg.OCR.Enabled)
}

func TestGraphToggleGatesURI(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL_NAME", "m")
	t.Setenv("NEO4J_URI", "bolt://graph:7687")

	cfg, err := Load()
	require.NoError(t, err)
	// a configured URI alone must not enable the graph store
	assert.False(t, cfg.Graph.Active())

	t.Setenv("NEO4J_ENABLED", "true")
	t.Setenv("NEO4J_URI", "")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.Graph.Active())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing embedding model",
			env:     map[string]string{},
			wantErr: "EMBEDDING_MODEL_NAME",
		},
		{
			name: "bad llm provider",
			env: map[string]string{
				"EMBEDDING_MODEL_NAME": "m",
				"LLM_PROVIDER":         "gemini",
			},
			wantErr: "LLM_PROVIDER",
		},
		{
			name: "bad embedding mode",
			env: map[string]string{
				"EMBEDDING_MODEL_NAME": "m",
				"EMBEDDING_MODE":       "remote",
			},
			wantErr: "EMBEDDING_MODE",
		},
		{
			name: "api mode without base",
			env: map[string]string{
				"EMBEDDING_MODEL_NAME": "m",
				"EMBEDDING_MODE":       "api",
			},
			wantErr: "EMBEDDING_API_BASE",
		},
		{
			name: "bad generator dialect",
			env: map[string]string{
				"EMBEDDING_MODEL_NAME": "m",
				"EMBEDDING_GENERATOR":  "tei",
			},
			wantErr: "EMBEDDING_GENERATOR",
		},
		{
			name: "zero batch size",
			env: map[string]string{
				"EMBEDDING_MODEL_NAME":  "m",
				"ENRICHMENT_BATCH_SIZE": "0",
			},
			wantErr: "ENRICHMENT_BATCH_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5433 dbname=n user=u password=p sslmode=disable", d.DSN())
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL_NAME", "m")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Object.UseSSL)
}
