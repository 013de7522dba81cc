package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// embeddingConfigKey is the settings row holding the persisted embedding
// identity: model name, dimension and version.
const embeddingConfigKey = "embedding_config"

// GetEmbeddingConfig returns the persisted embedding configuration, or
// storage.ErrNotFound when none has been written yet.
func (s *Store) GetEmbeddingConfig(ctx context.Context) (*types.EmbeddingConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", embeddingConfigKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load embedding config: %w", err)
	}

	var cfg types.EmbeddingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode embedding config: %w", err)
	}
	return &cfg, nil
}

// SaveEmbeddingConfig upserts the embedding configuration.
func (s *Store) SaveEmbeddingConfig(ctx context.Context, cfg *types.EmbeddingConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode embedding config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, description)
		VALUES ($1, $2, 'Active embedding model, dimension and version')
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		embeddingConfigKey, raw)
	if err != nil {
		return fmt.Errorf("postgres: failed to save embedding config: %w", err)
	}
	return nil
}
