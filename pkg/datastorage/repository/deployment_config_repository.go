package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
)

// DeploymentConfigRepository is the process-wide key/value store. It
// satisfies embedding.DeploymentConfigStore directly.
type DeploymentConfigRepository struct {
	db *sql.DB
}

func NewDeploymentConfigRepository(db *sql.DB) *DeploymentConfigRepository {
	return &DeploymentConfigRepository{db: db}
}

func (r *DeploymentConfigRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM deployment_config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewDatabaseError("read deployment_config", err)
	}
	return value, true, nil
}

func (r *DeploymentConfigRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO deployment_config (key, value, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return apperrors.NewDatabaseError("write deployment_config", err)
	}
	return nil
}
