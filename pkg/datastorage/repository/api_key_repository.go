package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
)

// ApiKeyRepository matches credentials by the SHA-256 hash of the full
// raw key, never a prefix — key_prefix exists purely for display.
type ApiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

// HashKey returns hex(SHA-256(rawKey)), the value stored and matched
// against on every request.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func (r *ApiKeyRepository) Create(ctx context.Context, k *models.ApiKey) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO api_keys (
	id, key_prefix, key_hash, tenant_id, agent_id, tier, request_count,
	billing_period_start, billing_period_reset_days, is_active, created_at, last_used_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		k.ID, k.KeyPrefix, k.KeyHash, k.TenantID, k.AgentID, string(k.Tier), k.RequestCount,
		k.BillingPeriodStart, k.BillingPeriodResetDays, k.IsActive, k.CreatedAt, sqlutil.ToNullTime(k.LastUsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.ErrorTypeConflict, "api key hash collision")
		}
		return apperrors.NewDatabaseError("insert api_key", err)
	}
	return nil
}

// FindByRawKey looks up an active key by the SHA-256 of the full raw key.
func (r *ApiKeyRepository) FindByRawKey(ctx context.Context, rawKey string) (*models.ApiKey, error) {
	const q = `
SELECT id, key_prefix, key_hash, tenant_id, agent_id, tier, request_count,
	billing_period_start, billing_period_reset_days, is_active, created_at, last_used_at
FROM api_keys WHERE key_hash = $1 AND is_active = true`

	row := r.db.QueryRowContext(ctx, q, HashKey(rawKey))
	k, err := scanApiKey(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewAuthError("invalid or inactive api key")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("fetch api_key", err)
	}
	return k, nil
}

// RecordUsage increments request_count, or resets it to 1 and rolls the
// billing window forward if the window has elapsed. It always stamps
// last_used_at.
func (r *ApiKeyRepository) RecordUsage(ctx context.Context, k *models.ApiKey, now time.Time) error {
	if k.WindowElapsed(now) {
		_, err := r.db.ExecContext(ctx, `
UPDATE api_keys SET request_count = 1, billing_period_start = $1, last_used_at = $1 WHERE id = $2`,
			now, k.ID)
		if err != nil {
			return apperrors.NewDatabaseError("reset api_key billing window", err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET request_count = request_count + 1, last_used_at = $1 WHERE id = $2`, now, k.ID)
	if err != nil {
		return apperrors.NewDatabaseError("record api_key usage", err)
	}
	return nil
}

func scanApiKey(row interface{ Scan(...any) error }) (*models.ApiKey, error) {
	var k models.ApiKey
	var tier string
	var lastUsedAt sql.NullTime
	err := row.Scan(&k.ID, &k.KeyPrefix, &k.KeyHash, &k.TenantID, &k.AgentID, &tier, &k.RequestCount,
		&k.BillingPeriodStart, &k.BillingPeriodResetDays, &k.IsActive, &k.CreatedAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	k.Tier = models.Tier(tier)
	k.LastUsedAt = sqlutil.FromNullTime(lastUsedAt)
	return &k, nil
}
