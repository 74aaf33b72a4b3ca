package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

// AutoApproveRuleRepository tracks which tenant/category pairs bypass the
// pending-contribution queue.
type AutoApproveRuleRepository struct {
	db *sql.DB
}

func NewAutoApproveRuleRepository(db *sql.DB) *AutoApproveRuleRepository {
	return &AutoApproveRuleRepository{db: db}
}

// IsAutoApproved reports whether tenantID has an active auto-approve rule
// for category. A missing row is treated as "not auto-approved".
func (r *AutoApproveRuleRepository) IsAutoApproved(ctx context.Context, tenantID string, category models.KnowledgeCategory) (bool, error) {
	var isAutoApprove bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_auto_approve FROM auto_approve_rules WHERE tenant_id = $1 AND category = $2`,
		tenantID, string(category)).Scan(&isAutoApprove)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewDatabaseError("read auto_approve_rule", err)
	}
	return isAutoApprove, nil
}

func (r *AutoApproveRuleRepository) Upsert(ctx context.Context, rule *models.AutoApproveRule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO auto_approve_rules (id, tenant_id, category, is_auto_approve, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (tenant_id, category) DO UPDATE SET is_auto_approve = EXCLUDED.is_auto_approve, updated_at = $5`,
		rule.ID, rule.TenantID, string(rule.Category), rule.IsAutoApprove, rule.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("upsert auto_approve_rule", err)
	}
	return nil
}
