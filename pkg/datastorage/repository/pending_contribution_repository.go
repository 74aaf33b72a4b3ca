package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
)

// PendingContributionRepository manages the quarantined pre-approval
// queue. Rows here are destroyed on promotion or rejection, never soft
// deleted — the promoted KnowledgeItem (or nothing, on rejection) is the
// durable record.
type PendingContributionRepository struct {
	db *sql.DB
}

func NewPendingContributionRepository(db *sql.DB) *PendingContributionRepository {
	return &PendingContributionRepository{db: db}
}

func (r *PendingContributionRepository) Insert(ctx context.Context, c *models.PendingContribution) error {
	tags, err := sqlutil.ToNullJSON(c.Tags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "marshal tags")
	}

	const q = `
INSERT INTO pending_contributions (
	id, tenant_id, source_agent_id, run_id, content, content_hash, category,
	confidence, framework, language, version, tags, contributed_at, is_sensitive_flagged
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.TenantID, c.SourceAgentID, sqlutil.ToNullString(c.RunID), c.Content, c.ContentHash,
		string(c.Category), c.Confidence, sqlutil.ToNullString(c.Framework), sqlutil.ToNullString(c.Language),
		sqlutil.ToNullString(c.Version), tags, c.ContributedAt, c.IsSensitiveFlagged,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert pending_contribution", err)
	}
	return nil
}

func (r *PendingContributionRepository) FetchByID(ctx context.Context, tenantID, id string) (*models.PendingContribution, error) {
	const q = `
SELECT id, tenant_id, source_agent_id, run_id, content, content_hash, category,
	confidence, framework, language, version, tags, contributed_at, is_sensitive_flagged
FROM pending_contributions WHERE id = $1 AND tenant_id = $2`

	row := r.db.QueryRowContext(ctx, q, id, tenantID)
	c, err := scanPendingContribution(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("pending_contribution")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("fetch pending_contribution", err)
	}
	return c, nil
}

func (r *PendingContributionRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.PendingContribution, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, source_agent_id, run_id, content, content_hash, category,
	confidence, framework, language, version, tags, contributed_at, is_sensitive_flagged
FROM pending_contributions WHERE tenant_id = $1 ORDER BY contributed_at ASC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending_contributions", err)
	}
	defer rows.Close()

	var out []*models.PendingContribution
	for rows.Next() {
		c, err := scanPendingContribution(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan pending_contribution", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes the row — used both on rejection and after a successful
// promotion to KnowledgeItem.
func (r *PendingContributionRepository) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_contributions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("delete pending_contribution", err)
	}
	return requireRowsAffected(res, "pending_contribution")
}

func scanPendingContribution(row interface{ Scan(...any) error }) (*models.PendingContribution, error) {
	var c models.PendingContribution
	var runID, framework, language, version sql.NullString
	var tags sql.NullString
	var category string

	err := row.Scan(&c.ID, &c.TenantID, &c.SourceAgentID, &runID, &c.Content, &c.ContentHash,
		&category, &c.Confidence, &framework, &language, &version, &tags, &c.ContributedAt, &c.IsSensitiveFlagged)
	if err != nil {
		return nil, err
	}
	c.Category = models.KnowledgeCategory(category)
	c.RunID = sqlutil.FromNullString(runID)
	c.Framework = sqlutil.FromNullString(framework)
	c.Language = sqlutil.FromNullString(language)
	c.Version = sqlutil.FromNullString(version)
	if tagMap, err := sqlutil.FromNullJSONMap(tags); err == nil {
		c.Tags = tagMap
	}
	return &c, nil
}
