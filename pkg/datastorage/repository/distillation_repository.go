package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
	"github.com/hivemind-ai/hivemind/pkg/distillation"
)

// distillationLastRunKeyPrefix namespaces the per-tenant run marker in
// deployment_config, mirroring qualityAggregationLastRunKey's single-key
// approach but scoped per tenant since distillation thresholds are
// evaluated per tenant.
const distillationLastRunKeyPrefix = "distillation_last_run:"

// DistillationRepository backs distillation.Store against
// knowledge_items, pending_contributions, quality_signals, and
// deployment_config.
type DistillationRepository struct {
	db      *sql.DB
	items   *KnowledgeItemRepository
}

func NewDistillationRepository(db *sql.DB, items *KnowledgeItemRepository) *DistillationRepository {
	return &DistillationRepository{db: db, items: items}
}

func (r *DistillationRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT tenant_id FROM knowledge_items WHERE deleted_at IS NULL AND expired_at IS NULL
UNION
SELECT DISTINCT tenant_id FROM pending_contributions`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list distillation tenants", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, apperrors.NewDatabaseError("scan tenant id", err)
		}
		out = append(out, tenantID)
	}
	return out, rows.Err()
}

func (r *DistillationRepository) PendingCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_contributions WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count pending contributions", err)
	}
	return count, nil
}

func (r *DistillationRepository) ContradictionSignalsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM quality_signals qs
JOIN knowledge_items ki ON ki.id = qs.knowledge_item_id
WHERE ki.tenant_id = $1 AND qs.signal_type = 'contradiction' AND qs.created_at > $2`,
		tenantID, since).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count contradiction signals since", err)
	}
	return count, nil
}

func (r *DistillationRepository) GetLastRun(ctx context.Context, tenantID string) (time.Time, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM deployment_config WHERE key = $1`,
		distillationLastRunKeyPrefix+tenantID).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperrors.NewDatabaseError("read distillation_last_run", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "parse distillation_last_run")
	}
	return t, true, nil
}

func (r *DistillationRepository) SetLastRun(ctx context.Context, tenantID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO deployment_config (key, value, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		distillationLastRunKeyPrefix+tenantID, at.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.NewDatabaseError("write distillation_last_run", err)
	}
	return nil
}

// DuplicateGroups groups current items by content_hash within tenantID,
// keeping only groups with more than one member.
func (r *DistillationRepository) DuplicateGroups(ctx context.Context, tenantID string) ([]distillation.DuplicateGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT content_hash, id, quality_score FROM knowledge_items
WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL
ORDER BY content_hash`, tenantID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load duplicate candidates", err)
	}
	defer rows.Close()

	byHash := make(map[string][]distillation.DuplicateMember)
	var order []string
	for rows.Next() {
		var hash, id string
		var score float64
		if err := rows.Scan(&hash, &id, &score); err != nil {
			return nil, apperrors.NewDatabaseError("scan duplicate candidate", err)
		}
		if _, seen := byHash[hash]; !seen {
			order = append(order, hash)
		}
		byHash[hash] = append(byHash[hash], distillation.DuplicateMember{ID: id, QualityScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate duplicate candidates", err)
	}

	var out []distillation.DuplicateGroup
	for _, hash := range order {
		members := byHash[hash]
		if len(members) < 2 {
			continue
		}
		out = append(out, distillation.DuplicateGroup{ContentHash: hash, Items: members})
	}
	return out, nil
}

func (r *DistillationRepository) ExpireItem(ctx context.Context, tenantID, itemID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET expired_at = $1 WHERE tenant_id = $2 AND id = $3 AND expired_at IS NULL`,
		at, tenantID, itemID)
	if err != nil {
		return apperrors.NewDatabaseError("expire duplicate item", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// AppendProvenanceLinks merges supersededIDs into canonicalID's
// tags.provenance_links array.
func (r *DistillationRepository) AppendProvenanceLinks(ctx context.Context, tenantID, canonicalID string, supersededIDs []string) error {
	var existingTags sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT tags FROM knowledge_items WHERE tenant_id = $1 AND id = $2`, tenantID, canonicalID).Scan(&existingTags)
	if err != nil {
		return apperrors.NewDatabaseError("load canonical item tags", err)
	}

	tags, err := sqlutil.FromNullJSONMap(existingTags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "unmarshal canonical item tags")
	}
	if tags == nil {
		tags = map[string]any{}
	}

	links, _ := tags["provenance_links"].([]any)
	for _, id := range supersededIDs {
		links = append(links, id)
	}
	tags["provenance_links"] = links

	encoded, err := sqlutil.ToNullJSON(tags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "marshal canonical item tags")
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET tags = $1 WHERE tenant_id = $2 AND id = $3`, encoded, tenantID, canonicalID)
	if err != nil {
		return apperrors.NewDatabaseError("update canonical item tags", err)
	}
	return nil
}

// ContradictionGroups groups current items carrying a contradiction
// signal by category, keeping only groups with at least two members.
func (r *DistillationRepository) ContradictionGroups(ctx context.Context, tenantID string) ([]distillation.ContradictionGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT ki.category, ki.id
FROM knowledge_items ki
JOIN quality_signals qs ON qs.knowledge_item_id = ki.id
WHERE ki.tenant_id = $1 AND ki.deleted_at IS NULL AND ki.expired_at IS NULL
  AND qs.signal_type = 'contradiction'
GROUP BY ki.category, ki.id
ORDER BY ki.category`, tenantID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load contradiction candidates", err)
	}
	defer rows.Close()

	byCategory := make(map[string][]string)
	var order []string
	for rows.Next() {
		var category, id string
		if err := rows.Scan(&category, &id); err != nil {
			return nil, apperrors.NewDatabaseError("scan contradiction candidate", err)
		}
		if _, seen := byCategory[category]; !seen {
			order = append(order, category)
		}
		byCategory[category] = append(byCategory[category], id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate contradiction candidates", err)
	}

	var out []distillation.ContradictionGroup
	for _, category := range order {
		ids := byCategory[category]
		if len(ids) < 2 {
			continue
		}
		out = append(out, distillation.ContradictionGroup{Category: category, ItemIDs: ids})
	}
	return out, nil
}

func (r *DistillationRepository) AppendSignal(ctx context.Context, signal *models.QualitySignal) error {
	metadata, err := sqlutil.ToNullJSON(signal.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "marshal signal metadata")
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO quality_signals (id, knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		signal.ID, signal.KnowledgeItemID, string(signal.SignalType),
		sqlutil.ToNullString(signal.AgentID), sqlutil.ToNullString(signal.RunID), metadata, signal.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert quality_signal", err)
	}
	return nil
}

func (r *DistillationRepository) CategoriesWithCurrentItems(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT category FROM knowledge_items
WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL AND embedding IS NOT NULL`, tenantID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list categories with current items", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, apperrors.NewDatabaseError("scan category", err)
		}
		out = append(out, category)
	}
	return out, rows.Err()
}

func (r *DistillationRepository) ClusterCandidates(ctx context.Context, tenantID, category string) ([]distillation.ClusterItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, content, embedding FROM knowledge_items
WHERE tenant_id = $1 AND category = $2 AND deleted_at IS NULL AND expired_at IS NULL AND embedding IS NOT NULL`,
		tenantID, category)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load cluster candidates", err)
	}
	defer rows.Close()

	var out []distillation.ClusterItem
	for rows.Next() {
		var id, content, embeddingText string
		if err := rows.Scan(&id, &content, &embeddingText); err != nil {
			return nil, apperrors.NewDatabaseError("scan cluster candidate", err)
		}
		vec, err := decodeVector(embeddingText)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "decode cluster candidate embedding")
		}
		out = append(out, distillation.ClusterItem{ID: id, Content: content, Embedding: vec})
	}
	return out, rows.Err()
}

func (r *DistillationRepository) InsertDistilledItem(ctx context.Context, item *models.KnowledgeItem) error {
	return r.items.Insert(ctx, item)
}

func (r *DistillationRepository) PendingNonFlagged(ctx context.Context, tenantID string) ([]*models.PendingContribution, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, source_agent_id, run_id, content, content_hash, category, confidence,
       framework, language, version, tags, contributed_at, is_sensitive_flagged
FROM pending_contributions WHERE tenant_id = $1 AND is_sensitive_flagged = false`, tenantID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list non-flagged pending contributions", err)
	}
	defer rows.Close()

	var out []*models.PendingContribution
	for rows.Next() {
		p := &models.PendingContribution{}
		var runID, framework, language, version sql.NullString
		var tags sql.NullString
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SourceAgentID, &runID, &p.Content, &p.ContentHash,
			&p.Category, &p.Confidence, &framework, &language, &version, &tags, &p.ContributedAt, &p.IsSensitiveFlagged); err != nil {
			return nil, apperrors.NewDatabaseError("scan pending contribution", err)
		}
		p.RunID = sqlutil.FromNullString(runID)
		p.Framework = sqlutil.FromNullString(framework)
		p.Language = sqlutil.FromNullString(language)
		p.Version = sqlutil.FromNullString(version)
		decodedTags, err := sqlutil.FromNullJSONMap(tags)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "unmarshal pending contribution tags")
		}
		p.Tags = decodedTags
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *DistillationRepository) FlagPendingSensitive(ctx context.Context, tenantID, pendingID string, preliminaryScore float64) error {
	var existingTags sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT tags FROM pending_contributions WHERE tenant_id = $1 AND id = $2`, tenantID, pendingID).Scan(&existingTags)
	if err != nil {
		return apperrors.NewDatabaseError("load pending contribution tags", err)
	}
	tags, err := sqlutil.FromNullJSONMap(existingTags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "unmarshal pending contribution tags")
	}
	if tags == nil {
		tags = map[string]any{}
	}
	tags["preliminary_score"] = preliminaryScore

	encoded, err := sqlutil.ToNullJSON(tags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "marshal pending contribution tags")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_contributions SET is_sensitive_flagged = true, tags = $1 WHERE tenant_id = $2 AND id = $3`,
		encoded, tenantID, pendingID)
	if err != nil {
		return apperrors.NewDatabaseError("flag pending contribution sensitive", err)
	}
	return requireRowsAffected(res, "pending_contribution")
}
