package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
	"github.com/hivemind-ai/hivemind/pkg/minhash"
)

// KnowledgeItemRepository is the bi-temporal store for the authoritative
// knowledge entity. Every method that accepts a tenantID scopes its query
// to that tenant, plus publicly-visible rows where the operation allows it.
type KnowledgeItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewKnowledgeItemRepository(db *sql.DB, logger *zap.Logger) *KnowledgeItemRepository {
	return &KnowledgeItemRepository{db: db, logger: logger}
}

// Insert writes a new current-version row. Embedding may be nil for items
// still awaiting an embedding pass.
func (r *KnowledgeItemRepository) Insert(ctx context.Context, item *models.KnowledgeItem) error {
	tags, err := sqlutil.ToNullJSON(item.Tags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "marshal tags")
	}

	var embeddingArg any
	if len(item.Embedding) > 0 {
		embeddingArg = encodeVector(item.Embedding)
	}

	const q = `
INSERT INTO knowledge_items (
	id, tenant_id, is_public, source_agent_id, run_id, content, content_hash,
	category, confidence, framework, language, version, tags, embedding,
	quality_score, retrieval_count, helpful_count, not_helpful_count,
	contributed_at, valid_at, invalid_at, expired_at, deleted_at, approved_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`

	_, err = r.db.ExecContext(ctx, q,
		item.ID, item.TenantID, item.IsPublic, item.SourceAgentID,
		sqlutil.ToNullString(item.RunID), item.Content, item.ContentHash,
		string(item.Category), item.Confidence,
		sqlutil.ToNullString(item.Framework), sqlutil.ToNullString(item.Language), sqlutil.ToNullString(item.Version),
		tags, embeddingArg,
		item.QualityScore, item.RetrievalCount, item.HelpfulCount, item.NotHelpfulCount,
		item.ContributedAt, sqlutil.ToNullTime(item.ValidAt), sqlutil.ToNullTime(item.InvalidAt),
		sqlutil.ToNullTime(item.ExpiredAt), sqlutil.ToNullTime(item.DeletedAt), item.ApprovedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.ErrorTypeConflict, "knowledge item with this content already exists for tenant").
				WithDetailsf("content_hash=%s tenant_id=%s", item.ContentHash, item.TenantID)
		}
		return apperrors.NewDatabaseError("insert knowledge_item", err)
	}
	return nil
}

// FetchByID returns the item scoped to tenantID (or a public item from any
// tenant), or a not-found AppError. Cross-tenant private reads are
// deliberately indistinguishable from a missing id.
func (r *KnowledgeItemRepository) FetchByID(ctx context.Context, tenantID, id string) (*models.KnowledgeItem, error) {
	const q = `
SELECT id, tenant_id, is_public, source_agent_id, run_id, content, content_hash,
	category, confidence, framework, language, version, tags, embedding,
	quality_score, retrieval_count, helpful_count, not_helpful_count,
	contributed_at, valid_at, invalid_at, expired_at, deleted_at, approved_at
FROM knowledge_items
WHERE id = $1 AND (tenant_id = $2 OR is_public = true) AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, q, id, tenantID)
	item, err := scanKnowledgeItem(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("knowledge_item")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("fetch knowledge_item", err)
	}
	return item, nil
}

// SoftDelete marks an item invisible to all retrieval while retaining the
// row for audit.
func (r *KnowledgeItemRepository) SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET deleted_at = $1 WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`,
		at, id, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("soft-delete knowledge_item", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// ExpireItem sets the system-time end of the current version, implementing
// conflict.Store's UPDATE action.
func (r *KnowledgeItemRepository) ExpireItem(ctx context.Context, tenantID, itemID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET expired_at = $1 WHERE id = $2 AND tenant_id = $3 AND expired_at IS NULL`,
		at, itemID, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("expire knowledge_item", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// InvalidateItem sets the world-time end of the item's fact span,
// implementing conflict.Store's VERSION_FORK action.
func (r *KnowledgeItemRepository) InvalidateItem(ctx context.Context, tenantID, itemID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET invalid_at = $1 WHERE id = $2 AND tenant_id = $3 AND invalid_at IS NULL`,
		at, itemID, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("invalidate knowledge_item", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// IncrementRetrievalCounts bumps retrieval_count for every id in one
// statement. Called asynchronously after a search response is built;
// failure here never affects the response already sent.
func (r *KnowledgeItemRepository) IncrementRetrievalCounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET retrieval_count = retrieval_count + 1 WHERE id = ANY($1)`,
		pqStringArray(ids))
	if err != nil {
		return apperrors.NewDatabaseError("increment retrieval_count", err)
	}
	return nil
}

// RecordOutcome applies a helpful/not-helpful vote to the counters.
func (r *KnowledgeItemRepository) RecordOutcome(ctx context.Context, tenantID, itemID string, helpful bool) error {
	col := "not_helpful_count"
	if helpful {
		col = "helpful_count"
	}
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE knowledge_items SET %s = %s + 1 WHERE id = $1 AND (tenant_id = $2 OR is_public = true) AND deleted_at IS NULL`, col, col),
		itemID, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("record outcome", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// ListByTenant returns a tenant's own current, non-deleted items (simple
// chronological paging, not the hybrid retriever), plus the total matching
// count for pagination.
func (r *KnowledgeItemRepository) ListByTenant(ctx context.Context, tenantID string, category *models.KnowledgeCategory, limit, offset int) ([]*models.KnowledgeItem, int, error) {
	var categoryFilter any
	if category != nil {
		categoryFilter = string(*category)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM knowledge_items
WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL AND ($2::text IS NULL OR category = $2)`,
		tenantID, categoryFilter).Scan(&total); err != nil {
		return nil, 0, apperrors.NewDatabaseError("count knowledge_items", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, is_public, source_agent_id, run_id, content, content_hash,
	category, confidence, framework, language, version, tags, embedding,
	quality_score, retrieval_count, helpful_count, not_helpful_count,
	contributed_at, valid_at, invalid_at, expired_at, deleted_at, approved_at
FROM knowledge_items
WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL AND ($2::text IS NULL OR category = $2)
ORDER BY contributed_at DESC LIMIT $3 OFFSET $4`, tenantID, categoryFilter, limit, offset)
	if err != nil {
		return nil, 0, apperrors.NewDatabaseError("list knowledge_items", err)
	}
	defer rows.Close()

	var out []*models.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, 0, apperrors.NewDatabaseError("scan knowledge_item", err)
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

// SetPublic flips an item's visibility flag. Only the owning tenant may
// call this — the caller checks that before reaching the repository.
func (r *KnowledgeItemRepository) SetPublic(ctx context.Context, tenantID, itemID string, isPublic bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_items SET is_public = $1 WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`,
		isPublic, itemID, tenantID)
	if err != nil {
		return apperrors.NewDatabaseError("set knowledge_item visibility", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}

// AllCurrentForMinhash returns the (id, content) of every current,
// non-deleted, non-expired item across every tenant — the full-scan
// source minhash.Index.Rebuild needs at startup or after an LSH
// parameter change.
func (r *KnowledgeItemRepository) AllCurrentForMinhash(ctx context.Context) ([]minhash.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, content FROM knowledge_items WHERE deleted_at IS NULL AND expired_at IS NULL`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan knowledge_items for minhash rebuild", err)
	}
	defer rows.Close()

	var items []minhash.Item
	for rows.Next() {
		var item minhash.Item
		if err := rows.Scan(&item.ID, &item.Content); err != nil {
			return nil, apperrors.NewDatabaseError("scan minhash rebuild row", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats is the aggregate shape behind /api/v1/stats/{commons,org,user}.
type Stats struct {
	TotalItems        int            `json:"total_items"`
	AvgQualityScore   float64        `json:"avg_quality_score"`
	TotalHelpful      int            `json:"total_helpful"`
	TotalNotHelpful   int            `json:"total_not_helpful"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
}

// CommonsStats aggregates across every tenant's publicly-shared items —
// the cross-tenant knowledge commons view.
func (r *KnowledgeItemRepository) CommonsStats(ctx context.Context) (Stats, error) {
	const where = `is_public = true AND deleted_at IS NULL AND expired_at IS NULL`
	return r.aggregateStats(ctx, where)
}

// OrgStats aggregates a single tenant's own items, public and private.
func (r *KnowledgeItemRepository) OrgStats(ctx context.Context, tenantID string) (Stats, error) {
	const where = `tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL`
	return r.aggregateStats(ctx, where, tenantID)
}

// UserStats aggregates one agent's own contributions within its tenant.
func (r *KnowledgeItemRepository) UserStats(ctx context.Context, tenantID, agentID string) (Stats, error) {
	const where = `tenant_id = $1 AND source_agent_id = $2 AND deleted_at IS NULL AND expired_at IS NULL`
	return r.aggregateStats(ctx, where, tenantID, agentID)
}

func (r *KnowledgeItemRepository) aggregateStats(ctx context.Context, whereClause string, args ...any) (Stats, error) {
	var stats Stats
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(AVG(quality_score), 0), COALESCE(SUM(helpful_count), 0), COALESCE(SUM(not_helpful_count), 0)
FROM knowledge_items WHERE `+whereClause, args...)
	if err := row.Scan(&stats.TotalItems, &stats.AvgQualityScore, &stats.TotalHelpful, &stats.TotalNotHelpful); err != nil {
		return Stats{}, apperrors.NewDatabaseError("aggregate knowledge_item stats", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT category, COUNT(*) FROM knowledge_items WHERE `+whereClause+` GROUP BY category`, args...)
	if err != nil {
		return Stats{}, apperrors.NewDatabaseError("aggregate knowledge_item category breakdown", err)
	}
	defer rows.Close()

	stats.CategoryBreakdown = map[string]int{}
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return Stats{}, apperrors.NewDatabaseError("scan category breakdown", err)
		}
		stats.CategoryBreakdown[category] = count
	}
	return stats, rows.Err()
}

func scanKnowledgeItem(row interface{ Scan(...any) error }) (*models.KnowledgeItem, error) {
	var item models.KnowledgeItem
	var runID, framework, language, version sql.NullString
	var tags sql.NullString
	var embedding sql.NullString
	var validAt, invalidAt, expiredAt, deletedAt sql.NullTime
	var category string

	err := row.Scan(
		&item.ID, &item.TenantID, &item.IsPublic, &item.SourceAgentID, &runID,
		&item.Content, &item.ContentHash, &category, &item.Confidence,
		&framework, &language, &version, &tags, &embedding,
		&item.QualityScore, &item.RetrievalCount, &item.HelpfulCount, &item.NotHelpfulCount,
		&item.ContributedAt, &validAt, &invalidAt, &expiredAt, &deletedAt, &item.ApprovedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Category = models.KnowledgeCategory(category)
	item.RunID = sqlutil.FromNullString(runID)
	item.Framework = sqlutil.FromNullString(framework)
	item.Language = sqlutil.FromNullString(language)
	item.Version = sqlutil.FromNullString(version)
	item.ValidAt = sqlutil.FromNullTime(validAt)
	item.InvalidAt = sqlutil.FromNullTime(invalidAt)
	item.ExpiredAt = sqlutil.FromNullTime(expiredAt)
	item.DeletedAt = sqlutil.FromNullTime(deletedAt)

	if tagMap, err := sqlutil.FromNullJSONMap(tags); err == nil {
		item.Tags = tagMap
	}
	if embedding.Valid {
		if vec, err := decodeVector(embedding.String); err == nil {
			item.Embedding = vec
		}
	}
	return &item, nil
}

func requireRowsAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("read rows affected", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource)
	}
	return nil
}

// isUniqueViolation inspects a driver error for a Postgres unique_violation
// (SQLSTATE 23505) without importing pgconn into every call site.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if as, ok := err.(sqlStater); ok {
		s = as
	}
	if s != nil {
		return s.SQLState() == "23505"
	}
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}

// pqStringArray renders a Go string slice as a Postgres array literal
// suitable for ANY($1) against a uuid[] or text[] parameter.
func pqStringArray(ids []string) string {
	elems := make([]string, len(ids))
	for i, id := range ids {
		elems[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(elems, ",") + "}"
}
