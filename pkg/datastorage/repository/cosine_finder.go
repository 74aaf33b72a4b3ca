package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/dedup"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
	"github.com/hivemind-ai/hivemind/pkg/minhash"
)

// cosineQueryBudget caps Stage-1's wall-clock cost independently of the
// caller's context, matching the original cosine_stage.py's own timeout on
// the vector-candidate query.
const cosineQueryBudget = 2 * time.Second

// CosineFinder adapts the knowledge_items table to dedup.CosineFinder: it
// embeds the candidate content itself, then asks Postgres for the nearest
// neighbors under a distance threshold.
type CosineFinder struct {
	db        *sql.DB
	embedder  embedding.Embedder
	threshold float64
}

func NewCosineFinder(db *sql.DB, embedder embedding.Embedder, threshold float64) *CosineFinder {
	return &CosineFinder{db: db, embedder: embedder, threshold: threshold}
}

func (f *CosineFinder) FindCandidates(ctx context.Context, content, tenantID string, topK int) ([]dedup.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, cosineQueryBudget)
	defer cancel()

	vec, err := f.embedder.Embed(ctx, content)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "embed candidate content")
	}

	const q = `
SELECT id, content, content_hash, category, embedding <=> $2::vector AS distance
FROM knowledge_items
WHERE (tenant_id = $1 OR is_public = true)
  AND deleted_at IS NULL AND expired_at IS NULL
  AND embedding IS NOT NULL
  AND embedding <=> $2::vector < $3
ORDER BY distance ASC
LIMIT $4`

	rows, err := f.db.QueryContext(ctx, q, tenantID, encodeVector(vec), f.threshold, topK)
	if err != nil {
		return nil, apperrors.NewDatabaseError("cosine candidate search", err)
	}
	defer rows.Close()

	var out []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		var category string
		if err := rows.Scan(&c.ID, &c.Content, &c.ContentHash, &category, &c.Distance); err != nil {
			return nil, apperrors.NewDatabaseError("scan cosine candidate", err)
		}
		c.Category = category
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate cosine candidates", err)
	}
	return out, nil
}

// MinhashSource fetches every current, non-deleted, non-expired item for a
// full-scan Rebuild of the process-wide MinHash-LSH index.
func MinhashSource(db *sql.DB) func(context.Context) ([]minhash.Item, error) {
	return func(ctx context.Context) ([]minhash.Item, error) {
		rows, err := db.QueryContext(ctx,
			`SELECT id, content FROM knowledge_items WHERE deleted_at IS NULL AND expired_at IS NULL`)
		if err != nil {
			return nil, apperrors.NewDatabaseError("minhash rebuild scan", err)
		}
		defer rows.Close()

		var items []minhash.Item
		for rows.Next() {
			var it minhash.Item
			if err := rows.Scan(&it.ID, &it.Content); err != nil {
				return nil, apperrors.NewDatabaseError("scan minhash source row", err)
			}
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return nil, apperrors.NewDatabaseError("iterate minhash source rows", err)
		}
		return items, nil
	}
}
