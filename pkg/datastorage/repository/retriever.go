package repository

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
)

// SearchParams is the input to a hybrid retrieval call.
type SearchParams struct {
	Query    string
	TenantID string
	Category *models.KnowledgeCategory
	Limit    int
	Cursor   string
	AtTime   *time.Time
	Version  *string
}

// SearchHit is one ranked result row.
type SearchHit struct {
	ID               string                   `json:"id"`
	Title            string                   `json:"title"`
	Category         models.KnowledgeCategory `json:"category"`
	Confidence       float64                  `json:"confidence"`
	TenantAttributed bool                     `json:"tenant_attributed"`
	RelevanceScore   float64                  `json:"relevance_score"`
}

// SearchResult is a page of hits plus pagination metadata.
type SearchResult struct {
	Hits       []SearchHit `json:"hits"`
	TotalFound int         `json:"total_found"`
	NextCursor string      `json:"next_cursor"`
}

const maxResultLimit = 100

// DecodeCursor turns a pagination cursor into an offset; invalid cursors
// decode to 0 so a malformed or tampered cursor degrades to "start over"
// rather than erroring.
func DecodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// EncodeCursor renders an offset as a URL-safe pagination cursor.
func EncodeCursor(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// Search runs the single-statement hybrid BM25+vector RRF retrieval: a
// vector-similarity CTE and a full-text CTE are both capped at 20 rows,
// fused by reciprocal-rank, then boosted by quality_score before paging.
func (r *KnowledgeItemRepository) Search(ctx context.Context, e embedding.Embedder, p SearchParams) (SearchResult, error) {
	queryVec, err := e.Embed(ctx, p.Query)
	if err != nil {
		return SearchResult{}, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "embed query")
	}

	limit := p.Limit
	if limit <= 0 || limit > maxResultLimit {
		limit = maxResultLimit
	}
	offset := DecodeCursor(p.Cursor)

	atTime := time.Now().UTC()
	if p.AtTime != nil {
		atTime = *p.AtTime
	}

	var categoryFilter any
	if p.Category != nil {
		categoryFilter = string(*p.Category)
	}

	const q = `
WITH visible AS (
	SELECT id, content, content_hash, category, confidence, tenant_id, quality_score, embedding
	FROM knowledge_items
	WHERE (tenant_id = $1 OR is_public = true)
	  AND deleted_at IS NULL
	  AND expired_at IS NULL
	  AND (valid_at IS NULL OR valid_at <= $4)
	  AND (invalid_at IS NULL OR invalid_at > $4)
	  AND ($5::text IS NULL OR category = $5)
),
vector_ranked AS (
	SELECT id, content, content_hash, category, confidence, tenant_id, quality_score,
		ROW_NUMBER() OVER (ORDER BY embedding <=> $2::vector ASC) AS vec_rank
	FROM visible
	WHERE embedding IS NOT NULL
	ORDER BY embedding <=> $2::vector ASC
	LIMIT 20
),
text_ranked AS (
	SELECT id, content, content_hash, category, confidence, tenant_id, quality_score,
		ROW_NUMBER() OVER (ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $3)) DESC) AS text_rank
	FROM visible
	WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $3)
	ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $3)) DESC
	LIMIT 20
),
fused AS (
	SELECT
		COALESCE(v.id, t.id) AS id,
		COALESCE(v.content, t.content) AS content,
		COALESCE(v.content_hash, t.content_hash) AS content_hash,
		COALESCE(v.category, t.category) AS category,
		COALESCE(v.confidence, t.confidence) AS confidence,
		COALESCE(v.tenant_id, t.tenant_id) AS tenant_id,
		COALESCE(v.quality_score, t.quality_score) AS quality_score,
		(COALESCE(1.0 / (60 + v.vec_rank), 0) + COALESCE(1.0 / (60 + t.text_rank), 0)) AS rrf_score
	FROM vector_ranked v
	FULL OUTER JOIN text_ranked t ON v.id = t.id
)
SELECT id, content, content_hash, category, confidence, tenant_id,
	rrf_score * (0.7 + 0.3 * quality_score) AS final_score
FROM fused
ORDER BY final_score DESC`

	// Fetch unpaged (the two CTEs are already capped at 20 rows each, so the
	// fused set is small); dedup by content_hash, then page in memory.
	rows, err := r.db.QueryContext(ctx, q, p.TenantID, encodeVector(queryVec), p.Query, atTime, categoryFilter)
	if err != nil {
		return SearchResult{}, apperrors.NewDatabaseError("hybrid search", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var deduped []SearchHit
	rawCount := 0
	for rows.Next() {
		var id, content, contentHash, category, tenantID string
		var confidence, finalScore float64
		if err := rows.Scan(&id, &content, &contentHash, &category, &confidence, &tenantID, &finalScore); err != nil {
			return SearchResult{}, apperrors.NewDatabaseError("scan search row", err)
		}
		rawCount++
		if seen[contentHash] {
			continue
		}
		seen[contentHash] = true
		deduped = append(deduped, SearchHit{
			ID:               id,
			Title:            truncateTitle(content),
			Category:         models.KnowledgeCategory(category),
			Confidence:       confidence,
			TenantAttributed: tenantID == p.TenantID,
			RelevanceScore:   finalScore,
		})
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, apperrors.NewDatabaseError("iterate search rows", err)
	}

	start := offset
	if start > len(deduped) {
		start = len(deduped)
	}
	end := start + limit
	if end > len(deduped) {
		end = len(deduped)
	}
	page := deduped[start:end]

	return SearchResult{
		Hits:       page,
		TotalFound: len(deduped),
		NextCursor: EncodeCursor(end),
	}, nil
}

func truncateTitle(content string) string {
	const maxLen = 80
	r := []rune(content)
	if len(r) <= maxLen {
		return content
	}
	return string(r[:maxLen]) + "..."
}
