package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/quality"
)

// QualityStoreRepository implements quality.Store against the
// quality_signals and knowledge_items tables, plus the deployment_config
// run marker.
type QualityStoreRepository struct {
	db *sql.DB
}

func NewQualityStoreRepository(db *sql.DB) *QualityStoreRepository {
	return &QualityStoreRepository{db: db}
}

const qualityAggregationLastRunKey = "quality_aggregation_last_run"

func (s *QualityStoreRepository) GetLastAggregationRun(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM deployment_config WHERE key = $1`, qualityAggregationLastRunKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperrors.NewDatabaseError("read quality_aggregation_last_run", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "parse quality_aggregation_last_run")
	}
	return t, true, nil
}

func (s *QualityStoreRepository) SetLastAggregationRun(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deployment_config (key, value, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		qualityAggregationLastRunKey, at.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.NewDatabaseError("write quality_aggregation_last_run", err)
	}
	return nil
}

// AffectedItemIDs returns the distinct knowledge_item_ids with a signal
// newer than since.
func (s *QualityStoreRepository) AffectedItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT knowledge_item_id FROM quality_signals WHERE created_at > $1`, since)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list affected items", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("scan affected item id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadSnapshot denormalizes one item's current counters, signal totals,
// and most recent retrieval time.
func (s *QualityStoreRepository) LoadSnapshot(ctx context.Context, itemID string) (quality.Snapshot, bool, error) {
	var snap quality.Snapshot
	var expiredAt sql.NullTime
	var approvedAt time.Time
	snap.ItemID = itemID

	err := s.db.QueryRowContext(ctx, `
SELECT retrieval_count, helpful_count, not_helpful_count, expired_at, approved_at
FROM knowledge_items WHERE id = $1`, itemID).
		Scan(&snap.RetrievalCount, &snap.HelpfulCount, &snap.NotHelpfulCount, &expiredAt, &approvedAt)
	if err == sql.ErrNoRows {
		return quality.Snapshot{}, false, nil
	}
	if err != nil {
		return quality.Snapshot{}, false, apperrors.NewDatabaseError("load quality snapshot", err)
	}
	snap.IsVersionCurrent = !expiredAt.Valid
	snap.ApprovedAt = &approvedAt

	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE signal_type = 'contradiction')
FROM quality_signals WHERE knowledge_item_id = $1`, itemID).
		Scan(&snap.TotalSignals, &snap.ContradictionSignals)
	if err != nil {
		return quality.Snapshot{}, false, apperrors.NewDatabaseError("count quality signals", err)
	}

	var lastRetrieval sql.NullTime
	err = s.db.QueryRowContext(ctx, `
SELECT MAX(created_at) FROM quality_signals WHERE knowledge_item_id = $1 AND signal_type = 'retrieval'`, itemID).
		Scan(&lastRetrieval)
	if err != nil {
		return quality.Snapshot{}, false, apperrors.NewDatabaseError("load last retrieval signal", err)
	}
	if lastRetrieval.Valid {
		snap.LastRetrievalAt = &lastRetrieval.Time
	}

	return snap, true, nil
}

func (s *QualityStoreRepository) UpdateQualityScore(ctx context.Context, itemID string, score float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_items SET quality_score = $1 WHERE id = $2`, score, itemID)
	if err != nil {
		return apperrors.NewDatabaseError("update quality_score", err)
	}
	return requireRowsAffected(res, "knowledge_item")
}
