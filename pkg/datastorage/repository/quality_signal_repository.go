package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
)

// QualitySignalRepository appends behavioral events. Rows are never
// updated or deleted once written.
type QualitySignalRepository struct {
	db *sql.DB
}

func NewQualitySignalRepository(db *sql.DB) *QualitySignalRepository {
	return &QualitySignalRepository{db: db}
}

func (r *QualitySignalRepository) Append(ctx context.Context, s *models.QualitySignal) error {
	metadata, err := sqlutil.ToNullJSON(s.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "marshal signal metadata")
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO quality_signals (id, knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.KnowledgeItemID, string(s.SignalType), sqlutil.ToNullString(s.AgentID),
		sqlutil.ToNullString(s.RunID), metadata, s.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("append quality_signal", err)
	}
	return nil
}

// AppendRetrievalBatch logs one "retrieval" signal per id, mirroring the
// counter bump done alongside it. Best-effort: the hybrid retriever treats
// a failure here as non-fatal to the search response already returned.
func (r *QualitySignalRepository) AppendRetrievalBatch(ctx context.Context, ids []string, newID func() string) error {
	for _, id := range ids {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO quality_signals (id, knowledge_item_id, signal_type, created_at)
VALUES ($1, $2, 'retrieval', now())`, newID(), id)
		if err != nil {
			return apperrors.NewDatabaseError("append retrieval signal", err)
		}
	}
	return nil
}

// HasOutcomeSignal checks the effectively-unique (item_id, run_id, type)
// constraint for outcome signals before an insert, enforced by
// check-then-insert rather than a DB constraint.
func (r *QualitySignalRepository) HasOutcomeSignal(ctx context.Context, itemID, runID string, signalType models.SignalType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS(
	SELECT 1 FROM quality_signals
	WHERE knowledge_item_id = $1 AND run_id = $2 AND signal_type = $3
)`, itemID, runID, string(signalType)).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("check outcome signal", err)
	}
	return exists, nil
}
