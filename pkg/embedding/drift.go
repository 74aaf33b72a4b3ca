package embedding

import (
	"context"

	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
	"go.uber.org/zap"
)

// DeploymentConfigStore is the minimal key/value contract drift detection
// needs from the deployment config table.
type DeploymentConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

const (
	keyEmbeddingModelID   = "embedding_model_id"
	keyEmbeddingModelRev  = "embedding_model_revision"
)

// CheckAndRecordModelIdentity writes (model_id, revision) to
// DeploymentConfig on first startup, and on every later startup compares
// the configured identity against what was previously recorded. A
// mismatch only logs a drift warning — it never blocks startup, since the
// spec stops short of requiring a hard fail here.
func CheckAndRecordModelIdentity(ctx context.Context, store DeploymentConfigStore, e Embedder, logger *zap.Logger) error {
	prevID, hadID, err := store.Get(ctx, keyEmbeddingModelID)
	if err != nil {
		return err
	}
	prevRev, hadRev, err := store.Get(ctx, keyEmbeddingModelRev)
	if err != nil {
		return err
	}

	if hadID && hadRev && (prevID != e.ModelID() || prevRev != e.ModelRevision()) {
		logger.Warn("embedding model identity drift detected",
			logging.NewFields().
				Component("embedding").
				Operation("startup_drift_check").
				Zap()...,
		)
		logger.Warn("embedding identity changed",
			zap.String("previous_model_id", prevID),
			zap.String("previous_revision", prevRev),
			zap.String("current_model_id", e.ModelID()),
			zap.String("current_revision", e.ModelRevision()),
		)
	}

	if err := store.Set(ctx, keyEmbeddingModelID, e.ModelID()); err != nil {
		return err
	}
	return store.Set(ctx, keyEmbeddingModelRev, e.ModelRevision())
}
