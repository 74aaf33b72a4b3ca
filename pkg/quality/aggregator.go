package quality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hivemind/pkg/metrics"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// lastRunKey is the deployment_config key the aggregator uses to track
// incremental progress across runs.
const lastRunKey = "quality_aggregation_last_run"

// Snapshot is the denormalized signal state for one knowledge item at
// aggregation time.
type Snapshot struct {
	ItemID               string
	RetrievalCount       int
	HelpfulCount         int
	NotHelpfulCount      int
	TotalSignals         int
	ContradictionSignals int
	LastRetrievalAt      *time.Time
	ApprovedAt           *time.Time
	IsVersionCurrent     bool
}

// Store is the repository contract the aggregator needs.
type Store interface {
	GetLastAggregationRun(ctx context.Context) (time.Time, bool, error)
	SetLastAggregationRun(ctx context.Context, at time.Time) error
	AffectedItemIDs(ctx context.Context, since time.Time) ([]string, error)
	LoadSnapshot(ctx context.Context, itemID string) (Snapshot, bool, error)
	UpdateQualityScore(ctx context.Context, itemID string, score float64) error
}

// Aggregator periodically recomputes quality_score for every knowledge
// item that has received a new signal since the last run.
type Aggregator struct {
	store   Store
	weights Weights
	logger  *zap.Logger
}

func NewAggregator(store Store, weights Weights, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, weights: weights, logger: logger}
}

// RunOnce recomputes quality_score for every item with a signal newer than
// the last recorded run, then advances the run marker to now. It returns
// the count of items updated.
func (a *Aggregator) RunOnce(ctx context.Context, now time.Time) (int, error) {
	lastRun, exists, err := a.store.GetLastAggregationRun(ctx)
	if err != nil {
		return 0, fmt.Errorf("quality: read last aggregation run: %w", err)
	}
	if !exists {
		lastRun = time.Unix(0, 0).UTC()
	}

	affected, err := a.store.AffectedItemIDs(ctx, lastRun)
	if err != nil {
		return 0, fmt.Errorf("quality: list affected items: %w", err)
	}

	if len(affected) == 0 {
		if err := a.store.SetLastAggregationRun(ctx, now); err != nil {
			return 0, fmt.Errorf("quality: advance run marker: %w", err)
		}
		return 0, nil
	}

	updated := 0
	for _, itemID := range affected {
		snap, found, err := a.store.LoadSnapshot(ctx, itemID)
		if err != nil {
			a.logWarn("quality aggregator: snapshot load failed, skipping item", itemID, err)
			continue
		}
		if !found {
			a.logWarn("quality aggregator: item referenced in signals but missing, skipping", itemID, nil)
			continue
		}

		contradictionRate := 0.0
		if snap.TotalSignals > 0 {
			contradictionRate = float64(snap.ContradictionSignals) / float64(snap.TotalSignals)
		}

		daysSinceLastAccess := daysSince(now, snap.LastRetrievalAt, snap.ApprovedAt)

		score := Compute(Signals{
			RetrievalCount:      snap.RetrievalCount,
			HelpfulCount:        snap.HelpfulCount,
			NotHelpfulCount:     snap.NotHelpfulCount,
			ContradictionRate:   contradictionRate,
			DaysSinceLastAccess: daysSinceLastAccess,
			IsVersionCurrent:    snap.IsVersionCurrent,
		}, a.weights)

		if err := a.store.UpdateQualityScore(ctx, itemID, score); err != nil {
			a.logWarn("quality aggregator: score update failed, skipping item", itemID, err)
			continue
		}
		updated++
	}

	if err := a.store.SetLastAggregationRun(ctx, now); err != nil {
		return updated, fmt.Errorf("quality: advance run marker: %w", err)
	}
	return updated, nil
}

// daysSince prefers the most recent retrieval signal; falling back to the
// item's approval time when it has never been retrieved, and to zero when
// neither is known.
func daysSince(now time.Time, lastRetrievalAt, approvedAt *time.Time) float64 {
	var reference *time.Time
	if lastRetrievalAt != nil {
		reference = lastRetrievalAt
	} else if approvedAt != nil {
		reference = approvedAt
	}
	if reference == nil {
		return 0
	}
	delta := now.Sub(*reference).Hours() / 24.0
	if delta < 0 {
		return 0
	}
	return delta
}

// Run ticks RunOnce every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticker.C:
			updated, err := a.RunOnce(ctx, tick)
			if err != nil {
				a.logWarn("quality aggregator run failed", "", err)
				continue
			}
			metrics.QualityAggregationRunsTotal.Inc()
			metrics.QualityAggregationItemsUpdated.Set(float64(updated))
			if a.logger != nil {
				a.logger.Info("quality aggregation complete",
					logging.NewFields().Component("quality").Count("items_updated", updated).Zap()...)
			}
		}
	}
}

func (a *Aggregator) logWarn(msg, itemID string, err error) {
	if a.logger == nil {
		return
	}
	fields := logging.NewFields().Component("quality")
	if itemID != "" {
		fields = fields.Resource("knowledge_item", itemID)
	}
	if err != nil {
		fields = fields.Error(err)
	}
	a.logger.Warn(msg, fields.Zap()...)
}
