package distillation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/llm"
	"github.com/hivemind-ai/hivemind/pkg/metrics"
	"github.com/hivemind-ai/hivemind/pkg/quality"
	"github.com/hivemind-ai/hivemind/pkg/sanitization"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// vThresh and cThresh are the short-circuit thresholds: a tenant with
// fewer pending contributions and fewer new contradiction signals than
// these since the last run is skipped entirely.
const (
	vThresh = 5
	cThresh = 3
)

// distilledQualityScore and distilledConfidence are the fixed values
// assigned to a cluster-summary item.
const (
	distilledQualityScore = 0.6
	distilledConfidence   = 0.8
)

// preScreenRejectThresh is the preliminary score below which a pending
// contribution is flagged sensitive.
const preScreenRejectThresh = 0.2

var codeFenceRE = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

const summarizeSystemPrompt = `You are a knowledge distillation assistant. You will be given several closely related pieces of knowledge from the same category. Merge them into a single, coherent piece of knowledge that preserves every distinct fact. Respond with the merged text only, no preamble, no JSON, no code fences.`

// Store is the repository contract the distillation job needs. It is
// intentionally narrow — one method per read or write the job's five
// steps require — so it can be faked in tests without a database.
type Store interface {
	ListTenants(ctx context.Context) ([]string, error)
	PendingCount(ctx context.Context, tenantID string) (int, error)
	ContradictionSignalsSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	GetLastRun(ctx context.Context, tenantID string) (time.Time, bool, error)
	SetLastRun(ctx context.Context, tenantID string, at time.Time) error

	DuplicateGroups(ctx context.Context, tenantID string) ([]DuplicateGroup, error)
	ExpireItem(ctx context.Context, tenantID, itemID string, at time.Time) error
	AppendProvenanceLinks(ctx context.Context, tenantID, canonicalID string, supersededIDs []string) error

	ContradictionGroups(ctx context.Context, tenantID string) ([]ContradictionGroup, error)
	AppendSignal(ctx context.Context, signal *models.QualitySignal) error

	CategoriesWithCurrentItems(ctx context.Context, tenantID string) ([]string, error)
	ClusterCandidates(ctx context.Context, tenantID, category string) ([]ClusterItem, error)
	InsertDistilledItem(ctx context.Context, item *models.KnowledgeItem) error

	PendingNonFlagged(ctx context.Context, tenantID string) ([]*models.PendingContribution, error)
	FlagPendingSensitive(ctx context.Context, tenantID, pendingID string, preliminaryScore float64) error
}

// Job runs the five-step distillation pass described for the commons:
// merge duplicates, flag contradictions, summarize clusters, pre-screen
// pending contributions, and advance the run marker.
type Job struct {
	store      Store
	classifier llm.Classifier
	sanitizer  *sanitization.Sanitizer
	weights    quality.Weights
	newID      func() string
	logger     *zap.Logger
}

func NewJob(store Store, classifier llm.Classifier, sanitizer *sanitization.Sanitizer, weights quality.Weights, newID func() string, logger *zap.Logger) *Job {
	return &Job{store: store, classifier: classifier, sanitizer: sanitizer, weights: weights, newID: newID, logger: logger}
}

// RunTenant executes one distillation pass for tenantID at now, short
// circuiting if neither threshold is met.
func (j *Job) RunTenant(ctx context.Context, tenantID string, now time.Time) (Stats, error) {
	lastRun, exists, err := j.store.GetLastRun(ctx, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("distillation: read last run: %w", err)
	}
	if !exists {
		lastRun = time.Unix(0, 0).UTC()
	}

	pendingCount, err := j.store.PendingCount(ctx, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("distillation: pending count: %w", err)
	}
	contradictionCount, err := j.store.ContradictionSignalsSince(ctx, tenantID, lastRun)
	if err != nil {
		return Stats{}, fmt.Errorf("distillation: contradiction count: %w", err)
	}

	if pendingCount < vThresh && contradictionCount < cThresh {
		metrics.DistillationRunsTotal.WithLabelValues("short_circuited").Inc()
		return Stats{ShortCircuited: true}, nil
	}

	var stats Stats

	merged, err := j.mergeDuplicates(ctx, tenantID, now)
	if err != nil {
		return stats, err
	}
	stats.DuplicatesMerged = merged

	flagged, err := j.flagContradictions(ctx, tenantID)
	if err != nil {
		return stats, err
	}
	stats.ContradictionFlags = flagged

	summarized, err := j.summarizeClusters(ctx, tenantID)
	if err != nil {
		return stats, err
	}
	stats.ClustersSummarized = summarized

	prescreened, err := j.preScreenPending(ctx, tenantID, now)
	if err != nil {
		return stats, err
	}
	stats.PendingPreScreened = prescreened

	if err := j.store.SetLastRun(ctx, tenantID, now); err != nil {
		return stats, fmt.Errorf("distillation: advance run marker: %w", err)
	}

	metrics.DistillationRunsTotal.WithLabelValues("executed").Inc()
	return stats, nil
}

// mergeDuplicates picks the highest-quality item in each content-hash
// group as canonical, expires the rest, and records their ids as
// provenance links on the survivor.
func (j *Job) mergeDuplicates(ctx context.Context, tenantID string, now time.Time) (int, error) {
	groups, err := j.store.DuplicateGroups(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("distillation: load duplicate groups: %w", err)
	}

	merged := 0
	for _, group := range groups {
		if len(group.Items) < 2 {
			continue
		}
		sorted := append([]DuplicateMember(nil), group.Items...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].QualityScore > sorted[b].QualityScore })

		canonical := sorted[0]
		var superseded []string
		for _, member := range sorted[1:] {
			if err := j.store.ExpireItem(ctx, tenantID, member.ID, now); err != nil {
				j.logWarn("distillation: expire duplicate failed, skipping", tenantID, member.ID, err)
				continue
			}
			superseded = append(superseded, member.ID)
			merged++
		}
		if len(superseded) > 0 {
			if err := j.store.AppendProvenanceLinks(ctx, tenantID, canonical.ID, superseded); err != nil {
				j.logWarn("distillation: append provenance links failed", tenantID, canonical.ID, err)
			}
		}
	}
	return merged, nil
}

// flagContradictions appends a contradiction_cluster signal to the first
// item of every contradiction group with at least two members.
func (j *Job) flagContradictions(ctx context.Context, tenantID string) (int, error) {
	groups, err := j.store.ContradictionGroups(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("distillation: load contradiction groups: %w", err)
	}

	flagged := 0
	for _, group := range groups {
		if len(group.ItemIDs) < 2 {
			continue
		}
		anchor := group.ItemIDs[0]
		signal := &models.QualitySignal{
			ID:              j.newID(),
			KnowledgeItemID: anchor,
			SignalType:      models.SignalContradictionCluster,
			Metadata:        map[string]any{"category": group.Category, "members": group.ItemIDs},
			CreatedAt:       time.Now(),
		}
		if err := j.store.AppendSignal(ctx, signal); err != nil {
			j.logWarn("distillation: append contradiction_cluster signal failed", tenantID, anchor, err)
			continue
		}
		flagged++
	}
	return flagged, nil
}

// summarizeClusters groups current items within each category by
// pairwise cosine distance into connected components of size >= 3, and
// for each dense-enough cluster asks the LLM to merge them into one
// item, sanitizing the result before insertion.
func (j *Job) summarizeClusters(ctx context.Context, tenantID string) (int, error) {
	categories, err := j.store.CategoriesWithCurrentItems(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("distillation: list categories: %w", err)
	}

	summarized := 0
	for _, category := range categories {
		candidates, err := j.store.ClusterCandidates(ctx, tenantID, category)
		if err != nil {
			j.logWarn("distillation: load cluster candidates failed, skipping category", tenantID, category, err)
			continue
		}

		for _, cluster := range connectedComponents(candidates) {
			if j.classifier == nil {
				continue
			}
			summary, ok := j.summarizeCluster(ctx, cluster)
			if !ok {
				continue
			}

			sourceIDs := make([]string, len(cluster))
			for i, m := range cluster {
				sourceIDs[i] = m.ID
			}

			item := &models.KnowledgeItem{
				ID:            j.newID(),
				TenantID:      tenantID,
				Content:       summary,
				Category:      models.KnowledgeCategory(category),
				Confidence:    distilledConfidence,
				QualityScore:  distilledQualityScore,
				Tags:          map[string]any{"distilled": true, "source_item_ids": sourceIDs},
				ContributedAt: time.Now(),
				ApprovedAt:    time.Now(),
			}
			if err := j.store.InsertDistilledItem(ctx, item); err != nil {
				j.logWarn("distillation: insert distilled item failed", tenantID, category, err)
				continue
			}
			summarized++
		}
	}
	return summarized, nil
}

func (j *Job) summarizeCluster(ctx context.Context, cluster []ClusterItem) (string, bool) {
	var b strings.Builder
	for i, m := range cluster {
		fmt.Fprintf(&b, "--- item %d ---\n%s\n\n", i+1, m.Content)
	}

	raw, err := j.classifier.Classify(ctx, summarizeSystemPrompt, b.String())
	if err != nil {
		return "", false
	}
	summary := strings.TrimSpace(codeFenceRE.ReplaceAllString(strings.TrimSpace(raw), ""))
	if summary == "" {
		return "", false
	}

	cleaned, shouldReject := j.sanitizer.Sanitize(summary)
	if shouldReject {
		return "", false
	}
	return cleaned, true
}

// preScreenPending computes a preliminary quality score for every
// non-flagged pending contribution using zero behavioral inputs and
// (1 - confidence) as a contradiction-rate proxy; contributions scoring
// below preScreenRejectThresh are flagged sensitive for manual review.
func (j *Job) preScreenPending(ctx context.Context, tenantID string, now time.Time) (int, error) {
	pending, err := j.store.PendingNonFlagged(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("distillation: list non-flagged pending: %w", err)
	}

	flagged := 0
	for _, p := range pending {
		score := quality.Compute(quality.Signals{
			ContradictionRate: 1 - p.Confidence,
			IsVersionCurrent:  true,
		}, j.weights)

		if score >= preScreenRejectThresh {
			continue
		}
		if err := j.store.FlagPendingSensitive(ctx, tenantID, p.ID, score); err != nil {
			j.logWarn("distillation: flag pending sensitive failed", tenantID, p.ID, err)
			continue
		}
		flagged++
	}
	return flagged, nil
}

// Run ticks RunTenant for every known tenant every interval until ctx is
// cancelled.
func (j *Job) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticker.C:
			tenants, err := j.store.ListTenants(ctx)
			if err != nil {
				j.logWarn("distillation: list tenants failed", "", "", err)
				continue
			}
			for _, tenantID := range tenants {
				stats, err := j.RunTenant(ctx, tenantID, tick)
				if err != nil {
					j.logWarn("distillation: tenant run failed", tenantID, "", err)
					continue
				}
				if j.logger != nil && !stats.ShortCircuited {
					j.logger.Info("distillation run complete",
						logging.NewFields().Component("distillation").Tenant(tenantID).
							Count("duplicates_merged", stats.DuplicatesMerged).
							Count("contradiction_flags", stats.ContradictionFlags).
							Count("clusters_summarized", stats.ClustersSummarized).
							Count("pending_prescreened", stats.PendingPreScreened).Zap()...)
				}
			}
		}
	}
}

func (j *Job) logWarn(msg, tenantID, resourceID string, err error) {
	if j.logger == nil {
		return
	}
	fields := logging.NewFields().Component("distillation")
	if tenantID != "" {
		fields = fields.Tenant(tenantID)
	}
	if resourceID != "" {
		fields = fields.Resource("knowledge_item", resourceID)
	}
	if err != nil {
		fields = fields.Error(err)
	}
	j.logger.Warn(msg, fields.Zap()...)
}
