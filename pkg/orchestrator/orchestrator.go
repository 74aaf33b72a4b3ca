// Package orchestrator implements the ingestion orchestrator: the fixed
// nine-step add_knowledge flow tying together injection scanning, the
// burst gate, PII sanitization, deduplication, conflict resolution,
// auto-approval, embedding, storage, and notification.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/conflict"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/dedup"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
	"github.com/hivemind-ai/hivemind/pkg/injection"
	"github.com/hivemind-ai/hivemind/pkg/llm"
	"github.com/hivemind-ai/hivemind/pkg/metrics"
	"github.com/hivemind-ai/hivemind/pkg/notification"
	"github.com/hivemind-ai/hivemind/pkg/ratelimit"
	"github.com/hivemind-ai/hivemind/pkg/sanitization"
	"github.com/hivemind-ai/hivemind/pkg/shared/idgen"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

const tracerName = "hivemind/orchestrator"

// Status is the final outcome add_knowledge reports to the caller.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusAutoApproved       Status = "auto_approved"
	StatusDuplicateDetected  Status = "duplicate_detected"
)

// Identity is the caller's extracted tenant/agent pair — never accepted
// from request arguments, always resolved from the credential.
type Identity struct {
	TenantID string
	AgentID  string
	RunID    *string
}

// Request is the caller-supplied argument set for add_knowledge.
type Request struct {
	Content    string                 `validate:"required,min=10"`
	Category   models.KnowledgeCategory `validate:"required"`
	Confidence float64                `validate:"gte=0,lte=1"`
	Framework  *string
	Language   *string
	Version    *string
	Tags       map[string]any
}

// Result is what the orchestrator returns to the RPC/REST layer.
type Result struct {
	ContributionID string                   `json:"contribution_id"`
	Status         Status                   `json:"status"`
	Category       models.KnowledgeCategory `json:"category"`
	Message        string                   `json:"message"`
	DuplicateOf    string                   `json:"duplicate_of,omitempty"`
}

// KnowledgeStore is the subset of repository operations the orchestrator
// writes through directly.
type KnowledgeStore interface {
	Insert(ctx context.Context, item *models.KnowledgeItem) error
}

// PendingStore queues a contribution awaiting manual review.
type PendingStore interface {
	Insert(ctx context.Context, c *models.PendingContribution) error
	FetchByID(ctx context.Context, tenantID, id string) (*models.PendingContribution, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// AutoApproveChecker looks up whether a tenant/category pair bypasses
// review.
type AutoApproveChecker interface {
	IsAutoApproved(ctx context.Context, tenantID string, category models.KnowledgeCategory) (bool, error)
}

// ConflictStore lets the orchestrator apply a conflict resolution's
// database side effect.
type ConflictStore = conflict.Store

// MinhashIndex is the process-wide lexical index new items join.
type MinhashIndex interface {
	Insert(id, content string)
}

// Orchestrator wires every §4.1-4.14 stage into the single fixed
// add_knowledge flow.
type Orchestrator struct {
	validate       *validator.Validate
	scanner        *injection.Scanner
	injectionThresh float64
	burstGate      *ratelimit.Gate
	sanitizer      *sanitization.Sanitizer
	cosineFinder   dedup.CosineFinder
	minhashIdx     MinhashIndex
	minhashQuerier dedup.MinhashQuerier
	classifier     llm.Classifier
	conflictStore  ConflictStore
	autoApprove    AutoApproveChecker
	embedder       embedding.Embedder
	knowledgeStore KnowledgeStore
	pendingStore   PendingStore
	publisher      *notification.Publisher
	hub            *notification.Hub
	dispatcher     *notification.Dispatcher
	newID          func() string
	logger         *zap.Logger
}

// Deps bundles every collaborator Orchestrator needs. Fields left nil
// degrade the corresponding stage gracefully where the spec allows it
// (burst gate, LLM classifier); every other field is required.
type Deps struct {
	InjectionScanner    *injection.Scanner
	InjectionThreshold  float64
	BurstGate           *ratelimit.Gate
	Sanitizer           *sanitization.Sanitizer
	CosineFinder        dedup.CosineFinder
	MinhashIndex        MinhashIndex
	MinhashQuerier      dedup.MinhashQuerier
	Classifier          llm.Classifier
	ConflictStore       ConflictStore
	AutoApprove         AutoApproveChecker
	Embedder            embedding.Embedder
	KnowledgeStore      KnowledgeStore
	PendingStore        PendingStore
	Publisher           *notification.Publisher
	Hub                 *notification.Hub
	Dispatcher          *notification.Dispatcher
	Logger              *zap.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		validate:        validator.New(),
		scanner:         d.InjectionScanner,
		injectionThresh: d.InjectionThreshold,
		burstGate:       d.BurstGate,
		sanitizer:       d.Sanitizer,
		cosineFinder:    d.CosineFinder,
		minhashIdx:      d.MinhashIndex,
		minhashQuerier:  d.MinhashQuerier,
		classifier:      d.Classifier,
		conflictStore:   d.ConflictStore,
		autoApprove:     d.AutoApprove,
		embedder:        d.Embedder,
		knowledgeStore:  d.KnowledgeStore,
		pendingStore:    d.PendingStore,
		publisher:       d.Publisher,
		hub:             d.Hub,
		dispatcher:      d.Dispatcher,
		newID:           idgen.New,
		logger:          d.Logger,
	}
}

// AddKnowledge runs the full nine-step ingestion flow for identity's
// tenant, short-circuiting at the first rejecting step.
func (o *Orchestrator) AddKnowledge(ctx context.Context, identity Identity, req Request) (Result, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "orchestrator.add_knowledge")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", identity.TenantID),
		attribute.String("category", string(req.Category)),
	)

	// Step 1: validate.
	if err := o.stage(ctx, "validate", func(ctx context.Context) error {
		if !req.Category.IsValid() {
			return apperrors.NewValidationError("category is not a recognized value").WithDetailsf("category=%s", req.Category)
		}
		return errFromValidator(o.validate.Struct(req))
	}); err != nil {
		return Result{}, err
	}

	// Step 2: identity is already extracted by the caller (RPC/REST
	// layer resolves it from the credential) — identity.TenantID and
	// identity.AgentID are trusted from here on; arguments never carry
	// either.
	if identity.TenantID == "" || identity.AgentID == "" {
		return Result{}, apperrors.NewAuthError("caller identity could not be resolved from credential")
	}

	contributionID := o.newID()

	// Step 3: injection scan on raw text.
	if o.scanner != nil {
		var rejected bool
		o.observeStage(ctx, "injection_scan", func(ctx context.Context) {
			isInjection, score := o.scanner.Classify(req.Content)
			rejected = injection.ShouldReject(isInjection, score, o.injectionThresh)
		})
		if rejected {
			metrics.ContributionsTotal.WithLabelValues("rejected_injection").Inc()
			return Result{}, apperrors.NewContentPolicyError("contribution rejected: prompt-injection pattern detected")
		}
	}

	// Step 4: burst gate.
	if o.burstGate != nil {
		allowed, err := o.burstGate.CheckBurst(ctx, identity.TenantID, contributionID)
		if err != nil {
			return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "burst gate check failed")
		}
		if !allowed {
			metrics.ContributionsTotal.WithLabelValues("rejected_burst").Inc()
			return Result{}, apperrors.NewRateLimitError("contribution rejected: tenant is over its burst threshold")
		}
	}

	// Step 5: PII sanitize.
	var cleaned string
	var shouldReject bool
	o.observeStage(ctx, "sanitize", func(ctx context.Context) {
		cleaned, shouldReject = o.sanitizer.Sanitize(req.Content)
	})
	if shouldReject {
		metrics.ContributionsTotal.WithLabelValues("rejected_redaction").Inc()
		return Result{}, apperrors.NewContentPolicyError("contribution rejected: excessive PII redaction")
	}

	// Step 6: content hash.
	contentHash := sha256Hex(cleaned)

	// Step 7: dedup pipeline, then conflict resolution on a positive.
	dedupResult := dedup.Run(ctx, o.cosineFinder, o.minhashQuerier, o.classifier, cleaned, identity.TenantID, dedup.Options{Logger: o.logger})
	metrics.DedupActionsTotal.WithLabelValues(string(dedupResult.Action)).Inc()

	isFlaggedForReview := false
	if dedupResult.Action == dedup.ActionDuplicate {
		existing := conflict.Existing{ID: dedupResult.DuplicateOf, Content: ""}
		for _, d := range dedupResult.Duplicates {
			if d.ID == dedupResult.DuplicateOf {
				existing.Content = d.Content
			}
		}
		resolution := conflict.Resolve(ctx, o.classifier, cleaned, existing)
		metrics.ConflictActionsTotal.WithLabelValues(string(resolution.Action)).Inc()

		switch resolution.Action {
		case conflict.ActionNoop:
			metrics.ContributionsTotal.WithLabelValues("duplicate_detected").Inc()
			return Result{ContributionID: contributionID, Status: StatusDuplicateDetected, Category: req.Category,
				Message: "duplicate of an existing item", DuplicateOf: dedupResult.DuplicateOf}, nil
		case conflict.ActionFlaggedForReview:
			isFlaggedForReview = true
		default:
			if _, err := conflict.Apply(ctx, o.conflictStore, identity.TenantID, resolution); err != nil {
				o.logWarn("orchestrator: conflict resolution apply failed, continuing", identity.TenantID, err)
			}
		}
	}

	// Step 8/9: auto-approve lookup, or queue for review.
	autoApproved := false
	if !isFlaggedForReview {
		var err error
		autoApproved, err = o.autoApprove.IsAutoApproved(ctx, identity.TenantID, req.Category)
		if err != nil {
			o.logWarn("orchestrator: auto-approve lookup failed, defaulting to pending", identity.TenantID, err)
			autoApproved = false
		}
	}

	if autoApproved {
		return o.autoApproveAndInsert(ctx, contributionID, identity, req, cleaned, contentHash)
	}

	now := time.Now()
	pending := &models.PendingContribution{
		ID:                 contributionID,
		TenantID:           identity.TenantID,
		SourceAgentID:      identity.AgentID,
		RunID:              identity.RunID,
		Content:            cleaned,
		ContentHash:        contentHash,
		Category:           req.Category,
		Confidence:         req.Confidence,
		Framework:          req.Framework,
		Language:           req.Language,
		Version:            req.Version,
		Tags:               req.Tags,
		ContributedAt:      now,
		IsSensitiveFlagged: isFlaggedForReview,
	}
	if err := o.stage(ctx, "insert_pending", func(ctx context.Context) error {
		return o.pendingStore.Insert(ctx, pending)
	}); err != nil {
		return Result{}, err
	}

	metrics.ContributionsTotal.WithLabelValues("queued").Inc()
	return Result{ContributionID: contributionID, Status: StatusQueued, Category: req.Category, Message: "queued for review"}, nil
}

func (o *Orchestrator) autoApproveAndInsert(ctx context.Context, contributionID string, identity Identity, req Request, cleaned, contentHash string) (Result, error) {
	item, err := o.embedAndInsert(ctx, contributionID, identity.TenantID, identity.AgentID, identity.RunID, req.Category, req.Confidence,
		req.Framework, req.Language, req.Version, req.Tags, cleaned, contentHash)
	if err != nil {
		return Result{}, err
	}

	o.publishAndDispatch(ctx, item)

	metrics.ContributionsTotal.WithLabelValues("auto_approved").Inc()
	return Result{ContributionID: contributionID, Status: StatusAutoApproved, Category: req.Category, Message: "auto-approved"}, nil
}

// embedAndInsert is the shared tail of the add_knowledge flow: embed the
// sanitized content, persist the KnowledgeItem, and join the lexical
// index. Both auto-approval and manual review approval fall through here.
func (o *Orchestrator) embedAndInsert(ctx context.Context, id, tenantID, agentID string, runID *string, category models.KnowledgeCategory, confidence float64,
	framework, language, version *string, tags map[string]any, content, contentHash string) (*models.KnowledgeItem, error) {

	var vec []float32
	o.observeStage(ctx, "embed", func(ctx context.Context) {
		v, err := o.embedder.Embed(ctx, content)
		if err != nil {
			o.logWarn("orchestrator: embedding failed, inserting without vector", tenantID, err)
			return
		}
		vec = v
	})

	now := time.Now()
	item := &models.KnowledgeItem{
		ID:            id,
		TenantID:      tenantID,
		SourceAgentID: agentID,
		RunID:         runID,
		Content:       content,
		ContentHash:   contentHash,
		Category:      category,
		Confidence:    confidence,
		Framework:     framework,
		Language:      language,
		Version:       version,
		Tags:          tags,
		Embedding:     vec,
		// §4.10: initial score is a neutral-plus prior rewarding the
		// agent's own self-reported confidence, not the column default.
		QualityScore:  math.Min(1, confidence*0.5),
		ContributedAt: now,
		ApprovedAt:    now,
	}

	if err := o.stage(ctx, "insert_item", func(ctx context.Context) error {
		return o.knowledgeStore.Insert(ctx, item)
	}); err != nil {
		return nil, err
	}

	if o.minhashIdx != nil {
		o.minhashIdx.Insert(item.ID, content)
	}
	return item, nil
}

// ApprovePending promotes a queued pending_contribution into a visible
// KnowledgeItem — the review UI's manual counterpart to auto-approval.
func (o *Orchestrator) ApprovePending(ctx context.Context, tenantID, pendingID string) (Result, error) {
	pending, err := o.pendingStore.FetchByID(ctx, tenantID, pendingID)
	if err != nil {
		return Result{}, err
	}

	item, err := o.embedAndInsert(ctx, pending.ID, pending.TenantID, pending.SourceAgentID, pending.RunID,
		pending.Category, pending.Confidence, pending.Framework, pending.Language, pending.Version, pending.Tags,
		pending.Content, pending.ContentHash)
	if err != nil {
		return Result{}, err
	}

	if err := o.pendingStore.Delete(ctx, tenantID, pendingID); err != nil {
		o.logWarn("orchestrator: pending row survives its own promotion, continuing", tenantID, err)
	}

	o.publishAndDispatch(ctx, item)

	metrics.ContributionsTotal.WithLabelValues("manually_approved").Inc()
	return Result{ContributionID: pendingID, Status: StatusAutoApproved, Category: pending.Category, Message: "approved"}, nil
}

// RejectPending discards a queued contribution without ever making it
// visible.
func (o *Orchestrator) RejectPending(ctx context.Context, tenantID, pendingID string) error {
	if err := o.pendingStore.Delete(ctx, tenantID, pendingID); err != nil {
		return err
	}
	metrics.ContributionsTotal.WithLabelValues("rejected_manual_review").Inc()
	return nil
}

// publishAndDispatch fans the SSE publish and webhook enqueue out
// concurrently — both are independent, best-effort side effects of the
// same commit and neither should wait on the other.
func (o *Orchestrator) publishAndDispatch(ctx context.Context, item *models.KnowledgeItem) {
	ev := notification.Event{
		Type:            notification.EventTypeKnowledgePublished,
		KnowledgeItemID: item.ID,
		IsPublic:        item.IsPublic,
		TenantID:        item.TenantID,
		Category:        string(item.Category),
		Timestamp:       time.Now(),
	}

	var g errgroup.Group
	g.Go(func() error {
		if o.publisher == nil {
			return nil
		}
		if err := o.publisher.Publish(ctx, ev); err != nil {
			o.logWarn("orchestrator: notification publish failed", item.TenantID, err)
		}
		if o.hub != nil {
			o.hub.Publish(ev)
		}
		return nil
	})
	g.Go(func() error {
		if o.dispatcher != nil {
			o.dispatcher.Enqueue(ctx, ev)
		}
		return nil
	})
	_ = g.Wait()
}

// stage runs fn inside its own span, recording its duration against the
// orchestrator stage histogram, and returns fn's error unchanged.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(name, started)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// observeStage is stage's error-free counterpart for stages that never
// fail the request outright (they degrade internally instead).
func (o *Orchestrator) observeStage(ctx context.Context, name string, fn func(ctx context.Context)) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	started := time.Now()
	fn(ctx)
	metrics.ObserveStage(name, started)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func errFromValidator(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "request failed validation")
}

func (o *Orchestrator) logWarn(msg, tenantID string, err error) {
	if o.logger == nil {
		return
	}
	fields := logging.NewFields().Component("orchestrator").Tenant(tenantID)
	if err != nil {
		fields = fields.Error(err)
	}
	o.logger.Warn(msg, fields.Zap()...)
}
