// Package service is the protocol-independent core behind every
// add_knowledge/search_knowledge/list_knowledge/delete_knowledge/
// publish_knowledge/manage_roles/report_outcome operation. pkg/api/rpc and
// pkg/api/rest are thin transport adapters over this one implementation,
// so the two surfaces can never drift in behavior.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/api/credential"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
	"github.com/hivemind-ai/hivemind/pkg/integrity"
	"github.com/hivemind-ai/hivemind/pkg/orchestrator"
	"github.com/hivemind-ai/hivemind/pkg/rbac"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// KnowledgeItemStore is the subset of KnowledgeItemRepository the service
// reads and writes through directly.
type KnowledgeItemStore interface {
	FetchByID(ctx context.Context, tenantID, id string) (*models.KnowledgeItem, error)
	SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error
	SetPublic(ctx context.Context, tenantID, itemID string, isPublic bool) error
	RecordOutcome(ctx context.Context, tenantID, itemID string, helpful bool) error
	ListByTenant(ctx context.Context, tenantID string, category *models.KnowledgeCategory, limit, offset int) ([]*models.KnowledgeItem, int, error)
	Search(ctx context.Context, e embedding.Embedder, p repository.SearchParams) (repository.SearchResult, error)
	IncrementRetrievalCounts(ctx context.Context, ids []string) error
}

// PendingContributionStore is the subset of PendingContributionRepository
// the service needs for list_knowledge.
type PendingContributionStore interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.PendingContribution, error)
}

// StatsStore is the subset of KnowledgeItemRepository the review
// dashboard's aggregate endpoints read through.
type StatsStore interface {
	CommonsStats(ctx context.Context) (repository.Stats, error)
	OrgStats(ctx context.Context, tenantID string) (repository.Stats, error)
	UserStats(ctx context.Context, tenantID, agentID string) (repository.Stats, error)
}


// QualitySignalStore is the subset of QualitySignalRepository report_outcome
// and the search retrieval side-effect need.
type QualitySignalStore interface {
	Append(ctx context.Context, s *models.QualitySignal) error
	HasOutcomeSignal(ctx context.Context, itemID, runID string, signalType models.SignalType) (bool, error)
	AppendRetrievalBatch(ctx context.Context, ids []string, newID func() string) error
}

// PolicyStore and RoleBindingStore mirror the rbac package's own
// contracts so the service can drive manage_roles without importing the
// repository package's concrete types into its method signatures.
type PolicyStore = rbac.PolicyStore
type RoleBindingStore = rbac.RoleBindingStore

// Deps bundles every collaborator the service needs.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Items        KnowledgeItemStore
	Pending      PendingContributionStore
	Signals      QualitySignalStore
	Stats        StatsStore
	Enforcer     *rbac.Enforcer
	Policies     PolicyStore
	Roles        RoleBindingStore
	Embedder     embedding.Embedder
	NewID        func() string
	Logger       *zap.Logger
}

type Service struct {
	orchestrator *orchestrator.Orchestrator
	items        KnowledgeItemStore
	pending      PendingContributionStore
	signals      QualitySignalStore
	stats        StatsStore
	enforcer     *rbac.Enforcer
	policies     PolicyStore
	roles        RoleBindingStore
	embedder     embedding.Embedder
	newID        func() string
	logger       *zap.Logger
}

func New(d Deps) *Service {
	return &Service{
		orchestrator: d.Orchestrator,
		items:        d.Items,
		pending:      d.Pending,
		signals:      d.Signals,
		stats:        d.Stats,
		enforcer:     d.Enforcer,
		policies:     d.Policies,
		roles:        d.Roles,
		embedder:     d.Embedder,
		newID:        d.NewID,
		logger:       d.Logger,
	}
}

// AddKnowledge runs the full ingestion pipeline for identity's tenant.
func (s *Service) AddKnowledge(ctx context.Context, id credential.Identity, req orchestrator.Request) (orchestrator.Result, error) {
	return s.orchestrator.AddKnowledge(ctx, orchestrator.Identity{TenantID: id.TenantID, AgentID: id.AgentID}, req)
}

// SearchRequest is search_knowledge's argument set. A non-empty ID returns
// the single full item; otherwise Query drives the hybrid retriever.
type SearchRequest struct {
	Query    string
	ID       string
	Category *models.KnowledgeCategory
	Limit    int
	Cursor   string
	AtTime   *time.Time
	Version  *string
}

// SearchResponse is either a full KnowledgeItem (ID lookup) or a page of
// search hits, never both.
type SearchResponse struct {
	Item   *models.KnowledgeItem
	Result *repository.SearchResult

	// IntegrityWarning is set on the single-item lookup path when the
	// stored content no longer hashes to ContentHash. §4.2: a mismatch
	// never fails the read, it is surfaced alongside the content.
	IntegrityWarning bool
}

// ItemPayload renders the ID-lookup branch of a SearchResponse as the wire
// shape callers marshal: the item's own fields plus integrity_warning when
// set, never a bare KnowledgeItem that would silently drop the warning.
func (r SearchResponse) ItemPayload() any {
	if r.Item == nil {
		return nil
	}
	if !r.IntegrityWarning {
		return r.Item
	}
	return struct {
		*models.KnowledgeItem
		IntegrityWarning bool `json:"integrity_warning"`
	}{r.Item, true}
}

func (s *Service) SearchKnowledge(ctx context.Context, id credential.Identity, req SearchRequest) (SearchResponse, error) {
	if req.ID != "" {
		item, err := s.items.FetchByID(ctx, id.TenantID, req.ID)
		if err != nil {
			return SearchResponse{}, err
		}
		warning := !integrity.Verify(item.Content, item.ContentHash)
		return SearchResponse{Item: item, IntegrityWarning: warning}, nil
	}

	result, err := s.items.Search(ctx, s.embedder, repository.SearchParams{
		Query: req.Query, TenantID: id.TenantID, Category: req.Category,
		Limit: req.Limit, Cursor: req.Cursor, AtTime: req.AtTime, Version: req.Version,
	})
	if err != nil {
		return SearchResponse{}, err
	}
	s.recordRetrievalSideEffects(id.TenantID, result.Hits)
	return SearchResponse{Result: &result}, nil
}

// recordRetrievalSideEffects bumps retrieval_count and appends one
// "retrieval" QualitySignal per returned id, per §4.9/§2: fire-and-forget,
// detached from the request context, so a slow or failing store never
// delays or fails the search response already built.
func (s *Service) recordRetrievalSideEffects(tenantID string, hits []repository.SearchHit) {
	if len(hits) == 0 {
		return
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	go func() {
		ctx := context.Background()
		if err := s.items.IncrementRetrievalCounts(ctx, ids); err != nil {
			s.logWarn("service: increment retrieval_count failed", tenantID, err)
		}
		if err := s.signals.AppendRetrievalBatch(ctx, ids, s.newID); err != nil {
			s.logWarn("service: append retrieval signals failed", tenantID, err)
		}
	}()
}

// Contribution is one row of a list_knowledge response, flattening the
// pending and approved shapes into a single projection.
type Contribution struct {
	ID            string                   `json:"id"`
	Status        string                   `json:"status"` // "pending" | "approved"
	Category      models.KnowledgeCategory `json:"category"`
	Confidence    float64                  `json:"confidence"`
	ContributedAt time.Time                `json:"contributed_at"`
}

// ListKnowledgeRequest is list_knowledge's argument set.
type ListKnowledgeRequest struct {
	Status   string // "pending" | "approved" | "all"
	Category *models.KnowledgeCategory
	Limit    int
	Offset   int
}

type ListKnowledgeResponse struct {
	Contributions []Contribution `json:"contributions"`
	TotalCount    int            `json:"total_count"`
	NextCursor    string         `json:"next_cursor"`
}

func (s *Service) ListKnowledge(ctx context.Context, id credential.Identity, req ListKnowledgeRequest) (ListKnowledgeResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	var out []Contribution
	total := 0

	if req.Status == "pending" || req.Status == "all" {
		pend, err := s.pending.ListByTenant(ctx, id.TenantID, limit)
		if err != nil {
			return ListKnowledgeResponse{}, err
		}
		for _, p := range pend {
			if req.Category != nil && p.Category != *req.Category {
				continue
			}
			out = append(out, Contribution{ID: p.ID, Status: "pending", Category: p.Category, Confidence: p.Confidence, ContributedAt: p.ContributedAt})
		}
		total += len(pend)
	}

	if req.Status == "approved" || req.Status == "all" {
		approved, count, err := s.items.ListByTenant(ctx, id.TenantID, req.Category, limit, req.Offset)
		if err != nil {
			return ListKnowledgeResponse{}, err
		}
		for _, it := range approved {
			out = append(out, Contribution{ID: it.ID, Status: "approved", Category: it.Category, Confidence: it.Confidence, ContributedAt: it.ContributedAt})
		}
		total += count
	}

	return ListKnowledgeResponse{Contributions: out, TotalCount: total, NextCursor: repository.EncodeCursor(req.Offset + len(out))}, nil
}

// DeleteKnowledge soft-deletes a knowledge item. The caller must be the
// item's own contributing agent, within its own tenant — enforced by
// requiring the fetch to match both before the delete runs.
func (s *Service) DeleteKnowledge(ctx context.Context, id credential.Identity, itemID string) error {
	item, err := s.items.FetchByID(ctx, id.TenantID, itemID)
	if err != nil {
		return err
	}
	if item.TenantID != id.TenantID || item.SourceAgentID != id.AgentID {
		return apperrors.NewPolicyDeniedAsNotFound("knowledge_item")
	}
	return s.items.SoftDelete(ctx, id.TenantID, itemID, time.Now())
}

// PublishKnowledge flips an item's visibility. Reversible; ownership is
// enforced by the tenant-scoped update itself (a cross-tenant id reads as
// not-found).
func (s *Service) PublishKnowledge(ctx context.Context, id credential.Identity, itemID string, isPublic bool) error {
	return s.items.SetPublic(ctx, id.TenantID, itemID, isPublic)
}

// ReportOutcome records a behavioral outcome signal, idempotent on
// (item_id, run_id, outcome).
func (s *Service) ReportOutcome(ctx context.Context, id credential.Identity, itemID, outcome string, runID *string) (status, signalID string, err error) {
	signalType := models.SignalOutcomeNotHelpful
	helpful := false
	if outcome == "solved" {
		signalType = models.SignalOutcomeSolved
		helpful = true
	}

	if runID != nil {
		already, err := s.signals.HasOutcomeSignal(ctx, itemID, *runID, signalType)
		if err != nil {
			return "", "", err
		}
		if already {
			return "already_recorded", "", nil
		}
	}

	sig := &models.QualitySignal{
		ID:              s.newID(),
		KnowledgeItemID: itemID,
		SignalType:      signalType,
		AgentID:         &id.AgentID,
		RunID:           runID,
		CreatedAt:       time.Now(),
	}
	if err := s.signals.Append(ctx, sig); err != nil {
		return "", "", err
	}
	if err := s.items.RecordOutcome(ctx, id.TenantID, itemID, helpful); err != nil {
		s.logWarn("service: record outcome counters failed after signal append", id.TenantID, err)
	}
	return "recorded", sig.ID, nil
}

// ManageRolesRequest is manage_roles' argument set.
type ManageRolesRequest struct {
	Action     string // assign_role | get_roles | add_permission | remove_permission
	AgentID    string
	Role       string
	Object     string
	Permission string
}

type ManageRolesResponse struct {
	Roles []string `json:"roles"`
}

// ManageRoles is admin-gated: the caller must hold the admin role within
// its own tenant's namespace before any sub-action runs.
func (s *Service) ManageRoles(ctx context.Context, id credential.Identity, req ManageRolesRequest) (ManageRolesResponse, error) {
	allowed, err := s.enforcer.Enforce(ctx, id.AgentID, id.TenantID, rbac.NamespaceObject(id.TenantID), "manage_roles")
	if err != nil {
		return ManageRolesResponse{}, err
	}
	if !allowed {
		return ManageRolesResponse{}, apperrors.NewAuthError("manage_roles requires the admin role")
	}

	switch req.Action {
	case "assign_role":
		return ManageRolesResponse{}, s.roles.AssignRole(ctx, id.TenantID, req.AgentID, req.Role)
	case "get_roles":
		roles, err := s.roles.ListRoles(ctx, id.TenantID, req.AgentID)
		return ManageRolesResponse{Roles: roles}, err
	case "add_permission":
		subject := req.Role
		if subject == "" {
			subject = req.AgentID
		}
		return ManageRolesResponse{}, s.policies.Upsert(ctx, &models.AuthorizationPolicy{
			Subject: subject, Domain: id.TenantID, Object: req.Object, Action: req.Permission,
		})
	case "remove_permission":
		subject := req.Role
		if subject == "" {
			subject = req.AgentID
		}
		return ManageRolesResponse{}, s.policies.Delete(ctx, id.TenantID, subject, req.Object, req.Permission)
	default:
		return ManageRolesResponse{}, apperrors.NewValidationError("unknown manage_roles action").WithDetailsf("action=%s", req.Action)
	}
}

// CommonsStats aggregates across every tenant's publicly-shared items.
func (s *Service) CommonsStats(ctx context.Context) (repository.Stats, error) {
	return s.stats.CommonsStats(ctx)
}

// OrgStats aggregates the calling identity's own tenant.
func (s *Service) OrgStats(ctx context.Context, id credential.Identity) (repository.Stats, error) {
	return s.stats.OrgStats(ctx, id.TenantID)
}

// UserStats aggregates the calling identity's own contributions.
func (s *Service) UserStats(ctx context.Context, id credential.Identity) (repository.Stats, error) {
	return s.stats.UserStats(ctx, id.TenantID, id.AgentID)
}

// ListPendingForReview returns a tenant's review queue — the same
// underlying store list_knowledge's "pending" status reads from, kept as
// its own entry point so the REST review UI never has to reason about
// list_knowledge's merged pending/approved projection.
func (s *Service) ListPendingForReview(ctx context.Context, id credential.Identity, limit int) ([]*models.PendingContribution, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.pending.ListByTenant(ctx, id.TenantID, limit)
}

// ApproveContribution promotes a pending contribution into a visible
// KnowledgeItem.
func (s *Service) ApproveContribution(ctx context.Context, id credential.Identity, pendingID string) (orchestrator.Result, error) {
	return s.orchestrator.ApprovePending(ctx, id.TenantID, pendingID)
}

// RejectContribution discards a pending contribution without ever making
// it visible.
func (s *Service) RejectContribution(ctx context.Context, id credential.Identity, pendingID string) error {
	return s.orchestrator.RejectPending(ctx, id.TenantID, pendingID)
}

func (s *Service) logWarn(msg, tenantID string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, logging.NewFields().Component("service").Tenant(tenantID).Error(err).Zap()...)
}
