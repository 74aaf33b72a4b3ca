// Package rpc implements the tool-like RPC surface: a fixed set of named
// operations (add_knowledge, search_knowledge, list_knowledge,
// delete_knowledge, publish_knowledge, manage_roles, report_outcome),
// dispatched by tagged name rather than through a dynamic registry, per
// the design notes' "fixed at build time" guidance. Every tool shares the
// same credential resolution and quota enforcement before reaching
// pkg/api/service.
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/api/credential"
	"github.com/hivemind-ai/hivemind/pkg/api/service"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository"
	"github.com/hivemind-ai/hivemind/pkg/orchestrator"
	"github.com/hivemind-ai/hivemind/pkg/ratelimit"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// ToolName is one of the seven fixed operation names the surface exposes.
type ToolName string

const (
	ToolAddKnowledge     ToolName = "add_knowledge"
	ToolSearchKnowledge  ToolName = "search_knowledge"
	ToolListKnowledge    ToolName = "list_knowledge"
	ToolDeleteKnowledge  ToolName = "delete_knowledge"
	ToolPublishKnowledge ToolName = "publish_knowledge"
	ToolManageRoles      ToolName = "manage_roles"
	ToolReportOutcome    ToolName = "report_outcome"
)

// quotaOp groups search_knowledge and list_knowledge under the "search"
// quota bucket, and add_knowledge alone under "contribute" — the only two
// per-minute quota buckets the spec defines.
func quotaOp(tool ToolName) string {
	switch tool {
	case ToolAddKnowledge:
		return "contribute"
	default:
		return "search"
	}
}

// ErrorEnvelope is the non-HTTP error shape every failed tool call
// returns: {isError: true, text}. It never includes the underlying cause
// or any detected PII, per the content-policy error taxonomy.
type ErrorEnvelope struct {
	IsError bool   `json:"isError"`
	Text    string `json:"text"`
}

type ratelimitQuota struct {
	ContributePerMinute int
	SearchPerMinute     int
}

// Dispatcher resolves a caller's credential, enforces its tier quota, and
// dispatches to the protocol-independent service layer.
type Dispatcher struct {
	svc     *service.Service
	apiKeys credential.ApiKeyStore
	secret  []byte
	gate    *ratelimit.Gate
	quotas  map[models.Tier]ratelimitQuota
	logger  *zap.Logger
}

// Deps bundles Dispatcher's collaborators.
type Deps struct {
	Service *service.Service
	ApiKeys credential.ApiKeyStore
	Secret  []byte
	Gate    *ratelimit.Gate
	Quotas  map[models.Tier]ratelimitQuota
	Logger  *zap.Logger
}

// Quota is one tier's per-minute contribute/search budget.
type Quota = ratelimitQuota

func NewQuota(contributePerMinute, searchPerMinute int) Quota {
	return ratelimitQuota{ContributePerMinute: contributePerMinute, SearchPerMinute: searchPerMinute}
}

func NewDispatcher(d Deps) *Dispatcher {
	return &Dispatcher{svc: d.Service, apiKeys: d.ApiKeys, secret: d.Secret, gate: d.Gate, quotas: d.Quotas, logger: d.Logger}
}

// Dispatch resolves authHeader to a caller identity, enforces that
// caller's tier quota for tool's bucket, then routes to the matching
// service method. result is already JSON-serializable; err, when
// non-nil, should be rendered via ErrorEnvelope by the transport adapter.
func (d *Dispatcher) Dispatch(ctx context.Context, tool ToolName, authHeader string, argsJSON json.RawMessage) (any, error) {
	identity, err := credential.Resolve(ctx, authHeader, d.apiKeys, d.secret)
	if err != nil {
		return nil, err
	}

	if d.gate != nil {
		limit := d.quotaLimit(identity.Tier, tool)
		if limit > 0 {
			allowed, err := d.gate.CheckQuota(ctx, quotaOp(tool), identity.TenantID, identity.AgentID, limit)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "quota check failed")
			}
			if !allowed {
				return nil, apperrors.NewRateLimitError("tier quota exceeded for " + string(tool))
			}
		}
	}

	switch tool {
	case ToolAddKnowledge:
		return d.addKnowledge(ctx, identity, argsJSON)
	case ToolSearchKnowledge:
		return d.searchKnowledge(ctx, identity, argsJSON)
	case ToolListKnowledge:
		return d.listKnowledge(ctx, identity, argsJSON)
	case ToolDeleteKnowledge:
		return d.deleteKnowledge(ctx, identity, argsJSON)
	case ToolPublishKnowledge:
		return d.publishKnowledge(ctx, identity, argsJSON)
	case ToolManageRoles:
		return d.manageRoles(ctx, identity, argsJSON)
	case ToolReportOutcome:
		return d.reportOutcome(ctx, identity, argsJSON)
	default:
		return nil, apperrors.NewValidationError("unknown tool").WithDetailsf("tool=%s", tool)
	}
}

func (d *Dispatcher) quotaLimit(tier models.Tier, tool ToolName) int {
	q, ok := d.quotas[tier]
	if !ok {
		return 0
	}
	if quotaOp(tool) == "contribute" {
		return q.ContributePerMinute
	}
	return q.SearchPerMinute
}

type addKnowledgeArgs struct {
	Content    string         `json:"content"`
	Category   string         `json:"category"`
	Confidence *float64       `json:"confidence,omitempty"`
	Framework  *string        `json:"framework,omitempty"`
	Language   *string        `json:"language,omitempty"`
	Version    *string        `json:"version,omitempty"`
	Tags       map[string]any `json:"tags,omitempty"`
	RunID      *string        `json:"run_id,omitempty"`
}

type addKnowledgeResult struct {
	ContributionID string `json:"contribution_id"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	Message        string `json:"message"`
	DuplicateOf    string `json:"duplicate_of,omitempty"`
}

func (d *Dispatcher) addKnowledge(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a addKnowledgeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	confidence := 0.8
	if a.Confidence != nil {
		confidence = *a.Confidence
	}

	req := orchestrator.Request{
		Content: a.Content, Category: models.KnowledgeCategory(a.Category), Confidence: confidence,
		Framework: a.Framework, Language: a.Language, Version: a.Version, Tags: a.Tags,
	}
	res, err := d.svc.AddKnowledge(ctx, identity, req)
	if err != nil {
		return nil, err
	}
	return addKnowledgeResult{
		ContributionID: res.ContributionID, Status: string(res.Status), Category: string(res.Category),
		Message: res.Message, DuplicateOf: res.DuplicateOf,
	}, nil
}

type searchKnowledgeArgs struct {
	Query    string  `json:"query,omitempty"`
	ID       string  `json:"id,omitempty"`
	Category *string `json:"category,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Cursor   string  `json:"cursor,omitempty"`
	AtTime   *string `json:"at_time,omitempty"`
	Version  *string `json:"version,omitempty"`
}

func (d *Dispatcher) searchKnowledge(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a searchKnowledgeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}

	var category *models.KnowledgeCategory
	if a.Category != nil {
		c := models.KnowledgeCategory(*a.Category)
		category = &c
	}
	var atTime *time.Time
	if a.AtTime != nil {
		t, err := time.Parse(time.RFC3339, *a.AtTime)
		if err != nil {
			return nil, apperrors.NewValidationError("at_time must be ISO-8601").WithDetailsf("at_time=%s", *a.AtTime)
		}
		atTime = &t
	}

	limit := a.Limit
	if limit <= 0 {
		limit = 10
	}

	resp, err := d.svc.SearchKnowledge(ctx, identity, service.SearchRequest{
		Query: a.Query, ID: a.ID, Category: category, Limit: limit, Cursor: a.Cursor, AtTime: atTime, Version: a.Version,
	})
	if err != nil {
		return nil, err
	}
	if resp.Item != nil {
		return resp.ItemPayload(), nil
	}
	return resp.Result, nil
}

type listKnowledgeArgs struct {
	Status   string  `json:"status,omitempty"`
	Category *string `json:"category,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Cursor   string  `json:"cursor,omitempty"`
}

func (d *Dispatcher) listKnowledge(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a listKnowledgeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	status := a.Status
	if status == "" {
		status = "pending"
	}
	var category *models.KnowledgeCategory
	if a.Category != nil {
		c := models.KnowledgeCategory(*a.Category)
		category = &c
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 20
	}

	return d.svc.ListKnowledge(ctx, identity, service.ListKnowledgeRequest{
		Status: status, Category: category, Limit: limit, Offset: decodeOffset(a.Cursor),
	})
}

type deleteKnowledgeArgs struct {
	ID string `json:"id"`
}

type deleteKnowledgeResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (d *Dispatcher) deleteKnowledge(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a deleteKnowledgeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if err := d.svc.DeleteKnowledge(ctx, identity, a.ID); err != nil {
		return nil, err
	}
	return deleteKnowledgeResult{ID: a.ID, Status: "deleted", Message: "knowledge item soft-deleted"}, nil
}

type publishKnowledgeArgs struct {
	ID       string `json:"id"`
	IsPublic bool   `json:"is_public"`
}

type publishKnowledgeResult struct {
	ID       string `json:"id"`
	IsPublic bool   `json:"is_public"`
	Message  string `json:"message"`
}

func (d *Dispatcher) publishKnowledge(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a publishKnowledgeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if err := d.svc.PublishKnowledge(ctx, identity, a.ID, a.IsPublic); err != nil {
		return nil, err
	}
	return publishKnowledgeResult{ID: a.ID, IsPublic: a.IsPublic, Message: "visibility updated"}, nil
}

type manageRolesArgs struct {
	Action     string `json:"action"`
	AgentID    string `json:"agent_id"`
	Role       string `json:"role,omitempty"`
	Object     string `json:"obj,omitempty"`
	Permission string `json:"permission,omitempty"`
}

func (d *Dispatcher) manageRoles(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a manageRolesArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return d.svc.ManageRoles(ctx, identity, service.ManageRolesRequest{
		Action: a.Action, AgentID: a.AgentID, Role: a.Role, Object: a.Object, Permission: a.Permission,
	})
}

type reportOutcomeArgs struct {
	ItemID  string  `json:"item_id"`
	Outcome string  `json:"outcome"`
	RunID   *string `json:"run_id,omitempty"`
}

type reportOutcomeResult struct {
	Status   string `json:"status"`
	ItemID   string `json:"item_id"`
	Outcome  string `json:"outcome"`
	SignalID string `json:"signal_id,omitempty"`
}

func (d *Dispatcher) reportOutcome(ctx context.Context, identity credential.Identity, raw json.RawMessage) (any, error) {
	var a reportOutcomeArgs
	if err := unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if a.Outcome != "solved" && a.Outcome != "did_not_help" {
		return nil, apperrors.NewValidationError("outcome must be solved or did_not_help").WithDetailsf("outcome=%s", a.Outcome)
	}
	status, signalID, err := d.svc.ReportOutcome(ctx, identity, a.ItemID, a.Outcome, a.RunID)
	if err != nil {
		return nil, err
	}
	return reportOutcomeResult{Status: status, ItemID: a.ItemID, Outcome: a.Outcome, SignalID: signalID}, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "malformed tool arguments")
	}
	return nil
}

// decodeOffset reuses the hybrid retriever's own cursor encoding —
// list_knowledge pages the same way search_knowledge does.
func decodeOffset(cursor string) int {
	return repository.DecodeCursor(cursor)
}

func (d *Dispatcher) logWarn(msg, tenantID string, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Warn(msg, logging.NewFields().Component("rpc").Tenant(tenantID).Error(err).Zap()...)
}
