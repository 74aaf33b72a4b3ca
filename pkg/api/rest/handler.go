package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/api/credential"
	"github.com/hivemind-ai/hivemind/pkg/api/rpc"
	"github.com/hivemind-ai/hivemind/pkg/api/service"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository"
	"github.com/hivemind-ai/hivemind/pkg/notification"
	"github.com/hivemind-ai/hivemind/pkg/orchestrator"
	"github.com/hivemind-ai/hivemind/pkg/ratelimit"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// Handler holds the REST mirror's collaborators. One Handler backs the
// whole /api/v1/ surface; its methods are registered onto a chi.Router by
// Router.
type Handler struct {
	svc     *service.Service
	apiKeys credential.ApiKeyStore
	secret  []byte
	gate    *ratelimit.Gate
	quotas  map[models.Tier]rpc.Quota
	hub     *notification.Hub
	logger  *zap.Logger
}

// Deps bundles Handler's collaborators.
type Deps struct {
	Service        *service.Service
	ApiKeys        credential.ApiKeyStore
	Secret         []byte
	Gate           *ratelimit.Gate
	Quotas         map[models.Tier]rpc.Quota
	Hub            *notification.Hub
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHandler(d Deps) *Handler {
	return &Handler{svc: d.Service, apiKeys: d.ApiKeys, secret: d.Secret, gate: d.Gate, quotas: d.Quotas, hub: d.Hub, logger: d.Logger}
}

// Router builds the full chi.Router for the REST mirror, CORS included —
// browsers holding an open SSE feed need it, same as the teacher's
// gateway-service stack.
func Router(d Deps) chi.Router {
	h := NewHandler(d)
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOriginsOrWildcard(d.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/.well-known/mcp/server-card.json", h.wellKnown)
	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/knowledge", h.addKnowledge)
		r.Get("/knowledge/search", h.searchKnowledge)
		r.Get("/knowledge/{id}", h.getKnowledge)
		r.Delete("/knowledge/{id}", h.deleteKnowledge)
		r.Patch("/knowledge/{id}/publish", h.publishKnowledge)
		r.Post("/knowledge/{id}/outcome", h.reportOutcome)
		r.Get("/knowledge", h.listKnowledge)

		r.Post("/roles", h.manageRoles)

		r.Get("/contributions", h.listContributions)
		r.Post("/contributions/{id}/approve", h.approveContribution)
		r.Post("/contributions/{id}/reject", h.rejectContribution)

		r.Get("/stats/commons", h.statsCommons)
		r.Get("/stats/org", h.statsOrg)
		r.Get("/stats/user", h.statsUser)

		r.Get("/stream/feed", h.streamFeed)
	})

	return r
}

func allowedOriginsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wellKnown returns the static discovery document a consuming agent
// fetches before ever calling an RPC tool.
func (h *Handler) wellKnown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverCard)
}

// identity resolves the caller from the X-API-Key or Authorization
// header and enforces op's tier quota. A non-nil error has already been
// written as a Problem; callers must return immediately.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request, op string) (credential.Identity, bool) {
	header := r.Header.Get("X-API-Key")
	if header == "" {
		header = r.Header.Get("Authorization")
	}

	id, err := credential.Resolve(r.Context(), header, h.apiKeys, h.secret)
	if err != nil {
		writeProblem(w, r, err)
		return credential.Identity{}, false
	}

	if h.gate != nil {
		if limit := h.quotaLimit(id.Tier, op); limit > 0 {
			allowed, err := h.gate.CheckQuota(r.Context(), op, id.TenantID, id.AgentID, limit)
			if err != nil {
				writeProblem(w, r, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "quota check failed"))
				return credential.Identity{}, false
			}
			if !allowed {
				writeProblem(w, r, apperrors.NewRateLimitError("tier quota exceeded"))
				return credential.Identity{}, false
			}
		}
	}
	return id, true
}

func (h *Handler) quotaLimit(tier models.Tier, op string) int {
	q, ok := h.quotas[tier]
	if !ok {
		return 0
	}
	if op == "contribute" {
		return q.ContributePerMinute
	}
	return q.SearchPerMinute
}

type addKnowledgeBody struct {
	Content    string         `json:"content"`
	Category   string         `json:"category"`
	Confidence *float64       `json:"confidence,omitempty"`
	Framework  *string        `json:"framework,omitempty"`
	Language   *string        `json:"language,omitempty"`
	Version    *string        `json:"version,omitempty"`
	Tags       map[string]any `json:"tags,omitempty"`
	RunID      *string        `json:"run_id,omitempty"`
}

func (h *Handler) addKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	var body addKnowledgeBody
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, r, err)
		return
	}
	confidence := 0.8
	if body.Confidence != nil {
		confidence = *body.Confidence
	}

	res, err := h.svc.AddKnowledge(r.Context(), id, orchestrator.Request{
		Content: body.Content, Category: models.KnowledgeCategory(body.Category), Confidence: confidence,
		Framework: body.Framework, Language: body.Language, Version: body.Version, Tags: body.Tags,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	q := r.URL.Query()

	var category *models.KnowledgeCategory
	if c := q.Get("category"); c != "" {
		cat := models.KnowledgeCategory(c)
		category = &cat
	}
	var atTime *time.Time
	if t := q.Get("at_time"); t != "" {
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			writeProblem(w, r, apperrors.NewValidationError("at_time must be ISO-8601"))
			return
		}
		atTime = &parsed
	}
	limit := 10
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	var version *string
	if v := q.Get("version"); v != "" {
		version = &v
	}

	resp, err := h.svc.SearchKnowledge(r.Context(), id, service.SearchRequest{
		Query: q.Get("query"), Category: category, Limit: limit, Cursor: q.Get("cursor"), AtTime: atTime, Version: version,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

func (h *Handler) getKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	resp, err := h.svc.SearchKnowledge(r.Context(), id, service.SearchRequest{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.ItemPayload())
}

func (h *Handler) listKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	q := r.URL.Query()
	status := q.Get("status")
	if status == "" {
		status = "pending"
	}
	var category *models.KnowledgeCategory
	if c := q.Get("category"); c != "" {
		cat := models.KnowledgeCategory(c)
		category = &cat
	}
	limit := 20
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	resp, err := h.svc.ListKnowledge(r.Context(), id, service.ListKnowledgeRequest{
		Status: status, Category: category, Limit: limit, Offset: repository.DecodeCursor(q.Get("cursor")),
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	if err := h.svc.DeleteKnowledge(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeProblem(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publishBody struct {
	IsPublic bool `json:"is_public"`
}

func (h *Handler) publishKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	var body publishBody
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, r, err)
		return
	}
	itemID := chi.URLParam(r, "id")
	if err := h.svc.PublishKnowledge(r.Context(), id, itemID, body.IsPublic); err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": itemID, "is_public": body.IsPublic})
}

type outcomeBody struct {
	Outcome string  `json:"outcome"`
	RunID   *string `json:"run_id,omitempty"`
}

func (h *Handler) reportOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	var body outcomeBody
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, r, err)
		return
	}
	if body.Outcome != "solved" && body.Outcome != "did_not_help" {
		writeProblem(w, r, apperrors.NewValidationError("outcome must be solved or did_not_help"))
		return
	}
	itemID := chi.URLParam(r, "id")
	status, signalID, err := h.svc.ReportOutcome(r.Context(), id, itemID, body.Outcome, body.RunID)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "item_id": itemID, "outcome": body.Outcome, "signal_id": signalID})
}

type manageRolesBody struct {
	Action     string `json:"action"`
	AgentID    string `json:"agent_id"`
	Role       string `json:"role,omitempty"`
	Object     string `json:"obj,omitempty"`
	Permission string `json:"permission,omitempty"`
}

func (h *Handler) manageRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	var body manageRolesBody
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, r, err)
		return
	}
	resp, err := h.svc.ManageRoles(r.Context(), id, service.ManageRolesRequest{
		Action: body.Action, AgentID: body.AgentID, Role: body.Role, Object: body.Object, Permission: body.Permission,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// listContributions is the review UI's own entry point into the pending
// queue — distinct from list_knowledge's merged pending/approved view.
func (h *Handler) listContributions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	contributions, err := h.svc.ListPendingForReview(r.Context(), id, limit)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": contributions})
}

func (h *Handler) approveContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	res, err := h.svc.ApproveContribution(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) rejectContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "contribute")
	if !ok {
		return
	}
	if err := h.svc.RejectContribution(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeProblem(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) statsCommons(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r, "search"); !ok {
		return
	}
	stats, err := h.svc.CommonsStats(r.Context())
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) statsOrg(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	stats, err := h.svc.OrgStats(r.Context(), id)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) statsUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}
	stats, err := h.svc.UserStats(r.Context(), id)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// streamFeed opens an SSE connection subscribed to id's tenant, forwarding
// every Hub-published Event until the client disconnects.
func (h *Handler) streamFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r, "search")
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeProblem(w, r, apperrors.New(apperrors.ErrorTypeInternal, "streaming unsupported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := h.hub.Subscribe(ctx, id.TenantID)
	defer sub.Close()

	ticker := time.NewTicker(notification.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			frame, err := notification.EncodeSSE(ev)
			if err != nil {
				h.logWarn("rest: failed to encode SSE frame, dropping", id.TenantID, err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write(notification.KeepAliveFrame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "malformed request body")
	}
	return nil
}

func (h *Handler) logWarn(msg, tenantID string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.Warn(msg, logging.NewFields().Component("rest").Tenant(tenantID).Error(err).Zap()...)
}
