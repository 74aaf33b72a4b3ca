// Package models defines the persisted entities of the knowledge commons:
// the authoritative KnowledgeItem row, its pre-approval PendingContribution
// mirror, the append-only QualitySignal log, and the supporting
// tenant-configuration and credential records.
package models

import "time"

// KnowledgeCategory is the closed classification of a piece of knowledge.
type KnowledgeCategory string

const (
	CategoryBugFix            KnowledgeCategory = "bug_fix"
	CategoryConfig            KnowledgeCategory = "config"
	CategoryDomainExpertise   KnowledgeCategory = "domain_expertise"
	CategoryWorkaround        KnowledgeCategory = "workaround"
	CategoryPricingData       KnowledgeCategory = "pricing_data"
	CategoryRegulatoryRule    KnowledgeCategory = "regulatory_rule"
	CategoryTooling           KnowledgeCategory = "tooling"
	CategoryReasoningTrace    KnowledgeCategory = "reasoning_trace"
	CategoryFailedApproach    KnowledgeCategory = "failed_approach"
	CategoryVersionWorkaround KnowledgeCategory = "version_workaround"
	CategoryGeneral           KnowledgeCategory = "general"
)

var validCategories = map[KnowledgeCategory]bool{
	CategoryBugFix: true, CategoryConfig: true, CategoryDomainExpertise: true,
	CategoryWorkaround: true, CategoryPricingData: true, CategoryRegulatoryRule: true,
	CategoryTooling: true, CategoryReasoningTrace: true, CategoryFailedApproach: true,
	CategoryVersionWorkaround: true, CategoryGeneral: true,
}

// IsValid reports whether c is one of the known categories.
func (c KnowledgeCategory) IsValid() bool { return validCategories[c] }

// SignalType is the closed classification of a QualitySignal event.
type SignalType string

const (
	SignalRetrieval            SignalType = "retrieval"
	SignalOutcomeSolved        SignalType = "outcome_solved"
	SignalOutcomeNotHelpful    SignalType = "outcome_not_helpful"
	SignalContradiction        SignalType = "contradiction"
	SignalContradictionCluster SignalType = "contradiction_cluster"
)

// Tier is an API key's billing tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// KnowledgeItem is the authoritative, searchable unit of the commons.
type KnowledgeItem struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	IsPublic        bool              `json:"is_public"`
	SourceAgentID   string            `json:"source_agent_id"`
	RunID           *string           `json:"run_id,omitempty"`
	Content         string            `json:"content"`
	ContentHash     string            `json:"content_hash"`
	Category        KnowledgeCategory `json:"category"`
	Confidence      float64           `json:"confidence"`
	Framework       *string           `json:"framework,omitempty"`
	Language        *string           `json:"language,omitempty"`
	Version         *string           `json:"version,omitempty"`
	Tags            map[string]any    `json:"tags,omitempty"`
	Embedding       []float32         `json:"-"`
	QualityScore    float64           `json:"quality_score"`
	RetrievalCount  int               `json:"retrieval_count"`
	HelpfulCount    int               `json:"helpful_count"`
	NotHelpfulCount int               `json:"not_helpful_count"`

	// System-time axis: when this row was contributed, and when (if ever)
	// it was superseded by a newer version.
	ContributedAt time.Time  `json:"contributed_at"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`

	// World-time axis: the span during which the fact itself holds.
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`

	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	ApprovedAt time.Time  `json:"approved_at"`
}

// IsCurrent reports whether this is the live system-time version of its
// lineage and has not been soft-deleted.
func (k *KnowledgeItem) IsCurrent() bool {
	return k.ExpiredAt == nil && k.DeletedAt == nil
}

// ValidAtTime reports whether the item's world-time span covers t.
func (k *KnowledgeItem) ValidAtTime(t time.Time) bool {
	if k.ValidAt != nil && k.ValidAt.After(t) {
		return false
	}
	if k.InvalidAt != nil && !k.InvalidAt.After(t) {
		return false
	}
	return true
}

// PendingContribution is the quarantined, pre-approval mirror of a
// KnowledgeItem. It carries none of the post-approval fields (embedding,
// quality score, counters, world-time, approval timestamp).
type PendingContribution struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	SourceAgentID      string            `json:"source_agent_id"`
	RunID              *string           `json:"run_id,omitempty"`
	Content            string            `json:"content"`
	ContentHash        string            `json:"content_hash"`
	Category           KnowledgeCategory `json:"category"`
	Confidence         float64           `json:"confidence"`
	Framework          *string           `json:"framework,omitempty"`
	Language           *string           `json:"language,omitempty"`
	Version            *string           `json:"version,omitempty"`
	Tags               map[string]any    `json:"tags,omitempty"`
	ContributedAt      time.Time         `json:"contributed_at"`
	IsSensitiveFlagged bool              `json:"is_sensitive_flagged"`
}

// QualitySignal is an append-only behavioral event against a KnowledgeItem.
type QualitySignal struct {
	ID              string
	KnowledgeItemID string
	SignalType      SignalType
	AgentID         *string
	RunID           *string
	Metadata        map[string]any
	CreatedAt       time.Time
}

// AutoApproveRule marks a tenant/category pair for direct insertion,
// bypassing the pending-contribution queue.
type AutoApproveRule struct {
	ID            string
	TenantID      string
	Category      KnowledgeCategory
	IsAutoApprove bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ApiKey is a credential record — never the credential itself. Only
// key_hash (SHA-256 of the full key) is used for matching; key_prefix is
// stored solely so a key can be recognized in a UI without ever
// round-tripping the secret.
type ApiKey struct {
	ID                     string
	KeyPrefix              string
	KeyHash                string
	TenantID               string
	AgentID                string
	Tier                   Tier
	RequestCount           int
	BillingPeriodStart     time.Time
	BillingPeriodResetDays int
	IsActive               bool
	CreatedAt              time.Time
	LastUsedAt             *time.Time
}

// WindowElapsed reports whether the rolling billing window has closed as
// of now, and therefore RequestCount should reset rather than increment.
func (k *ApiKey) WindowElapsed(now time.Time) bool {
	return !now.Before(k.BillingPeriodStart.AddDate(0, 0, k.BillingPeriodResetDays))
}

// WebhookEndpoint is a tenant-owned delivery target for knowledge events.
// A nil EventTypes means "all events".
type WebhookEndpoint struct {
	ID         string
	TenantID   string
	URL        string
	EventTypes []string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuthorizationPolicy is one RBAC tuple: subject may perform action on
// object within domain. Object is prefixed "namespace:<tenant>",
// "category:<cat>", or "item:<uuid>".
type AuthorizationPolicy struct {
	ID      string
	Subject string
	Domain  string
	Object  string
	Action  string
}

// RoleBinding assigns a named role to an agent within a domain (tenant).
// The RBAC enforcer treats a bound role as an additional subject alias
// when matching AuthorizationPolicy tuples.
type RoleBinding struct {
	ID       string
	Domain   string
	AgentID  string
	Role     string
	CreatedAt time.Time
}

// DeploymentConfig is a single process-wide key/value row. Known keys
// include the active embedding model id and revision, and the
// quality-aggregation and distillation run markers.
type DeploymentConfig struct {
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
