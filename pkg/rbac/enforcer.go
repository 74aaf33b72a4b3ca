// Package rbac implements the three-level authorization enforcer: policy
// tuples of (subject, domain, object, action) are evaluated through an
// embedded Rego policy, with "subject" matching either an agent's own id
// or any role bound to it within the request's domain.
package rbac

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

//go:embed policy.rego
var policyModule string

const allowQuery = "data.hivemind.rbac.allow"

// Object encodes the three levels the enforcer understands. Namespace is
// tenant-wide, Category scopes a knowledge category, and Item scopes one
// knowledge item.
func NamespaceObject(tenantID string) string { return "namespace:" + tenantID }
func CategoryObject(category string) string  { return "category:" + category }
func ItemObject(itemID string) string        { return "item:" + itemID }

// WildcardAction is the action that matches any requested action within a
// matching policy tuple.
const WildcardAction = "*"

// Roles seeded at tenant onboarding.
const (
	RoleAdmin       = "admin"
	RoleContributor = "contributor"
)

// PolicyStore is the backing store for authorization tuples.
type PolicyStore interface {
	ListForDomain(ctx context.Context, domain string) ([]models.AuthorizationPolicy, error)
	Upsert(ctx context.Context, p *models.AuthorizationPolicy) error
	Delete(ctx context.Context, domain, subject, object, action string) error
}

// RoleBindingStore tracks which roles are bound to which agent within a
// domain.
type RoleBindingStore interface {
	ListRoles(ctx context.Context, domain, agentID string) ([]string, error)
	AssignRole(ctx context.Context, domain, agentID, role string) error
	RemoveRole(ctx context.Context, domain, agentID, role string) error
}

// Enforcer evaluates (subject, domain, object, action) requests against
// the policy store. The Rego query is prepared once at construction and
// reused for every Enforce call.
type Enforcer struct {
	policies PolicyStore
	roles    RoleBindingStore
	query    rego.PreparedEvalQuery
	logger   *zap.Logger
}

// NewEnforcer prepares the embedded Rego policy and returns an Enforcer
// backed by policies and roles.
func NewEnforcer(ctx context.Context, policies PolicyStore, roles RoleBindingStore, logger *zap.Logger) (*Enforcer, error) {
	pq, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("policy.rego", policyModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: prepare policy: %w", err)
	}
	return &Enforcer{policies: policies, roles: roles, query: pq, logger: logger}, nil
}

// Enforce reports whether agentID may perform action on object within
// domain, resolving agentID's own id plus every role bound to it in that
// domain as candidate policy subjects.
func (e *Enforcer) Enforce(ctx context.Context, agentID, domain, object, action string) (bool, error) {
	roles, err := e.roles.ListRoles(ctx, domain, agentID)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "rbac: list roles")
	}
	subjects := make([]string, 0, len(roles)+1)
	subjects = append(subjects, agentID)
	subjects = append(subjects, roles...)

	policies, err := e.policies.ListForDomain(ctx, domain)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "rbac: list policies")
	}

	input := map[string]any{
		"subjects": subjects,
		"domain":   domain,
		"object":   object,
		"action":   action,
		"policies": toRegoPolicies(policies),
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		e.logWarn("rbac evaluation failed, denying", domain, err)
		return false, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "rbac: evaluate policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// SeedTenant idempotently installs the baseline policy tuples a new
// tenant needs: an admin role with unrestricted access to its namespace,
// and a contributor role permitted to read and write within it.
func SeedTenant(ctx context.Context, policies PolicyStore, tenantID string) error {
	ns := NamespaceObject(tenantID)
	seeds := []models.AuthorizationPolicy{
		{Subject: RoleAdmin, Domain: tenantID, Object: ns, Action: WildcardAction},
		{Subject: RoleContributor, Domain: tenantID, Object: ns, Action: "read"},
		{Subject: RoleContributor, Domain: tenantID, Object: ns, Action: "write"},
	}
	for i := range seeds {
		if err := policies.Upsert(ctx, &seeds[i]); err != nil {
			return fmt.Errorf("rbac: seed tenant %s: %w", tenantID, err)
		}
	}
	return nil
}

func toRegoPolicies(policies []models.AuthorizationPolicy) []map[string]any {
	out := make([]map[string]any, len(policies))
	for i, p := range policies {
		out[i] = map[string]any{
			"subject": p.Subject,
			"domain":  p.Domain,
			"object":  p.Object,
			"action":  p.Action,
		}
	}
	return out
}

func (e *Enforcer) logWarn(msg, domain string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg, logging.NewFields().Component("rbac").Tenant(domain).Error(err).Zap()...)
}
