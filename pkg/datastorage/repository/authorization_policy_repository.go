package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/shared/idgen"
)

// AuthorizationPolicyRepository stores the RBAC policy tuples the
// enforcer evaluates. It satisfies rbac.PolicyStore.
type AuthorizationPolicyRepository struct {
	db *sql.DB
}

func NewAuthorizationPolicyRepository(db *sql.DB) *AuthorizationPolicyRepository {
	return &AuthorizationPolicyRepository{db: db}
}

func (r *AuthorizationPolicyRepository) ListForDomain(ctx context.Context, domain string) ([]models.AuthorizationPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject, domain, object, action FROM authorization_policies WHERE domain = $1`, domain)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list authorization_policies", err)
	}
	defer rows.Close()

	var out []models.AuthorizationPolicy
	for rows.Next() {
		var p models.AuthorizationPolicy
		if err := rows.Scan(&p.ID, &p.Subject, &p.Domain, &p.Object, &p.Action); err != nil {
			return nil, apperrors.NewDatabaseError("scan authorization_policy", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert idempotently installs a policy tuple keyed on (subject, domain,
// object, action).
func (r *AuthorizationPolicyRepository) Upsert(ctx context.Context, p *models.AuthorizationPolicy) error {
	if p.ID == "" {
		p.ID = idgen.New()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO authorization_policies (id, subject, domain, object, action)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (subject, domain, object, action) DO NOTHING`,
		p.ID, p.Subject, p.Domain, p.Object, p.Action)
	if err != nil {
		return apperrors.NewDatabaseError("upsert authorization_policy", err)
	}
	return nil
}

func (r *AuthorizationPolicyRepository) Delete(ctx context.Context, domain, subject, object, action string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM authorization_policies WHERE domain = $1 AND subject = $2 AND object = $3 AND action = $4`,
		domain, subject, object, action)
	if err != nil {
		return apperrors.NewDatabaseError("delete authorization_policy", err)
	}
	return nil
}

// RoleBindingRepository tracks which roles are bound to which agent
// within a domain. It satisfies rbac.RoleBindingStore.
type RoleBindingRepository struct {
	db *sql.DB
}

func NewRoleBindingRepository(db *sql.DB) *RoleBindingRepository {
	return &RoleBindingRepository{db: db}
}

func (r *RoleBindingRepository) ListRoles(ctx context.Context, domain, agentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role FROM role_bindings WHERE domain = $1 AND agent_id = $2`, domain, agentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list role_bindings", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, apperrors.NewDatabaseError("scan role_binding", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleBindingRepository) AssignRole(ctx context.Context, domain, agentID, role string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO role_bindings (id, domain, agent_id, role, created_at)
VALUES ($1,$2,$3,$4, now())
ON CONFLICT (domain, agent_id, role) DO NOTHING`,
		idgen.New(), domain, agentID, role)
	if err != nil {
		return apperrors.NewDatabaseError("assign role_binding", err)
	}
	return nil
}

func (r *RoleBindingRepository) RemoveRole(ctx context.Context, domain, agentID, role string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM role_bindings WHERE domain = $1 AND agent_id = $2 AND role = $3`, domain, agentID, role)
	if err != nil {
		return apperrors.NewDatabaseError("remove role_binding", err)
	}
	return nil
}
