package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository/sqlutil"
)

// WebhookEndpointRepository manages tenant-owned delivery targets for
// knowledge events.
type WebhookEndpointRepository struct {
	db *sql.DB
}

func NewWebhookEndpointRepository(db *sql.DB) *WebhookEndpointRepository {
	return &WebhookEndpointRepository{db: db}
}

func (r *WebhookEndpointRepository) Create(ctx context.Context, w *models.WebhookEndpoint) error {
	eventTypes, err := sqlutil.ToNullJSON(w.EventTypes)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "marshal event_types")
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO webhook_endpoints (id, tenant_id, url, event_types, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		w.ID, w.TenantID, w.URL, eventTypes, w.IsActive, w.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert webhook_endpoint", err)
	}
	return nil
}

// ListActiveForTenant returns every active endpoint for a tenant whose
// event_types is either null (all events) or contains eventType.
func (r *WebhookEndpointRepository) ListActiveForTenant(ctx context.Context, tenantID, eventType string) ([]*models.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, url, event_types, is_active, created_at, updated_at
FROM webhook_endpoints
WHERE tenant_id = $1 AND is_active = true
  AND (event_types IS NULL OR event_types @> to_jsonb($2::text))`, tenantID, eventType)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list webhook_endpoints", err)
	}
	defer rows.Close()

	var out []*models.WebhookEndpoint
	for rows.Next() {
		var w models.WebhookEndpoint
		var eventTypes sql.NullString
		if err := rows.Scan(&w.ID, &w.TenantID, &w.URL, &eventTypes, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan webhook_endpoint", err)
		}
		if types, err := sqlutil.FromNullJSONStrings(eventTypes); err == nil {
			w.EventTypes = types
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}
