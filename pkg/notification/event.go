// Package notification implements the real-time delivery fabric: a
// Postgres LISTEN/NOTIFY fan-out to SSE subscribers, and a bounded-retry
// webhook dispatcher. Both are driven by the same commit-time publish
// call; in-band delivery (SSE) and out-of-band delivery (webhooks) never
// block one another.
package notification

import "time"

// EventTypeKnowledgePublished is the sole NOTIFY/webhook event type this
// core emits: a knowledge item became visible (approval or publish-state
// change).
const EventTypeKnowledgePublished = "knowledge_published"

// Event is the payload carried on the knowledge_published channel and
// mirrored into every matching webhook delivery.
type Event struct {
	Type            string    `json:"event"`
	KnowledgeItemID string    `json:"knowledge_item_id"`
	IsPublic        bool      `json:"is_public"`
	TenantID        string    `json:"tenant_id"`
	Category        string    `json:"category"`
	Title           string    `json:"title,omitempty"`
	Timestamp       time.Time `json:"timestamp_iso"`
}

// WebhookPayload is the JSON body POSTed to a webhook endpoint — the
// shape fixed by the spec, distinct from the richer in-band Event (no
// title, since webhook consumers are expected to fetch the item).
type WebhookPayload struct {
	Event           string    `json:"event"`
	KnowledgeItemID string    `json:"knowledge_item_id"`
	TenantID        string    `json:"tenant_id"`
	Category        string    `json:"category"`
	TimestampISO    string    `json:"timestamp_iso"`
}

func (e Event) webhookPayload() WebhookPayload {
	return WebhookPayload{
		Event:           e.Type,
		KnowledgeItemID: e.KnowledgeItemID,
		TenantID:        e.TenantID,
		Category:        e.Category,
		TimestampISO:    e.Timestamp.Format(time.RFC3339),
	}
}
