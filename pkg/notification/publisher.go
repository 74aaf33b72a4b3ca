package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
)

// Publisher emits an Event on the knowledge_published channel from within
// the caller's own transactional connection — a one-shot NOTIFY, not the
// dedicated listening connection SSE subscribers hold open.
type Publisher struct {
	db *sql.DB
}

func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Publish sends ev as the payload of a pg_notify call on
// EventTypeKnowledgePublished's channel. Callers treat failure here as
// non-fatal to the commit that triggered it — see Hub and Dispatcher for
// the corresponding best-effort delivery paths.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal notification event")
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channelName, string(payload)); err != nil {
		return apperrors.NewDatabaseError("pg_notify knowledge_published", err)
	}
	return nil
}

const channelName = "knowledge_published"

// ParseEvent decodes a raw NOTIFY payload back into an Event.
func ParseEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("notification: decode event payload: %w", err)
	}
	return ev, nil
}
