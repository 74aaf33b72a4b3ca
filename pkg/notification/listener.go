package notification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// Listener holds a single dedicated Postgres connection issuing LISTEN,
// separate from the pooled transactional connections — listening requires
// a persistent idle connection that the query pool cannot provide.
type Listener struct {
	databaseURL string
	logger      *zap.Logger
}

func NewListener(databaseURL string, logger *zap.Logger) *Listener {
	return &Listener{databaseURL: databaseURL, logger: logger}
}

// Run connects, issues LISTEN on the knowledge_published channel, and
// forwards every decoded notification to hub until ctx is cancelled or
// the connection is lost. Callers typically run this in its own
// goroutine for the lifetime of the process; a connection loss logs and
// returns so the caller can decide whether to reconnect.
func (l *Listener) Run(ctx context.Context, hub *Hub) error {
	conn, err := pgx.Connect(ctx, l.databaseURL)
	if err != nil {
		return fmt.Errorf("notification: listener connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		return fmt.Errorf("notification: issue LISTEN: %w", err)
	}

	for {
		notif, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("notification: wait for notification: %w", err)
		}

		ev, err := ParseEvent(notif.Payload)
		if err != nil {
			l.logWarn("listener: undecodable notification payload, dropping", err)
			continue
		}
		hub.Publish(ev)
	}
}

func (l *Listener) logWarn(msg string, err error) {
	if l.logger == nil {
		return
	}
	l.logger.Warn(msg, logging.NewFields().Component("notification").Error(err).Zap()...)
}
