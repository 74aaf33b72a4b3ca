package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/metrics"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// MaxDeliveryAttempts is the total number of POST attempts per task
// before it is dropped.
const MaxDeliveryAttempts = 3

// RetryBackoff is the fixed delay between delivery attempts.
const RetryBackoff = 5 * time.Second

// DeliveryTimeout bounds a single POST attempt.
const DeliveryTimeout = 10 * time.Second

// EndpointLister is the minimal contract the dispatcher needs to resolve
// which endpoints should receive an event.
type EndpointLister interface {
	ListActiveForTenant(ctx context.Context, tenantID, eventType string) ([]*models.WebhookEndpoint, error)
}

// Dispatcher enqueues and delivers webhook tasks. Deliveries run on a
// bounded worker pool so a burst of approvals cannot spawn unbounded
// concurrent outbound connections.
type Dispatcher struct {
	endpoints EndpointLister
	client    *http.Client
	tasks     chan task
	wg        sync.WaitGroup
	logger    *zap.Logger
}

type task struct {
	url     string
	payload WebhookPayload
}

// NewDispatcher starts workerCount background workers draining the task
// queue. Callers must call Stop on shutdown to let in-flight deliveries
// finish.
func NewDispatcher(endpoints EndpointLister, workerCount int, logger *zap.Logger) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 4
	}
	d := &Dispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: DeliveryTimeout},
		tasks:     make(chan task, 256),
		logger:    logger,
	}
	d.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go d.worker()
	}
	return d
}

// Enqueue resolves ev's tenant's active endpoints subscribed to its event
// type and schedules one delivery task per endpoint. Enqueue itself never
// blocks on network I/O; it returns as soon as tasks are queued (or
// dropped, if the queue is saturated — delivery is best-effort).
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) {
	endpoints, err := d.endpoints.ListActiveForTenant(ctx, ev.TenantID, ev.Type)
	if err != nil {
		d.logWarn("dispatcher: failed to list webhook endpoints, skipping", ev.TenantID, err)
		return
	}

	payload := ev.webhookPayload()
	for _, ep := range endpoints {
		select {
		case d.tasks <- task{url: ep.URL, payload: payload}:
		default:
			d.logWarn("dispatcher: task queue saturated, dropping webhook delivery", ev.TenantID, nil)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.deliver(t)
	}
}

// Stop closes the task queue and blocks until every worker has drained it,
// letting in-flight and already-queued deliveries finish before returning.
func (d *Dispatcher) Stop() {
	close(d.tasks)
	d.wg.Wait()
}

// deliver POSTs the task body, retrying up to MaxDeliveryAttempts times
// with a fixed backoff on network failure, non-2xx status, or a timeout;
// after the last attempt it logs and drops the task.
func (d *Dispatcher) deliver(t task) {
	body, err := json.Marshal(t.payload)
	if err != nil {
		d.logWarn("dispatcher: failed to marshal webhook payload, dropping", t.payload.TenantID, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= MaxDeliveryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
		err := d.attempt(ctx, t.url, body)
		cancel()
		if err == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			return
		}
		lastErr = err
		if attempt < MaxDeliveryAttempts {
			metrics.WebhookDeliveriesTotal.WithLabelValues("retried").Inc()
			time.Sleep(RetryBackoff)
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
	d.logWarn(fmt.Sprintf("dispatcher: webhook delivery exhausted %d attempts, dropping", MaxDeliveryAttempts), t.payload.TenantID, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) logWarn(msg, tenantID string, err error) {
	if d.logger == nil {
		return
	}
	fields := logging.NewFields().Component("notification").Tenant(tenantID)
	if err != nil {
		fields = fields.Error(err)
	}
	d.logger.Warn(msg, fields.Zap()...)
}
