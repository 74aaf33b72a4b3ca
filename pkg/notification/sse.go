package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// KeepAliveInterval is how often an idle subscriber gets a ping comment
// so intermediaries don't time out the connection.
const KeepAliveInterval = 25 * time.Second

// subscriberBuffer bounds how many undelivered events a slow subscriber
// can accumulate before Hub starts dropping its oldest pending message
// rather than blocking the publisher.
const subscriberBuffer = 32

// Subscription is a live SSE feed. Events arrives as already-decoded
// Events the caller's handler renders to the wire; Close must be called
// exactly once, including on client disconnect, to release the
// subscriber slot.
type Subscription struct {
	Events <-chan Event
	hub    *Hub
	id     uint64
}

// Close detaches the subscription from its Hub. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub fans out Events published via Publish to every live Subscription
// whose visibility matches: public events go to everyone, private events
// only to subscribers of the matching tenant.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]subscriberEntry
}

type subscriberEntry struct {
	tenantID string
	ch       chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscriberEntry)}
}

// Subscribe registers a new feed for tenantID. A caller disconnecting
// mid-stream calls Subscription.Close to clean up without the Hub ever
// raising.
func (h *Hub) Subscribe(ctx context.Context, tenantID string) *Subscription {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = subscriberEntry{tenantID: tenantID, ch: ch}
	h.mu.Unlock()

	sub := &Subscription{Events: ch, hub: h, id: id}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.subs[id]; ok {
		close(entry.ch)
		delete(h.subs, id)
	}
}

// Publish delivers ev to every matching live subscriber. A full
// subscriber channel drops the event for that subscriber rather than
// blocking the publisher or any other subscriber — SSE delivery is
// best-effort, matching the spec's "no exactly-once delivery" non-goal.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.subs {
		if !ev.IsPublic && entry.tenantID != ev.TenantID {
			continue
		}
		select {
		case entry.ch <- ev:
		default:
		}
	}
}

// EncodeSSE renders ev as a single "data: ..." SSE frame.
func EncodeSSE(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	out := append([]byte("event: "+ev.Type+"\ndata: "), body...)
	out = append(out, '\n', '\n')
	return out, nil
}

// KeepAliveFrame is the comment line sent on the keep-alive interval.
var KeepAliveFrame = []byte(": keep-alive\n\n")
