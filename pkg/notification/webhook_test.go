package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

type fakeEndpointLister struct {
	endpoints []*models.WebhookEndpoint
}

func (f *fakeEndpointLister) ListActiveForTenant(ctx context.Context, tenantID, eventType string) ([]*models.WebhookEndpoint, error) {
	return f.endpoints, nil
}

var _ = Describe("Dispatcher", func() {
	It("delivers a webhook task to the endpoint URL", func() {
		var received atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		lister := &fakeEndpointLister{endpoints: []*models.WebhookEndpoint{{URL: server.URL, IsActive: true}}}
		d := NewDispatcher(lister, 2, nil)

		d.Enqueue(context.Background(), Event{Type: EventTypeKnowledgePublished, TenantID: "tenant-a"})

		Eventually(func() int32 { return received.Load() }).Should(Equal(int32(1)))
	})

	It("retries on failure up to the attempt limit then drops", func() {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		lister := &fakeEndpointLister{endpoints: []*models.WebhookEndpoint{{URL: server.URL, IsActive: true}}}
		d := NewDispatcher(lister, 1, nil)
		d.Enqueue(context.Background(), Event{Type: EventTypeKnowledgePublished, TenantID: "tenant-a"})

		Eventually(func() int32 { return attempts.Load() }, 20*time.Second, 200*time.Millisecond).
			Should(Equal(int32(MaxDeliveryAttempts)))
		Consistently(func() int32 { return attempts.Load() }, time.Second).Should(Equal(int32(MaxDeliveryAttempts)))
	})
})
