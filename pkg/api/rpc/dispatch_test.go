package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/api/credential"
	"github.com/hivemind-ai/hivemind/pkg/api/service"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
	"github.com/hivemind-ai/hivemind/pkg/ratelimit"
)

func TestRPC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RPC Dispatcher Suite")
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

type fakeItemStore struct{}

func (fakeItemStore) FetchByID(ctx context.Context, tenantID, id string) (*models.KnowledgeItem, error) {
	return nil, notFoundErr{}
}
func (fakeItemStore) SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error {
	return nil
}
func (fakeItemStore) SetPublic(ctx context.Context, tenantID, itemID string, isPublic bool) error {
	return nil
}
func (fakeItemStore) RecordOutcome(ctx context.Context, tenantID, itemID string, helpful bool) error {
	return nil
}
func (fakeItemStore) ListByTenant(ctx context.Context, tenantID string, category *models.KnowledgeCategory, limit, offset int) ([]*models.KnowledgeItem, int, error) {
	return nil, 0, nil
}
func (fakeItemStore) Search(ctx context.Context, e embedding.Embedder, p repository.SearchParams) (repository.SearchResult, error) {
	return repository.SearchResult{}, nil
}

type fakeSignalStore struct {
	recorded map[string]bool
}

func (f *fakeSignalStore) Append(ctx context.Context, s *models.QualitySignal) error {
	return nil
}
func (f *fakeSignalStore) HasOutcomeSignal(ctx context.Context, itemID, runID string, signalType models.SignalType) (bool, error) {
	key := itemID + "|" + runID + "|" + string(signalType)
	return f.recorded[key], nil
}

type fakeApiKeyStore struct{}

func (fakeApiKeyStore) FindByRawKey(ctx context.Context, rawKey string) (*models.ApiKey, error) {
	return nil, notFoundErr{}
}
func (fakeApiKeyStore) RecordUsage(ctx context.Context, k *models.ApiKey, now time.Time) error {
	return nil
}

var _ = Describe("Dispatcher", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		gate   *ratelimit.Gate
		svc    *service.Service
		d      *Dispatcher
		ctx    context.Context
		secret = []byte("test-secret")
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		gate = ratelimit.NewGate(client, time.Minute, 50, nil)
		ctx = context.Background()

		svc = service.New(service.Deps{
			Items:   fakeItemStore{},
			Signals: &fakeSignalStore{recorded: map[string]bool{}},
			NewID:   func() string { return "signal-1" },
		})

		d = NewDispatcher(Deps{
			Service: svc,
			ApiKeys: fakeApiKeyStore{},
			Secret:  secret,
			Gate:    gate,
			Quotas: map[models.Tier]Quota{
				models.TierEnterprise: NewQuota(1, 1),
			},
		})
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	signedToken := func(tenant, agent string) string {
		tok, err := credential.Sign(secret, tenant, agent)
		Expect(err).NotTo(HaveOccurred())
		return "Bearer " + tok
	}

	Describe("report_outcome", func() {
		It("records a solved outcome", func() {
			args, _ := json.Marshal(reportOutcomeArgs{ItemID: "item-1", Outcome: "solved"})
			res, err := d.Dispatch(ctx, ToolReportOutcome, signedToken("tenant-a", "agent-1"), args)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(BeAssignableToTypeOf(reportOutcomeResult{}))
			Expect(res.(reportOutcomeResult).Status).To(Equal("recorded"))
		})

		It("rejects an unrecognized outcome value", func() {
			args, _ := json.Marshal(reportOutcomeArgs{ItemID: "item-1", Outcome: "bogus"})
			_, err := d.Dispatch(ctx, ToolReportOutcome, signedToken("tenant-a", "agent-1"), args)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("credential resolution", func() {
		It("rejects a missing credential", func() {
			args, _ := json.Marshal(reportOutcomeArgs{ItemID: "item-1", Outcome: "solved"})
			_, err := d.Dispatch(ctx, ToolReportOutcome, "", args)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("tier quota", func() {
		It("rejects the second contribute-bucket call once the per-minute quota is spent", func() {
			auth := signedToken("tenant-a", "agent-1")
			args, _ := json.Marshal(reportOutcomeArgs{ItemID: "item-1", Outcome: "solved"})

			_, err := d.Dispatch(ctx, ToolReportOutcome, auth, args)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.Dispatch(ctx, ToolReportOutcome, auth, args)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("unknown tool", func() {
		It("rejects a tool name outside the fixed set", func() {
			_, err := d.Dispatch(ctx, ToolName("delete_everything"), signedToken("tenant-a", "agent-1"), nil)
			Expect(err).To(HaveOccurred())
		})
	})
})
