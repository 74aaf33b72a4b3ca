package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/llm"
)

func TestConflict(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Conflict Resolver Suite")
}

var _ = Describe("Resolve", func() {
	existing := Existing{ID: "item-1", Content: "the old answer"}

	It("defaults to ADD when no classifier is configured", func() {
		res := Resolve(context.Background(), nil, "new content", existing)
		Expect(res.Action).To(Equal(ActionAdd))
		Expect(res.ExistingItemID).To(Equal("item-1"))
	})

	It("defaults to ADD when the LLM call fails", func() {
		fake := &llm.FakeClassifier{Err: errors.New("connection refused")}
		res := Resolve(context.Background(), fake, "new content", existing)
		Expect(res.Action).To(Equal(ActionAdd))
	})

	It("parses an UPDATE verdict", func() {
		fake := &llm.FakeClassifier{Response: `{"action": "UPDATE", "reason": "newer and corrected", "is_direct_conflict": true}`}
		res := Resolve(context.Background(), fake, "new", existing)
		Expect(res.Action).To(Equal(ActionUpdate))
		Expect(res.Reason).To(Equal("newer and corrected"))
		Expect(fake.Calls).To(HaveLen(1))
	})

	It("strips markdown code fences before parsing", func() {
		fake := &llm.FakeClassifier{Response: "```json\n{\"action\": \"NOOP\", \"reason\": \"duplicate\", \"is_direct_conflict\": true}\n```"}
		res := Resolve(context.Background(), fake, "new", existing)
		Expect(res.Action).To(Equal(ActionNoop))
	})

	It("flags a multi-hop conflict for review instead of returning the raw action", func() {
		fake := &llm.FakeClassifier{Response: `{"action": "UPDATE", "reason": "depends on three other items", "is_direct_conflict": false}`}
		res := Resolve(context.Background(), fake, "new", existing)
		Expect(res.Action).To(Equal(ActionFlaggedForReview))
		Expect(res.IsDirectConflict).To(BeFalse())
	})

	It("defaults an unrecognized action to ADD", func() {
		fake := &llm.FakeClassifier{Response: `{"action": "DELETE_EVERYTHING", "reason": "??", "is_direct_conflict": true}`}
		res := Resolve(context.Background(), fake, "new", existing)
		Expect(res.Action).To(Equal(ActionAdd))
	})

	It("defaults to ADD on unparseable JSON", func() {
		fake := &llm.FakeClassifier{Response: "not json at all"}
		res := Resolve(context.Background(), fake, "new", existing)
		Expect(res.Action).To(Equal(ActionAdd))
	})
})

type fakeStore struct {
	expiredItems     map[string]time.Time
	invalidatedItems map[string]time.Time
	failExpire       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{expiredItems: map[string]time.Time{}, invalidatedItems: map[string]time.Time{}}
}

func (s *fakeStore) ExpireItem(ctx context.Context, tenantID, itemID string, at time.Time) error {
	if s.failExpire {
		return errors.New("db unavailable")
	}
	s.expiredItems[itemID] = at
	return nil
}

func (s *fakeStore) InvalidateItem(ctx context.Context, tenantID, itemID string, at time.Time) error {
	s.invalidatedItems[itemID] = at
	return nil
}

var _ = Describe("Apply", func() {
	It("expires the existing item on UPDATE", func() {
		store := newFakeStore()
		applied, err := Apply(context.Background(), store, "tenant-a", Resolution{Action: ActionUpdate, ExistingItemID: "item-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied.Action).To(Equal(ActionUpdate))
		Expect(store.expiredItems).To(HaveKey("item-1"))
	})

	It("invalidates the existing item's world-time validity on VERSION_FORK", func() {
		store := newFakeStore()
		applied, err := Apply(context.Background(), store, "tenant-a", Resolution{Action: ActionVersionFork, ExistingItemID: "item-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied.SiblingID).To(Equal("item-1"))
		Expect(applied.ValidAt).NotTo(BeZero())
		Expect(store.invalidatedItems).To(HaveKey("item-1"))
	})

	It("makes no database change on NOOP", func() {
		store := newFakeStore()
		applied, err := Apply(context.Background(), store, "tenant-a", Resolution{Action: ActionNoop, Reason: "duplicate"})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied.Action).To(Equal(ActionNoop))
		Expect(store.expiredItems).To(BeEmpty())
	})

	It("makes no database change on ADD or FLAGGED_FOR_REVIEW", func() {
		store := newFakeStore()
		applied, err := Apply(context.Background(), store, "tenant-a", Resolution{Action: ActionAdd})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied.Action).To(Equal(ActionAdd))
		Expect(store.expiredItems).To(BeEmpty())
		Expect(store.invalidatedItems).To(BeEmpty())
	})

	It("surfaces a repository error from an UPDATE", func() {
		store := newFakeStore()
		store.failExpire = true
		_, err := Apply(context.Background(), store, "tenant-a", Resolution{Action: ActionUpdate, ExistingItemID: "item-1"})
		Expect(err).To(HaveOccurred())
	})
})
