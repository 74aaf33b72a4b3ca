package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAggregator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Quality Aggregator Suite")
}

type fakeStore struct {
	lastRun       time.Time
	lastRunExists bool
	affected      []string
	snapshots     map[string]Snapshot
	scores        map[string]float64
	loadErr       error
	updateErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: map[string]Snapshot{}, scores: map[string]float64{}}
}

func (s *fakeStore) GetLastAggregationRun(ctx context.Context) (time.Time, bool, error) {
	return s.lastRun, s.lastRunExists, nil
}

func (s *fakeStore) SetLastAggregationRun(ctx context.Context, at time.Time) error {
	s.lastRun = at
	s.lastRunExists = true
	return nil
}

func (s *fakeStore) AffectedItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	return s.affected, nil
}

func (s *fakeStore) LoadSnapshot(ctx context.Context, itemID string) (Snapshot, bool, error) {
	if s.loadErr != nil {
		return Snapshot{}, false, s.loadErr
	}
	snap, found := s.snapshots[itemID]
	return snap, found, nil
}

func (s *fakeStore) UpdateQualityScore(ctx context.Context, itemID string, score float64) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.scores[itemID] = score
	return nil
}

var _ = Describe("Aggregator", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	})

	It("advances the run marker without recomputing anything when nothing is affected", func() {
		store := newFakeStore()
		agg := NewAggregator(store, DefaultWeights(), nil)

		updated, err := agg.RunOnce(context.Background(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated).To(Equal(0))
		Expect(store.lastRunExists).To(BeTrue())
		Expect(store.lastRun).To(Equal(now))
	})

	It("recomputes and persists a score for every affected item", func() {
		store := newFakeStore()
		store.affected = []string{"item-1"}
		retrievalAt := now.Add(-45 * 24 * time.Hour)
		store.snapshots["item-1"] = Snapshot{
			ItemID:           "item-1",
			RetrievalCount:   20,
			HelpfulCount:     8,
			NotHelpfulCount:  2,
			TotalSignals:     10,
			IsVersionCurrent: true,
			LastRetrievalAt:  &retrievalAt,
		}

		agg := NewAggregator(store, DefaultWeights(), nil)
		updated, err := agg.RunOnce(context.Background(), now)

		Expect(err).NotTo(HaveOccurred())
		Expect(updated).To(Equal(1))
		Expect(store.scores["item-1"]).To(BeNumerically(">", 0))
	})

	It("skips an item referenced in signals but no longer present", func() {
		store := newFakeStore()
		store.affected = []string{"ghost-item"}

		agg := NewAggregator(store, DefaultWeights(), nil)
		updated, err := agg.RunOnce(context.Background(), now)

		Expect(err).NotTo(HaveOccurred())
		Expect(updated).To(Equal(0))
	})

	It("continues past a single item's update failure", func() {
		store := newFakeStore()
		store.affected = []string{"item-1", "item-2"}
		store.snapshots["item-1"] = Snapshot{ItemID: "item-1"}
		store.snapshots["item-2"] = Snapshot{ItemID: "item-2"}
		store.updateErr = errors.New("row locked")

		agg := NewAggregator(store, DefaultWeights(), nil)
		updated, err := agg.RunOnce(context.Background(), now)

		Expect(err).NotTo(HaveOccurred())
		Expect(updated).To(Equal(0))
	})

	It("falls back to approved_at when there is no retrieval signal", func() {
		store := newFakeStore()
		store.affected = []string{"item-1"}
		approvedAt := now.Add(-10 * 24 * time.Hour)
		store.snapshots["item-1"] = Snapshot{ItemID: "item-1", ApprovedAt: &approvedAt}

		agg := NewAggregator(store, DefaultWeights(), nil)
		_, err := agg.RunOnce(context.Background(), now)
		Expect(err).NotTo(HaveOccurred())
	})
})
