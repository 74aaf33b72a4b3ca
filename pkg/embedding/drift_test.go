package embedding

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key, value string) error {
	f.data[key] = value
	return nil
}

var _ = Describe("CheckAndRecordModelIdentity", func() {
	var (
		store   *fakeStore
		e       *HashEmbedder
		logger  *zap.Logger
	)

	BeforeEach(func() {
		store = newFakeStore()
		e = NewHashEmbedder("hivemind-hash-embedder", "v1", 384)
		logger = zap.NewNop()
	})

	It("records the model identity on first startup", func() {
		Expect(CheckAndRecordModelIdentity(context.Background(), store, e, logger)).To(Succeed())
		Expect(store.data[keyEmbeddingModelID]).To(Equal("hivemind-hash-embedder"))
		Expect(store.data[keyEmbeddingModelRev]).To(Equal("v1"))
	})

	It("continues without error when the identity has drifted", func() {
		store.data[keyEmbeddingModelID] = "old-model"
		store.data[keyEmbeddingModelRev] = "v0"

		Expect(CheckAndRecordModelIdentity(context.Background(), store, e, logger)).To(Succeed())
		// The new identity overwrites the stale one; drift is only logged.
		Expect(store.data[keyEmbeddingModelID]).To(Equal("hivemind-hash-embedder"))
	})

	It("is a no-op warning when identity is unchanged", func() {
		store.data[keyEmbeddingModelID] = "hivemind-hash-embedder"
		store.data[keyEmbeddingModelRev] = "v1"

		Expect(CheckAndRecordModelIdentity(context.Background(), store, e, logger)).To(Succeed())
	})
})
