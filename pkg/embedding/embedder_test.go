package embedding

import (
	"context"
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEmbedding(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Embedding Suite")
}

var _ = Describe("HashEmbedder", func() {
	var embedder *HashEmbedder

	BeforeEach(func() {
		embedder = NewHashEmbedder("hivemind-hash-embedder", "v1", 384)
	})

	It("reports its model identity and dimensions", func() {
		Expect(embedder.ModelID()).To(Equal("hivemind-hash-embedder"))
		Expect(embedder.ModelRevision()).To(Equal("v1"))
		Expect(embedder.Dimensions()).To(Equal(384))
	})

	It("produces a unit-norm vector of the configured dimensionality", func() {
		vec, err := embedder.Embed(context.Background(), "hello world")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(HaveLen(384))

		var sumSq float64
		for _, v := range vec {
			sumSq += float64(v) * float64(v)
		}
		Expect(math.Sqrt(sumSq)).To(BeNumerically("~", 1.0, 1e-4))
	})

	It("is deterministic for identical text", func() {
		a, _ := embedder.Embed(context.Background(), "Foo bar baz")
		b, _ := embedder.Embed(context.Background(), "Foo bar baz")
		Expect(a).To(Equal(b))
	})

	It("is case- and whitespace-insensitive, matching near-duplicate text", func() {
		a, _ := embedder.Embed(context.Background(), "Foo   bar\tbaz")
		b, _ := embedder.Embed(context.Background(), "foo bar baz")
		Expect(a).To(Equal(b))
	})

	It("produces different vectors for unrelated text", func() {
		a, _ := embedder.Embed(context.Background(), "apples and oranges")
		b, _ := embedder.Embed(context.Background(), "quantum chromodynamics")
		Expect(CosineDistance(a, b)).To(BeNumerically(">", 0.1))
	})
})

var _ = Describe("CosineDistance", func() {
	It("is zero for identical unit vectors", func() {
		v := []float32{1, 0, 0}
		Expect(CosineDistance(v, v)).To(BeNumerically("~", 0, 1e-9))
	})

	It("is one for orthogonal unit vectors", func() {
		a := []float32{1, 0, 0}
		b := []float32{0, 1, 0}
		Expect(CosineDistance(a, b)).To(BeNumerically("~", 1, 1e-9))
	})
})
