package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/embedding"
)

var _ = Describe("KnowledgeItemRepository.Search", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *KnowledgeItemRepository
		e      embedding.Embedder
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewKnowledgeItemRepository(mockDB, nil)
		e = embedding.NewHashEmbedder("hash-embedder-v1", "rev-1", 16)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	columns := []string{"id", "content", "content_hash", "category", "confidence", "tenant_id", "final_score"}

	It("dedups by content_hash and pages the fused RRF result in memory", func() {
		mock.ExpectQuery(`WITH visible AS`).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("item-1", "First distinct answer about retries", "hash-1", "bug_fix", 0.9, "tenant-a", 0.041).
				AddRow("item-1", "First distinct answer about retries", "hash-1", "bug_fix", 0.9, "tenant-a", 0.041).
				AddRow("item-2", "Second distinct answer about timeouts", "hash-2", "general", 0.6, "other-tenant", 0.020))

		got, err := repo.Search(ctx, e, SearchParams{Query: "retries", TenantID: "tenant-a", Limit: 10})

		Expect(err).NotTo(HaveOccurred())
		Expect(got.TotalFound).To(Equal(2))
		Expect(got.Hits).To(HaveLen(2))
		Expect(got.Hits[0].ID).To(Equal("item-1"))
		Expect(got.Hits[0].TenantAttributed).To(BeTrue())
		Expect(got.Hits[1].TenantAttributed).To(BeFalse())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("pages the deduped result set according to cursor and limit", func() {
		mock.ExpectQuery(`WITH visible AS`).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("item-1", "alpha", "hash-1", "general", 0.5, "tenant-a", 0.05).
				AddRow("item-2", "beta", "hash-2", "general", 0.5, "tenant-a", 0.04).
				AddRow("item-3", "gamma", "hash-3", "general", 0.5, "tenant-a", 0.03))

		got, err := repo.Search(ctx, e, SearchParams{Query: "x", TenantID: "tenant-a", Limit: 1, Cursor: EncodeCursor(1)})

		Expect(err).NotTo(HaveOccurred())
		Expect(got.TotalFound).To(Equal(3))
		Expect(got.Hits).To(HaveLen(1))
		Expect(got.Hits[0].ID).To(Equal("item-2"))
		Expect(got.NextCursor).To(Equal(EncodeCursor(2)))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("wraps embedding failures as a dependency error", func() {
		_, err := repo.Search(ctx, failingEmbedder{}, SearchParams{Query: "x", TenantID: "tenant-a"})
		Expect(err).To(HaveOccurred())
	})
})

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, sql.ErrConnDone
}

func (failingEmbedder) ModelID() string { return "failing" }

func (failingEmbedder) ModelRevision() string { return "v0" }

func (failingEmbedder) Dimensions() int { return 0 }
