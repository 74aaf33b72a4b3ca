package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/embedding"
)

var _ = Describe("CosineFinder", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		finder *CosineFinder
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		finder = NewCosineFinder(mockDB, embedding.NewHashEmbedder("hash-embedder-v1", "rev-1", 16), 0.35)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("FindCandidates", func() {
		It("returns the nearest neighbors scoped to the caller's tenant or public items", func() {
			mock.ExpectQuery(`SELECT id, content, content_hash, category, embedding`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "content", "content_hash", "category", "distance"}).
					AddRow("item-1", "Foo bar baz", "hash1", "bug_fix", 0.05).
					AddRow("item-2", "Unrelated content", "hash2", "general", 0.3))

			got, err := finder.FindCandidates(ctx, "Foo bar baz", "tenant-a", 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
			Expect(got[0].ID).To(Equal("item-1"))
			Expect(got[0].Distance).To(BeNumerically("<", got[1].Distance))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns an empty result when nothing is within the distance threshold", func() {
			mock.ExpectQuery(`SELECT id, content, content_hash, category, embedding`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "content", "content_hash", "category", "distance"}))

			got, err := finder.FindCandidates(ctx, "brand new content", "tenant-a", 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
