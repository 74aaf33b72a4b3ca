package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("QualityStoreRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		store  *QualityStoreRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		store = NewQualityStoreRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("GetLastAggregationRun", func() {
		It("parses the stored RFC3339Nano timestamp", func() {
			at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
			mock.ExpectQuery(`SELECT value FROM deployment_config`).
				WithArgs("quality_aggregation_last_run").
				WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(at.Format(time.RFC3339Nano)))

			got, found, err := store.GetLastAggregationRun(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got.Equal(at)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("treats a missing row as epoch absence rather than an error", func() {
			mock.ExpectQuery(`SELECT value FROM deployment_config`).
				WithArgs("quality_aggregation_last_run").
				WillReturnError(sql.ErrNoRows)

			_, found, err := store.GetLastAggregationRun(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("LoadSnapshot", func() {
		It("denormalizes counters, signal totals, and version-current status", func() {
			approvedAt := time.Now().Add(-48 * time.Hour)
			mock.ExpectQuery(`SELECT retrieval_count, helpful_count, not_helpful_count, expired_at, approved_at`).
				WithArgs("item-1").
				WillReturnRows(sqlmock.NewRows([]string{
					"retrieval_count", "helpful_count", "not_helpful_count", "expired_at", "approved_at",
				}).AddRow(12, 5, 1, nil, approvedAt))

			mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER`).
				WithArgs("item-1").
				WillReturnRows(sqlmock.NewRows([]string{"total", "contradictions"}).AddRow(8, 1))

			lastRetrieval := time.Now().Add(-2 * time.Hour)
			mock.ExpectQuery(`SELECT MAX\(created_at\)`).
				WithArgs("item-1").
				WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(lastRetrieval))

			snap, found, err := store.LoadSnapshot(ctx, "item-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(snap.RetrievalCount).To(Equal(12))
			Expect(snap.IsVersionCurrent).To(BeTrue())
			Expect(snap.TotalSignals).To(Equal(8))
			Expect(snap.ContradictionSignals).To(Equal(1))
			Expect(snap.LastRetrievalAt).NotTo(BeNil())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns found=false for an unknown item id", func() {
			mock.ExpectQuery(`SELECT retrieval_count, helpful_count, not_helpful_count, expired_at, approved_at`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			_, found, err := store.LoadSnapshot(ctx, "missing")

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("UpdateQualityScore", func() {
		It("writes the recomputed score back", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET quality_score`).
				WithArgs(0.73, "item-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.UpdateQualityScore(ctx, "item-1", 0.73)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
