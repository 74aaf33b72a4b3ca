package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

var _ = Describe("QualitySignalRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *QualitySignalRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewQualitySignalRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Append", func() {
		It("writes an immutable signal row", func() {
			s := &models.QualitySignal{
				ID: "sig-1", KnowledgeItemID: "item-1", SignalType: models.SignalOutcomeSolved,
				CreatedAt: time.Now(),
			}
			mock.ExpectExec(`INSERT INTO quality_signals`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Append(ctx, s)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("AppendRetrievalBatch", func() {
		It("appends one retrieval signal per returned id", func() {
			ids := []string{"item-1", "item-2"}
			var generated int
			newID := func() string { generated++; return "sig-gen" }

			mock.ExpectExec(`INSERT INTO quality_signals`).
				WithArgs("sig-gen", "item-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO quality_signals`).
				WithArgs("sig-gen", "item-2").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.AppendRetrievalBatch(ctx, ids, newID)

			Expect(err).NotTo(HaveOccurred())
			Expect(generated).To(Equal(2))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("HasOutcomeSignal", func() {
		It("reports true when the (item, run, type) triple already exists", func() {
			mock.ExpectQuery(`SELECT EXISTS`).
				WithArgs("item-1", "run-1", "outcome_solved").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

			got, err := repo.HasOutcomeSignal(ctx, "item-1", "run-1", models.SignalOutcomeSolved)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("reports false for a run_id seen for the first time", func() {
			mock.ExpectQuery(`SELECT EXISTS`).
				WithArgs("item-1", "run-2", "outcome_solved").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

			got, err := repo.HasOutcomeSignal(ctx, "item-1", "run-2", models.SignalOutcomeSolved)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
