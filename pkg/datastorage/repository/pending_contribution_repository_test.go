package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

var _ = Describe("PendingContributionRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *PendingContributionRepository
		ctx    context.Context
		c      *models.PendingContribution
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewPendingContributionRepository(mockDB)
		ctx = context.Background()
		c = &models.PendingContribution{
			ID: "pc-1", TenantID: "tenant-a", SourceAgentID: "agent-1",
			Content: "queued content", ContentHash: "hash", Category: models.CategoryGeneral,
			Confidence: 0.8, ContributedAt: time.Now(),
		}
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Insert", func() {
		It("queues a new contribution", func() {
			mock.ExpectExec(`INSERT INTO pending_contributions`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Insert(ctx, c)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("FetchByID", func() {
		columns := []string{
			"id", "tenant_id", "source_agent_id", "run_id", "content", "content_hash", "category",
			"confidence", "framework", "language", "version", "tags", "contributed_at", "is_sensitive_flagged",
		}

		It("returns the contribution scoped to the owning tenant", func() {
			mock.ExpectQuery(`SELECT (.+) FROM pending_contributions WHERE id`).
				WithArgs("pc-1", "tenant-a").
				WillReturnRows(sqlmock.NewRows(columns).AddRow(
					"pc-1", "tenant-a", "agent-1", nil, "queued content", "hash", "general",
					0.8, nil, nil, nil, nil, time.Now(), false,
				))

			got, err := repo.FetchByID(ctx, "tenant-a", "pc-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("pc-1"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns not-found for a missing or cross-tenant id", func() {
			mock.ExpectQuery(`SELECT (.+) FROM pending_contributions WHERE id`).
				WithArgs("pc-1", "tenant-b").
				WillReturnError(sql.ErrNoRows)

			got, err := repo.FetchByID(ctx, "tenant-b", "pc-1")

			Expect(got).To(BeNil())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Delete", func() {
		It("removes the row on promotion or rejection", func() {
			mock.ExpectExec(`DELETE FROM pending_contributions`).
				WithArgs("pc-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Delete(ctx, "tenant-a", "pc-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns not-found when nothing matched", func() {
			mock.ExpectExec(`DELETE FROM pending_contributions`).
				WithArgs("pc-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.Delete(ctx, "tenant-a", "pc-1")

			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
