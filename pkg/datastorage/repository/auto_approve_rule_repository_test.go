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

var _ = Describe("AutoApproveRuleRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *AutoApproveRuleRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewAutoApproveRuleRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("IsAutoApproved", func() {
		It("returns true when a matching rule is active", func() {
			mock.ExpectQuery(`SELECT is_auto_approve FROM auto_approve_rules`).
				WithArgs("tenant-a", "bug_fix").
				WillReturnRows(sqlmock.NewRows([]string{"is_auto_approve"}).AddRow(true))

			got, err := repo.IsAutoApproved(ctx, "tenant-a", models.CategoryBugFix)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("treats a missing row as not auto-approved rather than an error", func() {
			mock.ExpectQuery(`SELECT is_auto_approve FROM auto_approve_rules`).
				WithArgs("tenant-a", "general").
				WillReturnError(sql.ErrNoRows)

			got, err := repo.IsAutoApproved(ctx, "tenant-a", models.CategoryGeneral)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Upsert", func() {
		It("is idempotent on (tenant_id, category) via ON CONFLICT", func() {
			rule := &models.AutoApproveRule{
				ID: "rule-1", TenantID: "tenant-a", Category: models.CategoryBugFix,
				IsAutoApprove: true, CreatedAt: time.Now(),
			}
			mock.ExpectExec(`INSERT INTO auto_approve_rules`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Upsert(ctx, rule)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
