package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DeploymentConfigRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *DeploymentConfigRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewDeploymentConfigRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Get", func() {
		It("returns the stored value and true when the key exists", func() {
			mock.ExpectQuery(`SELECT value FROM deployment_config`).
				WithArgs("embedding_model_id").
				WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("hash-embedder-v1"))

			value, found, err := repo.Get(ctx, "embedding_model_id")

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(value).To(Equal("hash-embedder-v1"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns found=false without an error for an absent key", func() {
			mock.ExpectQuery(`SELECT value FROM deployment_config`).
				WithArgs("quality_aggregation_last_run").
				WillReturnError(sql.ErrNoRows)

			value, found, err := repo.Get(ctx, "quality_aggregation_last_run")

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(value).To(BeEmpty())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Set", func() {
		It("upserts via ON CONFLICT so repeated writes never fail", func() {
			mock.ExpectExec(`INSERT INTO deployment_config`).
				WithArgs("distillation_last_run", "2026-07-31T00:00:00Z").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Set(ctx, "distillation_last_run", "2026-07-31T00:00:00Z")

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
