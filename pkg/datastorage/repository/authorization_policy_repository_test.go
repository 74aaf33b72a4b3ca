package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

var _ = Describe("AuthorizationPolicyRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *AuthorizationPolicyRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewAuthorizationPolicyRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("ListForDomain", func() {
		It("returns the policy tuples scoped to a domain", func() {
			mock.ExpectQuery(`SELECT (.+) FROM authorization_policies WHERE domain`).
				WithArgs("namespace:tenant-a").
				WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "domain", "object", "action"}).
					AddRow("p-1", "admin", "namespace:tenant-a", "namespace:tenant-a", "*"))

			got, err := repo.ListForDomain(ctx, "namespace:tenant-a")

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Action).To(Equal("*"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Upsert", func() {
		It("is idempotent via ON CONFLICT DO NOTHING", func() {
			p := &models.AuthorizationPolicy{
				ID: "p-1", Subject: "contributor", Domain: "namespace:tenant-a",
				Object: "namespace:tenant-a", Action: "write",
			}
			mock.ExpectExec(`INSERT INTO authorization_policies`).
				WithArgs("p-1", "contributor", "namespace:tenant-a", "namespace:tenant-a", "write").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Upsert(ctx, p)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("generates an id when none is supplied", func() {
			p := &models.AuthorizationPolicy{
				Subject: "admin", Domain: "namespace:tenant-b", Object: "namespace:tenant-b", Action: "*",
			}
			mock.ExpectExec(`INSERT INTO authorization_policies`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Upsert(ctx, p)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.ID).NotTo(BeEmpty())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Delete", func() {
		It("removes a policy tuple", func() {
			mock.ExpectExec(`DELETE FROM authorization_policies`).
				WithArgs("namespace:tenant-a", "contributor", "namespace:tenant-a", "write").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Delete(ctx, "namespace:tenant-a", "contributor", "namespace:tenant-a", "write")

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
