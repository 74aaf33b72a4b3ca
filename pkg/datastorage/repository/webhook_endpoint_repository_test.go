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

var _ = Describe("WebhookEndpointRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *WebhookEndpointRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewWebhookEndpointRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Create", func() {
		It("stores a tenant-owned delivery target", func() {
			w := &models.WebhookEndpoint{
				ID: "wh-1", TenantID: "tenant-a", URL: "https://example.com/hook",
				IsActive: true, CreatedAt: time.Now(),
			}
			mock.ExpectExec(`INSERT INTO webhook_endpoints`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Create(ctx, w)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ListActiveForTenant", func() {
		columns := []string{"id", "tenant_id", "url", "event_types", "is_active", "created_at", "updated_at"}

		It("returns active endpoints subscribed to all events (null event_types)", func() {
			now := time.Now()
			mock.ExpectQuery(`SELECT (.+) FROM webhook_endpoints`).
				WithArgs("tenant-a", "knowledge_published").
				WillReturnRows(sqlmock.NewRows(columns).AddRow(
					"wh-1", "tenant-a", "https://example.com/hook", nil, true, now, now,
				))

			got, err := repo.ListActiveForTenant(ctx, "tenant-a", "knowledge_published")

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].EventTypes).To(BeNil())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
