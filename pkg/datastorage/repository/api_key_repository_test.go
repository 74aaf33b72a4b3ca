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

var _ = Describe("ApiKeyRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *ApiKeyRepository
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewApiKeyRepository(mockDB)
		ctx = context.Background()
		now = time.Now()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("FindByRawKey", func() {
		columns := []string{
			"id", "key_prefix", "key_hash", "tenant_id", "agent_id", "tier", "request_count",
			"billing_period_start", "billing_period_reset_days", "is_active", "created_at", "last_used_at",
		}

		It("matches by the SHA-256 of the raw key, never a prefix", func() {
			rawKey := "hm_supersecretvalue"
			mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_hash`).
				WithArgs(HashKey(rawKey)).
				WillReturnRows(sqlmock.NewRows(columns).AddRow(
					"key-1", "hm_super", HashKey(rawKey), "tenant-a", "agent-1", "pro", 3,
					now, 30, true, now, nil,
				))

			k, err := repo.FindByRawKey(ctx, rawKey)

			Expect(err).NotTo(HaveOccurred())
			Expect(k.Tier).To(Equal(models.TierPro))
			Expect(k.KeyHash).To(Equal(HashKey(rawKey)))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns an auth error for an unknown or inactive key", func() {
			mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_hash`).
				WithArgs(HashKey("bogus")).
				WillReturnError(sql.ErrNoRows)

			k, err := repo.FindByRawKey(ctx, "bogus")

			Expect(k).To(BeNil())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeAuth)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("RecordUsage", func() {
		It("increments request_count within the current billing window", func() {
			k := &models.ApiKey{ID: "key-1", BillingPeriodStart: now.Add(-time.Hour), BillingPeriodResetDays: 30}

			mock.ExpectExec(`UPDATE api_keys SET request_count = request_count \+ 1`).
				WithArgs(now, "key-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.RecordUsage(ctx, k, now)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("resets the counter and rolls the billing window forward once it elapses", func() {
			k := &models.ApiKey{ID: "key-1", BillingPeriodStart: now.AddDate(0, 0, -31), BillingPeriodResetDays: 30}

			mock.ExpectExec(`UPDATE api_keys SET request_count = 1`).
				WithArgs(now, "key-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.RecordUsage(ctx, k, now)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
