package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

var _ = Describe("KnowledgeItemRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *KnowledgeItemRepository
		ctx    context.Context
		item   *models.KnowledgeItem
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())

		repo = NewKnowledgeItemRepository(mockDB, zap.NewNop())
		ctx = context.Background()
		now = time.Now()

		item = &models.KnowledgeItem{
			ID:            "item-1",
			TenantID:      "tenant-a",
			SourceAgentID: "agent-1",
			Content:       "use context.WithTimeout for bounded calls",
			ContentHash:   "deadbeef",
			Category:      models.CategoryBugFix,
			Confidence:    0.8,
			QualityScore:  0.5,
			ContributedAt: now,
			ApprovedAt:    now,
		}
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Insert", func() {
		It("inserts a current-version row", func() {
			mock.ExpectExec(`INSERT INTO knowledge_items`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Insert(ctx, item)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("maps a unique-constraint violation to a conflict AppError", func() {
			mock.ExpectExec(`INSERT INTO knowledge_items`).
				WillReturnError(&fakeSQLStateError{code: "23505"})

			err := repo.Insert(ctx, item)

			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeConflict)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("maps any other database error to a database AppError", func() {
			mock.ExpectExec(`INSERT INTO knowledge_items`).
				WillReturnError(sql.ErrConnDone)

			err := repo.Insert(ctx, item)

			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeDatabase)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("FetchByID", func() {
		columns := []string{
			"id", "tenant_id", "is_public", "source_agent_id", "run_id", "content", "content_hash",
			"category", "confidence", "framework", "language", "version", "tags", "embedding",
			"quality_score", "retrieval_count", "helpful_count", "not_helpful_count",
			"contributed_at", "valid_at", "invalid_at", "expired_at", "deleted_at", "approved_at",
		}

		It("returns the item when it belongs to the caller's tenant", func() {
			mock.ExpectQuery(`SELECT (.+) FROM knowledge_items`).
				WithArgs("item-1", "tenant-a").
				WillReturnRows(sqlmock.NewRows(columns).AddRow(
					"item-1", "tenant-a", false, "agent-1", nil, "content", "hash",
					"bug_fix", 0.8, nil, nil, nil, nil, nil,
					0.5, 0, 0, 0,
					now, nil, nil, nil, nil, now,
				))

			got, err := repo.FetchByID(ctx, "tenant-a", "item-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("item-1"))
			Expect(got.Category).To(Equal(models.CategoryBugFix))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns a not-found AppError for both a missing id and a cross-tenant private item", func() {
			mock.ExpectQuery(`SELECT (.+) FROM knowledge_items`).
				WithArgs("missing", "tenant-a").
				WillReturnError(sql.ErrNoRows)

			got, err := repo.FetchByID(ctx, "tenant-a", "missing")

			Expect(got).To(BeNil())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("SoftDelete", func() {
		It("soft-deletes a current row owned by the caller's tenant", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET deleted_at`).
				WithArgs(now, "item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.SoftDelete(ctx, "tenant-a", "item-1", now)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns not-found when no row matched (already deleted or wrong tenant)", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET deleted_at`).
				WithArgs(now, "item-1", "tenant-b").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.SoftDelete(ctx, "tenant-b", "item-1", now)

			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ExpireItem", func() {
		It("supersedes the current version (conflict resolver UPDATE action)", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET expired_at`).
				WithArgs(now, "item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.ExpireItem(ctx, "tenant-a", "item-1", now)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("InvalidateItem", func() {
		It("ends the item's world-time span (conflict resolver VERSION_FORK action)", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET invalid_at`).
				WithArgs(now, "item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.InvalidateItem(ctx, "tenant-a", "item-1", now)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("RecordOutcome", func() {
		It("increments helpful_count for a solved outcome", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET helpful_count = helpful_count \+ 1`).
				WithArgs("item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.RecordOutcome(ctx, "tenant-a", "item-1", true)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("increments not_helpful_count for a did-not-help outcome", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET not_helpful_count = not_helpful_count \+ 1`).
				WithArgs("item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.RecordOutcome(ctx, "tenant-a", "item-1", false)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("SetPublic", func() {
		It("flips visibility for the owning tenant", func() {
			mock.ExpectExec(`UPDATE knowledge_items SET is_public`).
				WithArgs(true, "item-1", "tenant-a").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.SetPublic(ctx, "tenant-a", "item-1", true)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

// fakeSQLStateError satisfies the unexported sqlStater interface
// isUniqueViolation type-asserts against, without importing pgconn just
// for a test fixture.
type fakeSQLStateError struct{ code string }

func (e *fakeSQLStateError) Error() string   { return "sql state " + e.code }
func (e *fakeSQLStateError) SQLState() string { return e.code }
