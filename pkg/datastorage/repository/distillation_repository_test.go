package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DistillationRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		repo   *DistillationRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		repo = NewDistillationRepository(mockDB, NewKnowledgeItemRepository(mockDB, nil))
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("DuplicateGroups", func() {
		It("groups current items by content_hash, dropping singleton groups", func() {
			mock.ExpectQuery(`SELECT content_hash, id, quality_score FROM knowledge_items`).
				WithArgs("tenant-a").
				WillReturnRows(sqlmock.NewRows([]string{"content_hash", "id", "quality_score"}).
					AddRow("hash-1", "item-1", 0.5).
					AddRow("hash-1", "item-2", 0.8).
					AddRow("hash-2", "item-3", 0.6))

			groups, err := repo.DuplicateGroups(ctx, "tenant-a")

			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].ContentHash).To(Equal("hash-1"))
			Expect(groups[0].Items).To(HaveLen(2))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ContradictionGroups", func() {
		It("groups contradiction-flagged items by category, dropping singleton groups", func() {
			mock.ExpectQuery(`SELECT ki.category, ki.id`).
				WithArgs("tenant-a").
				WillReturnRows(sqlmock.NewRows([]string{"category", "id"}).
					AddRow("regulatory_rule", "item-1").
					AddRow("regulatory_rule", "item-2").
					AddRow("general", "item-3"))

			groups, err := repo.ContradictionGroups(ctx, "tenant-a")

			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Category).To(Equal("regulatory_rule"))
			Expect(groups[0].ItemIDs).To(ConsistOf("item-1", "item-2"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("AppendProvenanceLinks", func() {
		It("merges superseded ids into the canonical item's existing provenance_links", func() {
			mock.ExpectQuery(`SELECT tags FROM knowledge_items`).
				WithArgs("tenant-a", "canonical-1").
				WillReturnRows(sqlmock.NewRows([]string{"tags"}).AddRow(`{"provenance_links":["item-0"]}`))

			mock.ExpectExec(`UPDATE knowledge_items SET tags`).
				WithArgs(sqlmock.AnyArg(), "tenant-a", "canonical-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.AppendProvenanceLinks(ctx, "tenant-a", "canonical-1", []string{"item-1", "item-2"})

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("starts a fresh provenance_links array when the item has no tags yet", func() {
			mock.ExpectQuery(`SELECT tags FROM knowledge_items`).
				WithArgs("tenant-a", "canonical-1").
				WillReturnRows(sqlmock.NewRows([]string{"tags"}).AddRow(nil))

			mock.ExpectExec(`UPDATE knowledge_items SET tags`).
				WithArgs(sqlmock.AnyArg(), "tenant-a", "canonical-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.AppendProvenanceLinks(ctx, "tenant-a", "canonical-1", []string{"item-1"})

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("FlagPendingSensitive", func() {
		It("sets is_sensitive_flagged and attaches the preliminary score to tags", func() {
			mock.ExpectQuery(`SELECT tags FROM pending_contributions`).
				WithArgs("tenant-a", "pc-1").
				WillReturnRows(sqlmock.NewRows([]string{"tags"}).AddRow(nil))

			mock.ExpectExec(`UPDATE pending_contributions SET is_sensitive_flagged = true`).
				WithArgs(sqlmock.AnyArg(), "tenant-a", "pc-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.FlagPendingSensitive(ctx, "tenant-a", "pc-1", 0.15)

			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("GetLastRun / SetLastRun", func() {
		It("round-trips the per-tenant run marker", func() {
			mock.ExpectQuery(`SELECT value FROM deployment_config`).
				WithArgs("distillation_last_run:tenant-a").
				WillReturnError(sql.ErrNoRows)

			_, found, err := repo.GetLastRun(ctx, "tenant-a")

			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
