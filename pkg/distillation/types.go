// Package distillation implements the periodic distillation job: it
// merges duplicate current items, flags contradiction clusters,
// summarizes dense semantic clusters via the LLM, and pre-screens pending
// contributions with a preliminary quality score.
package distillation

// DuplicateGroup is a set of current items sharing a content hash within
// one tenant. Items is ordered by quality_score descending by the store;
// Items[0] is treated as canonical.
type DuplicateGroup struct {
	ContentHash string
	Items       []DuplicateMember
}

// DuplicateMember is the minimal view of an item needed to pick a
// canonical and record provenance.
type DuplicateMember struct {
	ID           string
	QualityScore float64
}

// ContradictionGroup is a set of items in the same category carrying a
// contradiction signal, candidate for a contradiction_cluster signal.
type ContradictionGroup struct {
	Category string
	ItemIDs  []string
}

// ClusterItem is a current item eligible for cluster summarization: it
// must carry an embedding to be compared pairwise.
type ClusterItem struct {
	ID        string
	Content   string
	Embedding []float32
}

// Stats summarizes one RunTenant pass for logging and metrics.
type Stats struct {
	ShortCircuited      bool
	DuplicatesMerged    int
	ContradictionFlags  int
	ClustersSummarized  int
	PendingPreScreened  int
}
