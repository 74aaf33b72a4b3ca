// Package quality computes knowledge item quality scores from behavioral
// signals and runs the periodic aggregation worker that refreshes them.
package quality

import "math"

// Weights configures the relative contribution of each score component.
// The zero value is invalid; use DefaultWeights.
type Weights struct {
	Usefulness    float64
	Popularity    float64
	Freshness     float64
	Contradiction float64
	VersionBonus  float64
	HalfLifeDays  float64
}

// DefaultWeights matches the documented baseline: 40% usefulness, 25%
// popularity, 20% freshness, a 15% contradiction penalty, a flat +0.1
// version-current bonus, and a 90-day freshness half-life.
func DefaultWeights() Weights {
	return Weights{
		Usefulness:    0.40,
		Popularity:    0.25,
		Freshness:     0.20,
		Contradiction: 0.15,
		VersionBonus:  0.1,
		HalfLifeDays:  90.0,
	}
}

// Signals is the behavioral input to Compute.
type Signals struct {
	RetrievalCount       int
	HelpfulCount         int
	NotHelpfulCount      int
	ContradictionRate    float64
	DaysSinceLastAccess  float64
	IsVersionCurrent     bool
}

// Compute derives a quality score in [0, 1] from Signals, using the
// documented weighted combination:
//
//	usefulness = helpful / max(helpful+not_helpful, 1)
//	popularity = tanh(retrieval_count / 50)
//	freshness  = exp(-ln(2) * days_since_last_access / half_life)
//	raw        = w_use*usefulness + w_pop*popularity + w_fresh*freshness
//	             - w_contra*contradiction_rate + version_bonus
//	score      = clamp(raw, 0, 1)
func Compute(s Signals, w Weights) float64 {
	totalOutcomes := s.HelpfulCount + s.NotHelpfulCount
	denom := totalOutcomes
	if denom < 1 {
		denom = 1
	}
	usefulness := float64(s.HelpfulCount) / float64(denom)

	popularity := math.Tanh(float64(s.RetrievalCount) / 50.0)

	halfLife := w.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 1e-9
	}
	freshness := math.Exp(-math.Ln2 * s.DaysSinceLastAccess / halfLife)

	versionBonus := 0.0
	if s.IsVersionCurrent {
		versionBonus = w.VersionBonus
	}

	raw := w.Usefulness*usefulness +
		w.Popularity*popularity +
		w.Freshness*freshness -
		w.Contradiction*s.ContradictionRate +
		versionBonus

	return clamp(raw, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
