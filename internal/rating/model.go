package rating

import (
	"math"

	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
)

// Model computes Elo rating deltas. Pure and stateless: every method depends
// only on its arguments and the immutable parameters captured at construction.
type Model struct {
	defaultRating   int
	sureWinDiff     int
	kConstantRating int
	maxK            float64
	minK            float64
}

// NewModel creates a rating model from the static rating parameters.
func NewModel(cfg *config.RatingConfig) *Model {
	return &Model{
		defaultRating:   cfg.DefaultRating,
		sureWinDiff:     cfg.EloSureWinDifference,
		kConstantRating: cfg.EloKFactorConstRating,
		maxK:            float64(cfg.MaxKFactor),
		minK:            float64(cfg.MinKFactor),
	}
}

// DefaultRating returns the rating assigned to newly created players.
func (m *Model) DefaultRating() int {
	return m.defaultRating
}

// KFactor returns the per-match step size for a given rating. Largest at or
// below the default rating, linearly decreasing, and constant at the floor
// for every rating at or above the constant-K threshold. Strictly
// non-increasing in rating.
func (m *Model) KFactor(rating int) float64 {
	if rating <= m.defaultRating {
		return m.maxK
	}
	if rating >= m.kConstantRating {
		return m.minK
	}
	span := float64(m.kConstantRating - m.defaultRating)
	frac := float64(rating-m.defaultRating) / span
	return m.maxK - frac*(m.maxK-m.minK)
}

// ExpectedScore returns the probability-like expected outcome for a player
// rated ratingA against an opponent rated ratingB.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// SureWin reports whether the pairing is a foregone conclusion: the rating
// gap is at or beyond the sure-win difference and the higher-rated side won.
// Such matches move no rating in either direction.
func (m *Model) SureWin(ratingA, ratingB int, outcomeA domain.Outcome) bool {
	gap := ratingA - ratingB
	if gap < 0 {
		gap = -gap
	}
	if gap < m.sureWinDiff {
		return false
	}
	higherWon := (ratingA > ratingB && outcomeA == domain.OutcomeWin) ||
		(ratingB > ratingA && outcomeA == domain.OutcomeLoss)
	return higherWon
}

// ComputeDelta returns the rating adjustments for a two-player pairing given
// player A's outcome. The pairing uses the shared step size
// min(K(ratingA), K(ratingB)) so that the more stable side bounds movement,
// and deltaB is the exact negation of deltaA: the pairing is zero-sum by
// construction, rounding included. Rounding is half-away-from-zero
// (math.Round), applied once to deltaA.
func (m *Model) ComputeDelta(ratingA, ratingB int, outcomeA domain.Outcome) (deltaA, deltaB int) {
	if m.SureWin(ratingA, ratingB, outcomeA) {
		return 0, 0
	}

	expectedA := ExpectedScore(ratingA, ratingB)
	k := math.Min(m.KFactor(ratingA), m.KFactor(ratingB))

	deltaA = int(math.Round(k * (outcomeA.Score() - expectedA)))
	return deltaA, -deltaA
}

// pairOutcome derives the head-to-head outcome between two participants of a
// multi-participant match from their match-level outcomes. Equal outcomes
// face off as a draw.
func pairOutcome(a, b domain.Outcome) domain.Outcome {
	if a == b {
		return domain.OutcomeDraw
	}
	switch {
	case a == domain.OutcomeWin, b == domain.OutcomeLoss:
		return domain.OutcomeWin
	default:
		return domain.OutcomeLoss
	}
}

// MatchDeltas computes one aggregate delta per participant of a match.
//
// A two-participant match is a single pairing. Larger matches are decomposed
// into every unordered pair of participants with differing match outcomes
// (same-outcome pairs are teammates and do not shift each other); each
// player's pairwise deltas are then averaged over the pairings the player
// appeared in, rounded half away from zero. Averaging rather than summing
// keeps the per-match movement of a team game comparable to a head-to-head
// match regardless of team size.
//
// ratings maps participant id to current rating; every participant of the
// result must be present.
func (m *Model) MatchDeltas(result *domain.GameResult, ratings map[string]int) map[string]int {
	parts := result.Participants

	if len(parts) == 2 {
		a, b := parts[0], parts[1]
		da, db := m.ComputeDelta(ratings[a.ID], ratings[b.ID], a.Outcome)
		return map[string]int{a.ID: da, b.ID: db}
	}

	sums := make(map[string]float64, len(parts))
	pairings := make(map[string]int, len(parts))

	for i := 0; i < len(parts); i++ {
		for j := i + 1; j < len(parts); j++ {
			a, b := parts[i], parts[j]
			if a.Outcome == b.Outcome {
				continue
			}
			da, db := m.ComputeDelta(ratings[a.ID], ratings[b.ID], pairOutcome(a.Outcome, b.Outcome))
			sums[a.ID] += float64(da)
			sums[b.ID] += float64(db)
			pairings[a.ID]++
			pairings[b.ID]++
		}
	}

	deltas := make(map[string]int, len(parts))
	for _, p := range parts {
		if n := pairings[p.ID]; n > 0 {
			deltas[p.ID] = int(math.Round(sums[p.ID] / float64(n)))
		} else {
			deltas[p.ID] = 0
		}
	}
	return deltas
}
