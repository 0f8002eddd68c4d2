package domain

import "time"

// Outcome is a participant's ordinal result in a match.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Valid reports whether o is one of the known outcome values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLoss, OutcomeDraw:
		return true
	}
	return false
}

// Score maps the outcome to the actual-score term of the rating update:
// 1 for a win, 0.5 for a draw, 0 for a loss.
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeWin:
		return 1.0
	case OutcomeDraw:
		return 0.5
	default:
		return 0.0
	}
}

// Participant is one side of a reported match.
type Participant struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
}

// GameResult is a validated match report delivered by the lobby transport.
// Immutable after creation; consumed exactly once, keyed by MatchID for
// deduplication.
type GameResult struct {
	MatchID      string        `json:"match_id"`
	Participants []Participant `json:"participants"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Ack confirms that a match has been folded into the rating state.
type Ack struct {
	MatchID   string    `json:"match_id"`
	Duplicate bool      `json:"duplicate,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// RatingUpdate reports the committed movement for one participant of one
// match. Ephemeral: broadcast and audited, never a source of truth.
type RatingUpdate struct {
	PlayerID  string `json:"player_id"`
	Delta     int    `json:"delta"`
	NewRating int    `json:"new_rating"`
}
