package domain

import "time"

// Player holds the rating state for a single identity. Records are created
// lazily at the default rating the first time a match references them and are
// never destroyed. Rating is only ever mutated through processor-applied
// deltas.
type Player struct {
	ID                   string    `json:"id"`
	Rating               int       `json:"rating"`
	GamesPlayed          int       `json:"games_played"`
	GamesPlayedThisMonth int       `json:"games_played_this_month"`
	MonthKey             string    `json:"month_key"`
	HighestRating        int       `json:"highest_rating"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// PlayerProfile is the external view of a player, annotated with leaderboard
// classification. Rank is zero when the player is not ranked.
type PlayerProfile struct {
	Player
	Rank     int64 `json:"rank,omitempty"`
	Eligible bool  `json:"eligible"`
	Active   bool  `json:"active"`
}

// MonthKey formats t as the calendar-month bucket used for activity tracking.
// Always UTC so the rollover boundary does not depend on server locale.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
