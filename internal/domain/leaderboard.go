package domain

// LeaderboardEntry is a single ranked row. Derived data only: everything here
// is reconstructable from the set of Player records.
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	PlayerID    string `json:"player_id"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"games_played"`
	Active      bool   `json:"active"`
}

// LeaderboardStats contains aggregate statistics over the ranked population.
type LeaderboardStats struct {
	RankedPlayers int64 `json:"ranked_players"`
	TotalPlayers  int64 `json:"total_players"`
	TopRating     int   `json:"top_rating,omitempty"`
}
