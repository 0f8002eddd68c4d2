package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/matchrank/internal/domain"
)

// Index is the ranked view over eligible players: descending rating, ties
// broken by ascending games played (a rating reached in fewer games ranks
// higher), then ascending identity for determinism.
//
// The index is a disposable cache. It holds nothing that cannot be rebuilt
// from the player store, and Rebuild reconstructs it from a snapshot after
// any failure. Updates are applied per commit by re-positioning the single
// changed key, so queries never require a full re-sort.
type Index struct {
	minGames    int
	activeGames int

	mu      sync.RWMutex
	ordered []key
	byID    map[string]key
}

// key is the sort key plus the fields needed to serve entries directly from
// the index.
type key struct {
	id             string
	rating         int
	games          int
	gamesThisMonth int
	monthKey       string
}

// less defines the ranking order.
func less(a, b key) bool {
	if a.rating != b.rating {
		return a.rating > b.rating
	}
	if a.games != b.games {
		return a.games < b.games
	}
	return a.id < b.id
}

// New creates an empty index with the given eligibility and activity
// thresholds.
func New(minGames, activeGames int) *Index {
	return &Index{
		minGames:    minGames,
		activeGames: activeGames,
		byID:        make(map[string]key),
	}
}

// Eligible reports whether p has played enough lifetime games to be ranked.
func (ix *Index) Eligible(p domain.Player) bool {
	return p.GamesPlayed >= ix.minGames
}

// Active reports whether p meets the games-per-month threshold for the
// calendar month containing now. A count carried over from an earlier month
// never counts as active.
func (ix *Index) Active(p domain.Player, now time.Time) bool {
	return p.MonthKey == domain.MonthKey(now) && p.GamesPlayedThisMonth >= ix.activeGames
}

// search returns the position k occupies (or would occupy) in the order.
func (ix *Index) search(k key) int {
	return sort.Search(len(ix.ordered), func(i int) bool {
		return !less(ix.ordered[i], k)
	})
}

// remove drops k from the ordered slice. Caller holds the write lock.
func (ix *Index) remove(k key) {
	i := ix.search(k)
	if i < len(ix.ordered) && ix.ordered[i].id == k.id {
		ix.ordered = append(ix.ordered[:i], ix.ordered[i+1:]...)
	}
}

// insert places k at its sorted position. Caller holds the write lock.
func (ix *Index) insert(k key) {
	i := ix.search(k)
	ix.ordered = append(ix.ordered, key{})
	copy(ix.ordered[i+1:], ix.ordered[i:])
	ix.ordered[i] = k
}

// Upsert re-positions p in the ranking after a commit. Ineligible players are
// kept out of (or removed from) the order entirely.
//
// Upserts race: two commits on the same player release their store locks
// before reaching the index, so the later commit's upsert can arrive first.
// gamesPlayed strictly increases with every commit and versions the key; an
// upsert carrying fewer games than the stored key is stale and ignored.
func (ix *Index) Upsert(p domain.Player) {
	k := key{
		id:             p.ID,
		rating:         p.Rating,
		games:          p.GamesPlayed,
		gamesThisMonth: p.GamesPlayedThisMonth,
		monthKey:       p.MonthKey,
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byID[p.ID]; ok {
		if k.games < old.games {
			return
		}
		ix.remove(old)
	}
	if p.GamesPlayed < ix.minGames {
		delete(ix.byID, p.ID)
		return
	}
	ix.insert(k)
	ix.byID[p.ID] = k
}

// Rebuild replaces the whole index from a store snapshot.
func (ix *Index) Rebuild(players []domain.Player) {
	ordered := make([]key, 0, len(players))
	byID := make(map[string]key, len(players))
	for _, p := range players {
		if p.GamesPlayed < ix.minGames {
			continue
		}
		k := key{
			id:             p.ID,
			rating:         p.Rating,
			games:          p.GamesPlayed,
			gamesThisMonth: p.GamesPlayedThisMonth,
			monthKey:       p.MonthKey,
		}
		ordered = append(ordered, k)
		byID[k.id] = k
	}
	sort.Slice(ordered, func(i, j int) bool {
		return less(ordered[i], ordered[j])
	})

	ix.mu.Lock()
	ix.ordered = ordered
	ix.byID = byID
	ix.mu.Unlock()
}

func (ix *Index) entry(k key, rank int64, now time.Time) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Rank:        rank,
		PlayerID:    k.id,
		Rating:      k.rating,
		GamesPlayed: k.games,
		Active:      k.monthKey == domain.MonthKey(now) && k.gamesThisMonth >= ix.activeGames,
	}
}

// TopN returns the best n ranked players, 1-indexed. Non-positive n yields
// nothing.
func (ix *Index) TopN(n int, now time.Time) []domain.LeaderboardEntry {
	if n <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if n > len(ix.ordered) {
		n = len(ix.ordered)
	}
	entries := make([]domain.LeaderboardEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = ix.entry(ix.ordered[i], int64(i+1), now)
	}
	return entries
}

// RankOf returns a player's 1-indexed rank. Unranked (unknown or ineligible)
// players report ok=false.
func (ix *Index) RankOf(id string) (int64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	k, ok := ix.byID[id]
	if !ok {
		return 0, false
	}
	return int64(ix.search(k)) + 1, true
}

// Len returns the number of ranked players.
func (ix *Index) Len() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return int64(len(ix.ordered))
}

// TopRating returns the highest ranked rating, or 0 for an empty index.
func (ix *Index) TopRating() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.ordered) == 0 {
		return 0
	}
	return ix.ordered[0].rating
}
