package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/matchrank/internal/domain"
)

const shardCount = 64

// Store is the single logical owner of player rating state. Records live in
// sharded maps so lookups on different identities never contend; each record
// carries its own commit lock so concurrent match commits touching the same
// player serialize without a global lock over the population.
type Store struct {
	defaultRating int
	lockTimeout   time.Duration
	shards        [shardCount]shard

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

type shard struct {
	mu      sync.RWMutex
	players map[string]*record
}

// record wraps a player value with two locks: lock serializes whole
// read-compute-write commit sections, mu guards the value itself so readers
// can take a consistent copy without waiting on an in-flight commit.
type record struct {
	lock   chan struct{}
	mu     sync.Mutex
	player domain.Player
}

// New creates an empty store. Players are created lazily at defaultRating.
func New(defaultRating int, lockTimeout time.Duration) *Store {
	s := &Store{
		defaultRating: defaultRating,
		lockTimeout:   lockTimeout,
		dirty:         make(map[string]struct{}),
	}
	for i := range s.shards {
		s.shards[i].players = make(map[string]*record)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *Store) getOrCreate(id string) *record {
	sh := s.shardFor(id)

	sh.mu.RLock()
	rec, ok := sh.players[id]
	sh.mu.RUnlock()
	if ok {
		return rec
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if rec, ok = sh.players[id]; ok {
		return rec
	}
	rec = &record{
		lock: make(chan struct{}, 1),
		player: domain.Player{
			ID:            id,
			Rating:        s.defaultRating,
			HighestRating: s.defaultRating,
		},
	}
	sh.players[id] = rec
	return rec
}

// Get returns the player record for id, creating it at the default rating if
// it does not exist. Never fails.
func (s *Store) Get(id string) domain.Player {
	rec := s.getOrCreate(id)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.player
}

// Lookup returns the player record for id without creating it.
func (s *Store) Lookup(id string) (domain.Player, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	rec, ok := sh.players[id]
	sh.mu.RUnlock()
	if !ok {
		return domain.Player{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.player, true
}

// acquire takes a record's commit lock, waiting at most lockTimeout.
func (s *Store) acquire(ctx context.Context, rec *record) error {
	select {
	case rec.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case rec.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrPlayerBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(rec *record) {
	<-rec.lock
}

// ApplyMatch atomically commits one match across all its participants.
//
// Commit locks are acquired in sorted identity order (deadlock-free against
// concurrent commits sharing participants). With every lock held, compute is
// called with the participants' current ratings and returns the per-player
// deltas; each record then has its rating adjusted, gamesPlayed incremented,
// the monthly counter advanced or reset against monthKey, and its peak
// tracked. Either every participant is updated or none: a lock that cannot be
// acquired within the timeout aborts the commit with ErrPlayerBusy before
// anything is written.
//
// Returns the updated records in participant-id-sorted order.
func (s *Store) ApplyMatch(ctx context.Context, ids []string, monthKey string, compute func(ratings map[string]int) map[string]int) ([]domain.Player, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	recs := make([]*record, len(sorted))
	for i, id := range sorted {
		recs[i] = s.getOrCreate(id)
	}

	locked := 0
	defer func() {
		for i := 0; i < locked; i++ {
			s.release(recs[i])
		}
	}()
	for _, rec := range recs {
		if err := s.acquire(ctx, rec); err != nil {
			return nil, err
		}
		locked++
	}

	ratings := make(map[string]int, len(sorted))
	for i, id := range sorted {
		recs[i].mu.Lock()
		ratings[id] = recs[i].player.Rating
		recs[i].mu.Unlock()
	}

	deltas := compute(ratings)

	now := time.Now()
	updated := make([]domain.Player, len(sorted))
	for i, id := range sorted {
		rec := recs[i]
		rec.mu.Lock()
		p := &rec.player
		p.Rating += deltas[id]
		p.GamesPlayed++
		if p.MonthKey == monthKey {
			p.GamesPlayedThisMonth++
		} else {
			p.MonthKey = monthKey
			p.GamesPlayedThisMonth = 1
		}
		if p.Rating > p.HighestRating {
			p.HighestRating = p.Rating
		}
		p.UpdatedAt = now
		updated[i] = *p
		rec.mu.Unlock()
	}

	s.markDirty(sorted)
	return updated, nil
}

func (s *Store) markDirty(ids []string) {
	s.dirtyMu.Lock()
	for _, id := range ids {
		s.dirty[id] = struct{}{}
	}
	s.dirtyMu.Unlock()
}

// DrainDirty returns the players modified since the previous drain. Used by
// the sync worker to bound write amplification toward the durable store.
func (s *Store) DrainDirty() []domain.Player {
	s.dirtyMu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirty = make(map[string]struct{})
	s.dirtyMu.Unlock()

	players := make([]domain.Player, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.Lookup(id); ok {
			players = append(players, p)
		}
	}
	return players
}

// Snapshot returns a copy of every player record.
func (s *Store) Snapshot() []domain.Player {
	var players []domain.Player
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		recs := make([]*record, 0, len(sh.players))
		for _, rec := range sh.players {
			recs = append(recs, rec)
		}
		sh.mu.RUnlock()

		for _, rec := range recs {
			rec.mu.Lock()
			players = append(players, rec.player)
			rec.mu.Unlock()
		}
	}
	return players
}

// Count returns the number of known players.
func (s *Store) Count() int64 {
	var n int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += int64(len(sh.players))
		sh.mu.RUnlock()
	}
	return n
}

// Load seeds the store from persisted records, replacing any in-memory state
// for the same identities. Used for warm start before traffic is admitted.
func (s *Store) Load(players []domain.Player) {
	for _, p := range players {
		rec := s.getOrCreate(p.ID)
		rec.mu.Lock()
		rec.player = p
		rec.mu.Unlock()
	}
}
