package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
	"github.com/matchrank/internal/leaderboard"
	"github.com/matchrank/internal/rating"
	"github.com/matchrank/internal/store"
)

// Ledger is the durable side of match processing: the processed-match dedup
// ledger and the audit log. Backed by PostgreSQL in production; nil-able for
// memory-only deployments.
type Ledger interface {
	MarkMatchProcessed(ctx context.Context, matchID string, ts time.Time) (bool, error)
	UnmarkMatchProcessed(ctx context.Context, matchID string) error
	RecordMatchEvents(ctx context.Context, matchID string, updates []domain.RatingUpdate, ts time.Time) error
}

// Broadcaster pushes committed rating movement to connected clients.
type Broadcaster interface {
	BroadcastRatingUpdates(matchID string, updates []domain.RatingUpdate)
	BroadcastLeaderboard(entries []domain.LeaderboardEntry, total int64)
}

// Processor consumes GameResult events: validates, deduplicates, computes
// rating deltas, commits all participants atomically, and keeps the
// leaderboard index current.
type Processor struct {
	model  *rating.Model
	store  *store.Store
	index  *leaderboard.Index
	logger *slog.Logger

	ledger Ledger
	hub    Broadcaster

	topBroadcast int

	mu      sync.Mutex
	seen    map[string]domain.Ack
	pending map[string]chan struct{}
}

// New creates a result processor
func New(model *rating.Model, st *store.Store, index *leaderboard.Index, cfg *config.ProcessorConfig, logger *slog.Logger) *Processor {
	return &Processor{
		model:        model,
		store:        st,
		index:        index,
		logger:       logger,
		topBroadcast: cfg.TopBroadcast,
		seen:         make(map[string]domain.Ack),
		pending:      make(map[string]chan struct{}),
	}
}

// SetLedger attaches the durable dedup ledger and audit log.
func (p *Processor) SetLedger(ledger Ledger) {
	p.ledger = ledger
}

// SetHub attaches the broadcast hub for push updates.
func (p *Processor) SetHub(hub Broadcaster) {
	p.hub = hub
}

func validate(result *domain.GameResult) error {
	if result == nil || result.MatchID == "" {
		return fmt.Errorf("%w: missing match id", domain.ErrInvalidResult)
	}
	if len(result.Participants) < 2 {
		return fmt.Errorf("%w: match %s has %d participants, need at least 2",
			domain.ErrInvalidResult, result.MatchID, len(result.Participants))
	}
	if result.Timestamp.IsZero() {
		return fmt.Errorf("%w: match %s has no timestamp", domain.ErrInvalidResult, result.MatchID)
	}
	seen := make(map[string]struct{}, len(result.Participants))
	for _, part := range result.Participants {
		if part.ID == "" {
			return fmt.Errorf("%w: match %s has a participant without identity",
				domain.ErrInvalidResult, result.MatchID)
		}
		if !part.Outcome.Valid() {
			return fmt.Errorf("%w: match %s participant %s has unknown outcome %q",
				domain.ErrInvalidResult, result.MatchID, part.ID, part.Outcome)
		}
		if _, dup := seen[part.ID]; dup {
			return fmt.Errorf("%w: match %s lists participant %s twice",
				domain.ErrInvalidResult, result.MatchID, part.ID)
		}
		seen[part.ID] = struct{}{}
	}
	return nil
}

// Submit folds one match into the rating state.
//
// Resubmitting an already-processed match id is not an error: the original
// Ack is returned with Duplicate set. A resubmission that races an in-flight
// submission of the same match waits for it to settle and then reports the
// same way; if the first attempt failed, the waiter proceeds to process the
// match itself. A submission that cannot lock every participant within the
// configured timeout applies nothing and fails with ErrPlayerBusy; when the
// durable ledger rejects the claim with an error the submission fails with
// ErrStoreUnavailable rather than risking a silent double-apply.
func (p *Processor) Submit(ctx context.Context, result *domain.GameResult) (*domain.Ack, error) {
	if err := validate(result); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	for {
		p.mu.Lock()
		if ack, ok := p.seen[result.MatchID]; ok {
			p.mu.Unlock()
			dup := ack
			dup.Duplicate = true
			return &dup, nil
		}
		inflight, ok := p.pending[result.MatchID]
		if !ok {
			p.pending[result.MatchID] = done
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-inflight:
		}
	}

	defer func() {
		p.mu.Lock()
		delete(p.pending, result.MatchID)
		p.mu.Unlock()
		close(done)
	}()

	// Claim the match id durably before touching ratings, so a replay after
	// restart is recognized. The claim is released if the commit aborts.
	if p.ledger != nil {
		claimed, err := p.ledger.MarkMatchProcessed(ctx, result.MatchID, result.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		if !claimed {
			ack := domain.Ack{MatchID: result.MatchID, Duplicate: true, AppliedAt: result.Timestamp}
			p.remember(ack)
			return &ack, nil
		}
	}

	ids := make([]string, len(result.Participants))
	for i, part := range result.Participants {
		ids[i] = part.ID
	}
	monthKey := domain.MonthKey(result.Timestamp)

	var deltas map[string]int
	updated, err := p.store.ApplyMatch(ctx, ids, monthKey, func(ratings map[string]int) map[string]int {
		deltas = p.model.MatchDeltas(result, ratings)
		return deltas
	})
	if err != nil {
		if p.ledger != nil {
			if uerr := p.ledger.UnmarkMatchProcessed(ctx, result.MatchID); uerr != nil {
				p.logger.Error("failed to release match claim after aborted commit",
					"match_id", result.MatchID, "error", uerr)
			}
		}
		return nil, err
	}

	updates := make([]domain.RatingUpdate, len(updated))
	for i, u := range updated {
		p.index.Upsert(u)
		updates[i] = domain.RatingUpdate{
			PlayerID:  u.ID,
			Delta:     deltas[u.ID],
			NewRating: u.Rating,
		}
	}

	if p.ledger != nil {
		if err := p.ledger.RecordMatchEvents(ctx, result.MatchID, updates, result.Timestamp); err != nil {
			p.logger.Warn("failed to record match events", "match_id", result.MatchID, "error", err)
			// The commit already happened; the audit log is best-effort.
		}
	}

	if p.hub != nil {
		p.hub.BroadcastRatingUpdates(result.MatchID, updates)
		p.hub.BroadcastLeaderboard(p.index.TopN(p.topBroadcast, time.Now()), p.index.Len())
	}

	ack := domain.Ack{MatchID: result.MatchID, AppliedAt: time.Now()}
	p.remember(ack)
	return &ack, nil
}

func (p *Processor) remember(ack domain.Ack) {
	ack.Duplicate = false
	p.mu.Lock()
	p.seen[ack.MatchID] = ack
	p.mu.Unlock()
}

// Profile returns a player's record with leaderboard classification.
func (p *Processor) Profile(id string) (*domain.PlayerProfile, error) {
	player, ok := p.store.Lookup(id)
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}

	profile := &domain.PlayerProfile{
		Player:   player,
		Eligible: p.index.Eligible(player),
		Active:   p.index.Active(player, time.Now()),
	}
	if rank, ranked := p.index.RankOf(id); ranked {
		profile.Rank = rank
	}
	return profile, nil
}

// Leaderboard returns the top n ranked players.
func (p *Processor) Leaderboard(n int) []domain.LeaderboardEntry {
	return p.index.TopN(n, time.Now())
}

// Rank returns a player's ranked entry. Unknown and ineligible players both
// report ErrPlayerNotFound: neither has a rank.
func (p *Processor) Rank(id string) (*domain.LeaderboardEntry, error) {
	player, ok := p.store.Lookup(id)
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	rank, ranked := p.index.RankOf(id)
	if !ranked {
		return nil, domain.ErrPlayerNotFound
	}
	return &domain.LeaderboardEntry{
		Rank:        rank,
		PlayerID:    player.ID,
		Rating:      player.Rating,
		GamesPlayed: player.GamesPlayed,
		Active:      p.index.Active(player, time.Now()),
	}, nil
}

// Stats returns aggregate leaderboard statistics.
func (p *Processor) Stats() domain.LeaderboardStats {
	return domain.LeaderboardStats{
		RankedPlayers: p.index.Len(),
		TotalPlayers:  p.store.Count(),
		TopRating:     p.index.TopRating(),
	}
}
