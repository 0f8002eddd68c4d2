package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
	"github.com/matchrank/internal/leaderboard"
	"github.com/matchrank/internal/postgres"
	"github.com/matchrank/internal/redis"
	"github.com/matchrank/internal/store"
)

// SyncWorker periodically flushes modified player records to PostgreSQL and
// rebuilds the Redis leaderboard mirror from the authoritative in-memory
// state. Both targets are optional; either may be nil.
type SyncWorker struct {
	store    *store.Store
	index    *leaderboard.Index
	postgres *postgres.Repository
	mirror   *redis.Mirror
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	st *store.Store,
	index *leaderboard.Index,
	pg *postgres.Repository,
	mirror *redis.Mirror,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		store:    st,
		index:    index,
		postgres: pg,
		mirror:   mirror,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncCycle(ctx)
		}
	}
}

// syncCycle flushes dirty players and refreshes the mirror
func (w *SyncWorker) syncCycle(ctx context.Context) {
	startTime := time.Now()
	dirty := w.store.DrainDirty()
	if len(dirty) == 0 {
		return
	}

	if err := w.FlushToDatabase(ctx, dirty); err != nil {
		w.logger.Error("failed to flush players to database", "error", err)
	}
	if err := w.RefreshMirror(ctx, dirty); err != nil {
		w.logger.Error("failed to refresh leaderboard mirror", "error", err)
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"players", len(dirty),
	)
}

// FlushToDatabase persists modified players in bounded batches.
func (w *SyncWorker) FlushToDatabase(ctx context.Context, players []domain.Player) error {
	if w.postgres == nil {
		return nil
	}

	batchSize := w.config.BatchSize
	for start := 0; start < len(players); start += batchSize {
		end := start + batchSize
		if end > len(players) {
			end = len(players)
		}
		if err := w.postgres.BatchUpsertPlayers(ctx, players[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// RefreshMirror pushes modified players into the Redis leaderboard mirror.
// Ineligible players are removed from the mirrored ranking; every modified
// player refreshes the profile cache.
func (w *SyncWorker) RefreshMirror(ctx context.Context, players []domain.Player) error {
	if w.mirror == nil {
		return nil
	}

	for _, p := range players {
		if w.index.Eligible(p) {
			if err := w.mirror.SetEntry(ctx, p); err != nil {
				return err
			}
		} else {
			if err := w.mirror.RemoveEntry(ctx, p.ID); err != nil {
				return err
			}
		}
		if err := w.mirror.CacheProfile(ctx, p); err != nil {
			w.logger.Warn("failed to cache profile", "player_id", p.ID, "error", err)
		}
	}
	return nil
}

// WarmStart loads persisted players into the store and rebuilds the index and
// mirror. Called before traffic is admitted.
func (w *SyncWorker) WarmStart(ctx context.Context) error {
	if w.postgres == nil {
		return nil
	}

	players, err := w.postgres.LoadPlayers(ctx)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		w.logger.Info("no persisted players to load")
		return nil
	}

	w.store.Load(players)
	w.index.Rebuild(players)

	if w.mirror != nil {
		ranked := make([]domain.Player, 0, len(players))
		for _, p := range players {
			if w.index.Eligible(p) {
				ranked = append(ranked, p)
			}
		}
		if err := w.mirror.Rebuild(ctx, ranked); err != nil {
			w.logger.Warn("failed to rebuild leaderboard mirror", "error", err)
		}
	}

	w.logger.Info("warm start completed", "players", len(players))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncCycle(ctx)
}
