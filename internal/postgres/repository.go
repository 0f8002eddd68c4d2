package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
)

// Repository provides PostgreSQL-based persistence for player records, the
// processed-match ledger used for deduplication, and the match audit log.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			rating INT NOT NULL,
			games_played INT NOT NULL DEFAULT 0,
			games_played_this_month INT NOT NULL DEFAULT 0,
			month_key VARCHAR(7) NOT NULL DEFAULT '',
			highest_rating INT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS processed_matches (
			match_id VARCHAR(64) PRIMARY KEY,
			processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			match_id VARCHAR(64) NOT NULL,
			player_id VARCHAR(64) NOT NULL,
			delta INT NOT NULL,
			rating INT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_rating ON players(rating DESC, games_played ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_player ON match_events(player_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// MarkMatchProcessed records a match id in the dedup ledger. Returns false
// when the id was already present, i.e. the match is a duplicate.
func (r *Repository) MarkMatchProcessed(ctx context.Context, matchID string, ts time.Time) (bool, error) {
	query := `
		INSERT INTO processed_matches (match_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (match_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, matchID, ts)
	if err != nil {
		return false, fmt.Errorf("marking match processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UnmarkMatchProcessed removes a match id from the dedup ledger. Used to
// compensate when a commit fails after the id was claimed, so the caller can
// retry the same match later.
func (r *Repository) UnmarkMatchProcessed(ctx context.Context, matchID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM processed_matches WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("unmarking match processed: %w", err)
	}
	return nil
}

// RecordMatchEvents appends the committed rating movements of one match to
// the audit log.
func (r *Repository) RecordMatchEvents(ctx context.Context, matchID string, updates []domain.RatingUpdate, ts time.Time) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO match_events (match_id, player_id, delta, rating, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, u := range updates {
		batch.Queue(query, matchID, u.PlayerID, u.Delta, u.NewRating, ts)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range updates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording match events: %w", err)
		}
	}
	return nil
}

// BatchUpsertPlayers inserts or updates multiple player records efficiently
func (r *Repository) BatchUpsertPlayers(ctx context.Context, players []domain.Player) error {
	if len(players) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO players (id, rating, games_played, games_played_this_month, month_key, highest_rating, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			rating = $2,
			games_played = $3,
			games_played_this_month = $4,
			month_key = $5,
			highest_rating = $6,
			updated_at = $7
	`
	for _, p := range players {
		batch.Queue(query, p.ID, p.Rating, p.GamesPlayed, p.GamesPlayedThisMonth, p.MonthKey, p.HighestRating, p.UpdatedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range players {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting players: %w", err)
		}
	}
	return nil
}

// LoadPlayers retrieves every persisted player record (for warm start)
func (r *Repository) LoadPlayers(ctx context.Context) ([]domain.Player, error) {
	query := `
		SELECT id, rating, games_played, games_played_this_month, month_key, highest_rating, updated_at
		FROM players
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		err := rows.Scan(
			&p.ID,
			&p.Rating,
			&p.GamesPlayed,
			&p.GamesPlayedThisMonth,
			&p.MonthKey,
			&p.HighestRating,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	return players, nil
}

// GetPlayer retrieves one persisted player record
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `
		SELECT id, rating, games_played, games_played_this_month, month_key, highest_rating, updated_at
		FROM players
		WHERE id = $1
	`
	var p domain.Player
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&p.ID,
		&p.Rating,
		&p.GamesPlayed,
		&p.GamesPlayedThisMonth,
		&p.MonthKey,
		&p.HighestRating,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

// CountPlayers returns the number of persisted players
func (r *Repository) CountPlayers(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting players: %w", err)
	}
	return count, nil
}
