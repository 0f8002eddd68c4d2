package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
	"github.com/redis/go-redis/v9"
)

// rankScale packs (rating, gamesPlayed) into a single ZSET score so that
// ZREVRANGE yields the exact ranking order: descending rating, then ascending
// games played. score = rating*rankScale + (rankScale-1-gamesPlayed). With a
// 2^20 scale the packed value stays well inside float64's 53-bit integer
// range for any realistic rating.
const rankScale = 1 << 20

// Mirror maintains a Redis copy of the ranked leaderboard plus a per-player
// profile cache. The in-process index stays authoritative; the mirror exists
// for external consumers and survives process restarts only as a cache — it
// is rebuilt wholesale by the sync worker.
type Mirror struct {
	client *redis.Client
	logger *slog.Logger
}

// NewMirror creates a Redis mirror and verifies connectivity.
func NewMirror(cfg *config.RedisConfig, logger *slog.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Mirror{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}

const leaderboardKey = "matchrank:leaderboard"

func profileKey(playerID string) string {
	return fmt.Sprintf("matchrank:player:%s", playerID)
}

// packScore assumes a non-negative rating; a rating driven below zero by an
// extreme loss streak is clamped so the packed score stays well ordered.
func packScore(rating, gamesPlayed int) float64 {
	if rating < 0 {
		rating = 0
	}
	return float64(rating)*rankScale + float64(rankScale-1-gamesPlayed)
}

func unpackScore(score float64) (rating, gamesPlayed int) {
	packed := int64(score)
	rating = int(packed / rankScale)
	gamesPlayed = rankScale - 1 - int(packed%rankScale)
	return rating, gamesPlayed
}

// Rebuild replaces the mirrored leaderboard with the given ranked players.
func (m *Mirror) Rebuild(ctx context.Context, players []domain.Player) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, leaderboardKey)
	for _, p := range players {
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{
			Score:  packScore(p.Rating, p.GamesPlayed),
			Member: p.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding leaderboard mirror: %w", err)
	}
	return nil
}

// SetEntry updates one player's position in the mirrored leaderboard.
func (m *Mirror) SetEntry(ctx context.Context, p domain.Player) error {
	err := m.client.ZAdd(ctx, leaderboardKey, redis.Z{
		Score:  packScore(p.Rating, p.GamesPlayed),
		Member: p.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting leaderboard entry: %w", err)
	}
	return nil
}

// RemoveEntry drops a player from the mirrored leaderboard.
func (m *Mirror) RemoveEntry(ctx context.Context, playerID string) error {
	if err := m.client.ZRem(ctx, leaderboardKey, playerID).Err(); err != nil {
		return fmt.Errorf("removing leaderboard entry: %w", err)
	}
	return nil
}

// TopN returns the best n mirrored players in ranking order.
func (m *Mirror) TopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	results, err := m.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		rating, games := unpackScore(result.Score)
		entries[i] = domain.LeaderboardEntry{
			Rank:        int64(i + 1),
			PlayerID:    result.Member.(string),
			Rating:      rating,
			GamesPlayed: games,
		}
	}
	return entries, nil
}

// PlayerRank returns a player's mirrored rank and rating.
func (m *Mirror) PlayerRank(ctx context.Context, playerID string) (*domain.LeaderboardEntry, error) {
	pipe := m.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, leaderboardKey, playerID)
	scoreCmd := pipe.ZScore(ctx, leaderboardKey, playerID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	rating, games := unpackScore(score)
	return &domain.LeaderboardEntry{
		Rank:        rank + 1, // Convert 0-indexed to 1-indexed
		PlayerID:    playerID,
		Rating:      rating,
		GamesPlayed: games,
	}, nil
}

// Count returns the number of mirrored players.
func (m *Mirror) Count(ctx context.Context) (int64, error) {
	count, err := m.client.ZCard(ctx, leaderboardKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// CacheProfile stores a player's record in the profile cache.
func (m *Mirror) CacheProfile(ctx context.Context, p domain.Player) error {
	key := profileKey(p.ID)
	err := m.client.HSet(ctx, key,
		"rating", p.Rating,
		"games_played", p.GamesPlayed,
		"games_played_this_month", p.GamesPlayedThisMonth,
		"month_key", p.MonthKey,
		"highest_rating", p.HighestRating,
	).Err()
	if err != nil {
		return fmt.Errorf("caching profile: %w", err)
	}
	return nil
}

// CachedProfile retrieves a player's record from the profile cache.
func (m *Mirror) CachedProfile(ctx context.Context, playerID string) (*domain.Player, error) {
	result, err := m.client.HGetAll(ctx, profileKey(playerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting cached profile: %w", err)
	}
	if len(result) == 0 {
		return nil, domain.ErrPlayerNotFound
	}

	rating, _ := strconv.Atoi(result["rating"])
	games, _ := strconv.Atoi(result["games_played"])
	gamesMonth, _ := strconv.Atoi(result["games_played_this_month"])
	highest, _ := strconv.Atoi(result["highest_rating"])

	return &domain.Player{
		ID:                   playerID,
		Rating:               rating,
		GamesPlayed:          games,
		GamesPlayedThisMonth: gamesMonth,
		MonthKey:             result["month_key"],
		HighestRating:        highest,
	}, nil
}
