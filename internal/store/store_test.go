package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matchrank/internal/domain"
)

func newTestStore() *Store {
	return New(1200, 2*time.Second)
}

func TestStore_GetCreatesAtDefault(t *testing.T) {
	s := newTestStore()

	p := s.Get("newcomer")
	if p.ID != "newcomer" {
		t.Errorf("ID = %q, want %q", p.ID, "newcomer")
	}
	if p.Rating != 1200 {
		t.Errorf("Rating = %d, want 1200", p.Rating)
	}
	if p.GamesPlayed != 0 {
		t.Errorf("GamesPlayed = %d, want 0", p.GamesPlayed)
	}
	if p.HighestRating != 1200 {
		t.Errorf("HighestRating = %d, want 1200", p.HighestRating)
	}

	if _, ok := s.Lookup("newcomer"); !ok {
		t.Error("Lookup after Get should find the record")
	}
	if _, ok := s.Lookup("stranger"); ok {
		t.Error("Lookup must not create records")
	}
}

func TestStore_ApplyMatch(t *testing.T) {
	s := newTestStore()

	updated, err := s.ApplyMatch(context.Background(), []string{"b", "a"}, "2026-09",
		func(ratings map[string]int) map[string]int {
			if ratings["a"] != 1200 || ratings["b"] != 1200 {
				t.Errorf("ratings = %v, want both 1200", ratings)
			}
			return map[string]int{"a": 20, "b": -20}
		})
	if err != nil {
		t.Fatalf("ApplyMatch: %v", err)
	}

	// Results come back in id-sorted order.
	if updated[0].ID != "a" || updated[1].ID != "b" {
		t.Fatalf("updated order = %s, %s, want a, b", updated[0].ID, updated[1].ID)
	}
	if updated[0].Rating != 1220 || updated[1].Rating != 1180 {
		t.Errorf("ratings = %d, %d, want 1220, 1180", updated[0].Rating, updated[1].Rating)
	}
	for _, p := range updated {
		if p.GamesPlayed != 1 {
			t.Errorf("GamesPlayed(%s) = %d, want 1", p.ID, p.GamesPlayed)
		}
		if p.GamesPlayedThisMonth != 1 {
			t.Errorf("GamesPlayedThisMonth(%s) = %d, want 1", p.ID, p.GamesPlayedThisMonth)
		}
		if p.MonthKey != "2026-09" {
			t.Errorf("MonthKey(%s) = %q, want 2026-09", p.ID, p.MonthKey)
		}
	}

	if updated[0].HighestRating != 1220 {
		t.Errorf("winner HighestRating = %d, want 1220", updated[0].HighestRating)
	}
	if updated[1].HighestRating != 1200 {
		t.Errorf("loser HighestRating = %d, want unchanged 1200", updated[1].HighestRating)
	}
}

func TestStore_ApplyMatchMonthRollover(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	commit := func(monthKey string) {
		t.Helper()
		_, err := s.ApplyMatch(ctx, []string{"a", "b"}, monthKey,
			func(map[string]int) map[string]int {
				return map[string]int{"a": 0, "b": 0}
			})
		if err != nil {
			t.Fatalf("ApplyMatch: %v", err)
		}
	}

	commit("2026-08")
	commit("2026-08")
	commit("2026-09")

	p := s.Get("a")
	if p.GamesPlayed != 3 {
		t.Errorf("GamesPlayed = %d, want 3", p.GamesPlayed)
	}
	if p.GamesPlayedThisMonth != 1 {
		t.Errorf("GamesPlayedThisMonth = %d, want reset to 1", p.GamesPlayedThisMonth)
	}
	if p.MonthKey != "2026-09" {
		t.Errorf("MonthKey = %q, want 2026-09", p.MonthKey)
	}
}

func TestStore_ApplyMatchLockTimeout(t *testing.T) {
	s := New(1200, 50*time.Millisecond)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ApplyMatch(ctx, []string{"hot"}, "2026-09", func(map[string]int) map[string]int {
			close(holding)
			<-release
			return map[string]int{"hot": 0}
		})
	}()

	<-holding
	_, err := s.ApplyMatch(ctx, []string{"hot"}, "2026-09", func(map[string]int) map[string]int {
		return map[string]int{"hot": 0}
	})
	close(release)
	<-done

	if !errors.Is(err, domain.ErrPlayerBusy) {
		t.Errorf("err = %v, want ErrPlayerBusy", err)
	}

	// The aborted commit must not have touched the record.
	if p := s.Get("hot"); p.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1 (only the holder's commit)", p.GamesPlayed)
	}
}

func TestStore_ConcurrentCommitsSamePlayer(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	const matches = 100
	var wg sync.WaitGroup
	for i := 0; i < matches; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			opponent := string(rune('A' + n%26))
			_, err := s.ApplyMatch(ctx, []string{"shared", opponent}, "2026-09",
				func(map[string]int) map[string]int {
					return map[string]int{"shared": 1, opponent: -1}
				})
			if err != nil {
				t.Errorf("ApplyMatch: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p := s.Get("shared")
	if p.GamesPlayed != matches {
		t.Errorf("GamesPlayed = %d, want %d (no lost updates)", p.GamesPlayed, matches)
	}
	if p.Rating != 1200+matches {
		t.Errorf("Rating = %d, want %d (every delta accumulated)", p.Rating, 1200+matches)
	}
}

func TestStore_SnapshotAndLoad(t *testing.T) {
	s := newTestStore()
	s.Load([]domain.Player{
		{ID: "a", Rating: 1500, GamesPlayed: 30, HighestRating: 1550},
		{ID: "b", Rating: 1100, GamesPlayed: 12, HighestRating: 1250},
	})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(snap))
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}

	p, ok := s.Lookup("a")
	if !ok || p.Rating != 1500 || p.GamesPlayed != 30 {
		t.Errorf("loaded record = %+v", p)
	}
}

func TestStore_DrainDirty(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if dirty := s.DrainDirty(); len(dirty) != 0 {
		t.Fatalf("fresh store reports %d dirty players", len(dirty))
	}

	_, err := s.ApplyMatch(ctx, []string{"a", "b"}, "2026-09",
		func(map[string]int) map[string]int {
			return map[string]int{"a": 5, "b": -5}
		})
	if err != nil {
		t.Fatalf("ApplyMatch: %v", err)
	}

	dirty := s.DrainDirty()
	if len(dirty) != 2 {
		t.Fatalf("dirty len = %d, want 2", len(dirty))
	}
	if again := s.DrainDirty(); len(again) != 0 {
		t.Errorf("second drain returned %d players, want 0", len(again))
	}
}
