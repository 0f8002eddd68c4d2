package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Rating.DefaultRating != 1200 {
		t.Errorf("Rating.DefaultRating = %d, want 1200", cfg.Rating.DefaultRating)
	}
	if cfg.Rating.LeaderboardMinimumGames != 10 {
		t.Errorf("Rating.LeaderboardMinimumGames = %d, want 10", cfg.Rating.LeaderboardMinimumGames)
	}
	if cfg.Rating.LeaderboardActiveGames != 5 {
		t.Errorf("Rating.LeaderboardActiveGames = %d, want 5", cfg.Rating.LeaderboardActiveGames)
	}
	if cfg.Rating.EloSureWinDifference != 600 {
		t.Errorf("Rating.EloSureWinDifference = %d, want 600", cfg.Rating.EloSureWinDifference)
	}
	if cfg.Rating.EloKFactorConstRating != 2200 {
		t.Errorf("Rating.EloKFactorConstRating = %d, want 2200", cfg.Rating.EloKFactorConstRating)
	}
	if cfg.Rating.MaxKFactor != 40 || cfg.Rating.MinKFactor != 16 {
		t.Errorf("K factor bounds = %d..%d, want 40..16", cfg.Rating.MaxKFactor, cfg.Rating.MinKFactor)
	}
	if cfg.Processor.LockTimeout != 2*time.Second {
		t.Errorf("Processor.LockTimeout = %v, want 2s", cfg.Processor.LockTimeout)
	}
	if cfg.Kafka.Topic != "match-results" {
		t.Errorf("Kafka.Topic = %q, want match-results", cfg.Kafka.Topic)
	}
	if !cfg.Sync.Enabled {
		t.Error("Sync.Enabled = false, want true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9090
rating:
  default_rating: 1500
  elo_k_factor_constant_rating: 2400
processor:
  lock_timeout: 500ms
postgres:
  enabled: true
  password: ${TEST_PG_PASSWORD}
`
	os.Setenv("TEST_PG_PASSWORD", "s3cret")
	defer os.Unsetenv("TEST_PG_PASSWORD")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Rating.DefaultRating != 1500 {
		t.Errorf("Rating.DefaultRating = %d, want 1500", cfg.Rating.DefaultRating)
	}
	if cfg.Processor.LockTimeout != 500*time.Millisecond {
		t.Errorf("Processor.LockTimeout = %v, want 500ms", cfg.Processor.LockTimeout)
	}
	if cfg.Postgres.Password != "s3cret" {
		t.Errorf("Postgres.Password = %q, want expanded env value", cfg.Postgres.Password)
	}

	// Fields absent from the file fall back to defaults.
	if cfg.Rating.EloSureWinDifference != 600 {
		t.Errorf("Rating.EloSureWinDifference = %d, want default 600", cfg.Rating.EloSureWinDifference)
	}
	if cfg.Server.WriteTimeout != 10*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 10s", cfg.Server.WriteTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestLoadInvalidRating(t *testing.T) {
	// A K-factor curve anchored below the default rating is a configuration
	// error, not something to silently clamp.
	content := `
rating:
  default_rating: 2300
  elo_k_factor_constant_rating: 2200
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should reject constant rating below default rating")
	}
	if !strings.Contains(err.Error(), "elo_k_factor_constant_rating") {
		t.Errorf("err = %v, want mention of elo_k_factor_constant_rating", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero default rating", func(c *Config) { c.Rating.DefaultRating = -1 }, false},
		{"max below min", func(c *Config) { c.Rating.MaxKFactor = 10 }, false},
		{"negative min k", func(c *Config) { c.Rating.MinKFactor = -5 }, false},
		{"zero sure win gap", func(c *Config) { c.Rating.EloSureWinDifference = -600 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate: %v, want nil", err)
			}
			if !tt.valid && err == nil {
				t.Error("Validate: nil, want error")
			}
		})
	}
}

func TestPostgresConnectionString(t *testing.T) {
	pg := PostgresConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "matchrank",
		Password: "pw",
		Database: "ratings",
	}

	got := pg.ConnectionString()
	want := "postgres://matchrank:pw@db.internal:5432/ratings?sslmode=disable"
	if got != want {
		t.Errorf("ConnectionString = %q, want %q", got, want)
	}
}
