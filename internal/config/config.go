package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Rating    RatingConfig    `yaml:"rating"`
	Processor ProcessorConfig `yaml:"processor"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sync      SyncConfig      `yaml:"sync"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RatingConfig holds the rating model parameters. Read once at startup and
// treated as immutable for the life of the process.
type RatingConfig struct {
	DefaultRating           int `yaml:"default_rating"`
	LeaderboardMinimumGames int `yaml:"leaderboard_minimum_games"`
	LeaderboardActiveGames  int `yaml:"leaderboard_active_games"`
	EloSureWinDifference    int `yaml:"elo_sure_win_difference"`
	EloKFactorConstRating   int `yaml:"elo_k_factor_constant_rating"`
	MaxKFactor              int `yaml:"max_k_factor"`
	MinKFactor              int `yaml:"min_k_factor"`
}

// ProcessorConfig holds result processor tuning
type ProcessorConfig struct {
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	TopBroadcast int           `yaml:"top_broadcast"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds synchronization worker configuration
type SyncConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants the rating model depends on.
func (c *Config) Validate() error {
	r := &c.Rating
	if r.DefaultRating <= 0 {
		return fmt.Errorf("rating.default_rating must be positive, got %d", r.DefaultRating)
	}
	if r.EloKFactorConstRating <= r.DefaultRating {
		return fmt.Errorf("rating.elo_k_factor_constant_rating (%d) must exceed default_rating (%d)",
			r.EloKFactorConstRating, r.DefaultRating)
	}
	if r.MaxKFactor < r.MinKFactor {
		return fmt.Errorf("rating.max_k_factor (%d) must be >= min_k_factor (%d)",
			r.MaxKFactor, r.MinKFactor)
	}
	if r.MinKFactor <= 0 {
		return fmt.Errorf("rating.min_k_factor must be positive, got %d", r.MinKFactor)
	}
	if r.EloSureWinDifference <= 0 {
		return fmt.Errorf("rating.elo_sure_win_difference must be positive, got %d", r.EloSureWinDifference)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Rating defaults
	if c.Rating.DefaultRating == 0 {
		c.Rating.DefaultRating = 1200
	}
	if c.Rating.LeaderboardMinimumGames == 0 {
		c.Rating.LeaderboardMinimumGames = 10
	}
	if c.Rating.LeaderboardActiveGames == 0 {
		c.Rating.LeaderboardActiveGames = 5
	}
	if c.Rating.EloSureWinDifference == 0 {
		c.Rating.EloSureWinDifference = 600
	}
	if c.Rating.EloKFactorConstRating == 0 {
		c.Rating.EloKFactorConstRating = 2200
	}
	if c.Rating.MaxKFactor == 0 {
		c.Rating.MaxKFactor = 40
	}
	if c.Rating.MinKFactor == 0 {
		c.Rating.MinKFactor = 16
	}

	// Processor defaults
	if c.Processor.LockTimeout == 0 {
		c.Processor.LockTimeout = 2 * time.Second
	}
	if c.Processor.TopBroadcast == 0 {
		c.Processor.TopBroadcast = 10
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "match-results"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "matchrank-consumer"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
