package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	MaxOwnershipSyncConcurrency = 30
	MaxRailTickConcurrency      = 10
)

type Config struct {
	Env        string `yaml:"env" env:"DEPLOY_ENV"`
	InstanceID string `yaml:"instance_id" env:"RW_INSTANCE_ID"`
	// OwnershipSyncInstance names the one instance allowed to apply ownership
	// updates. It is fixed at boot; there is no failover.
	OwnershipSyncInstance string `yaml:"ownership_sync_instance" env:"RW_OWNERSHIP_SYNC_INSTANCE"`

	Addr   string `yaml:"addr" env:"RW_ADDR"`
	DBPath string `yaml:"db_path" env:"RW_DB_PATH"`

	Chains []ChainSpec `yaml:"chains"`
	// WatchReload is how often the tracked contract list is re-read.
	WatchReload time.Duration `yaml:"watch_reload" env:"RW_WATCH_RELOAD"`

	Queues Queues `yaml:"queues" envPrefix:"RW_QUEUE_"`
	Rail   Rail   `yaml:"rail" envPrefix:"RW_RAIL_"`
	Cache  Cache  `yaml:"cache" envPrefix:"RW_CACHE_"`
	Relay  Relay  `yaml:"relay" envPrefix:"RW_RELAY_"`
	Log    Log    `yaml:"log" envPrefix:"RW_LOG_"`
}

type ChainSpec struct {
	ID     int64  `yaml:"id"`
	RPCURL string `yaml:"rpc_url"`
}

type Queues struct {
	OwnershipSync Pool `yaml:"ownership_sync" envPrefix:"OWNERSHIP_"`
	RailTick      Pool `yaml:"rail_tick" envPrefix:"RAIL_"`
}

type Pool struct {
	Concurrency  int           `yaml:"concurrency" env:"CONCURRENCY"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	RetryMax     time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
}

type Rail struct {
	TickSchedule string        `yaml:"tick_schedule" env:"TICK_SCHEDULE"`
	MoveInterval time.Duration `yaml:"move_interval" env:"MOVE_INTERVAL"`
}

type Cache struct {
	Backend       string        `yaml:"backend" env:"BACKEND"`
	Size          int           `yaml:"size" env:"SIZE"`
	BoardTTL      time.Duration `yaml:"board_ttl" env:"BOARD_TTL"`
	PreferenceTTL time.Duration `yaml:"preference_ttl" env:"PREFERENCE_TTL"`
}

type Relay struct {
	URL     string        `yaml:"url" env:"URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Listen is used by the relay process itself.
	Listen     string `yaml:"listen" env:"LISTEN"`
	JournalDir string `yaml:"journal_dir" env:"JOURNAL_DIR"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func Defaults() Config {
	return Config{
		Env:                   "development",
		InstanceID:            "0",
		OwnershipSyncInstance: "0",
		Addr:                  ":8080",
		DBPath:                "./data/railwars.sqlite",
		WatchReload:           30 * time.Second,
		Queues: Queues{
			OwnershipSync: Pool{Concurrency: MaxOwnershipSyncConcurrency, MaxAttempts: 5, RetryBackoff: time.Second, RetryMax: time.Minute},
			RailTick:      Pool{Concurrency: MaxRailTickConcurrency, MaxAttempts: 3, RetryBackoff: 500 * time.Millisecond, RetryMax: 10 * time.Second},
		},
		Rail: Rail{
			TickSchedule: "@every 5s",
			MoveInterval: 30 * time.Second,
		},
		Cache: Cache{
			Backend:       "memory",
			Size:          4096,
			BoardTTL:      10 * time.Second,
			PreferenceTTL: time.Minute,
		},
		Relay: Relay{
			Timeout:    3 * time.Second,
			Listen:     ":8081",
			JournalDir: "./data/relay",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) over the defaults, then applies env overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if p := strings.TrimSpace(path); p != "" {
		raw, err := os.ReadFile(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", p, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

func (c *Config) Normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.InstanceID = strings.TrimSpace(c.InstanceID)
	c.OwnershipSyncInstance = strings.TrimSpace(c.OwnershipSyncInstance)
	c.Queues.OwnershipSync.clamp(MaxOwnershipSyncConcurrency)
	c.Queues.RailTick.clamp(MaxRailTickConcurrency)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = 4096
	}
	c.Relay.URL = strings.TrimSpace(c.Relay.URL)
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = 3 * time.Second
	}
}

func (p *Pool) clamp(max int) {
	if p.Concurrency <= 0 || p.Concurrency > max {
		p.Concurrency = max
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = time.Second
	}
	if p.RetryMax < p.RetryBackoff {
		p.RetryMax = p.RetryBackoff
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	seen := map[int64]bool{}
	for _, ch := range c.Chains {
		if ch.ID <= 0 {
			return fmt.Errorf("chain id must be positive (got %d)", ch.ID)
		}
		if strings.TrimSpace(ch.RPCURL) == "" {
			return fmt.Errorf("chain %d: rpc_url is required", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("chain %d configured twice", ch.ID)
		}
		seen[ch.ID] = true
	}
	switch c.Cache.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Rail.MoveInterval <= 0 {
		return fmt.Errorf("rail.move_interval must be positive (got %v)", c.Rail.MoveInterval)
	}
	return nil
}

// ProductionLike reports whether startup should resync every token.
func (c Config) ProductionLike() bool {
	switch c.Env {
	case "production", "staging":
		return true
	default:
		return false
	}
}

// OwnershipSyncDesignated reports whether this instance applies ownership updates.
func (c Config) OwnershipSyncDesignated() bool {
	return c.InstanceID == c.OwnershipSyncInstance
}
