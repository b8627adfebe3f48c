package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "railwars.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queues.OwnershipSync.Concurrency != MaxOwnershipSyncConcurrency {
		t.Fatalf("ownership concurrency=%d", cfg.Queues.OwnershipSync.Concurrency)
	}
	if cfg.Queues.RailTick.Concurrency != MaxRailTickConcurrency {
		t.Fatalf("rail concurrency=%d", cfg.Queues.RailTick.Concurrency)
	}
	if cfg.ProductionLike() {
		t.Fatalf("development default must not be production-like")
	}
}

func TestLoad_ClampsConcurrencyAndParsesDurations(t *testing.T) {
	p := writeFile(t, `
env: Production
chains:
  - id: 1
    rpc_url: wss://mainnet.example
queues:
  ownership_sync:
    concurrency: 500
  rail_tick:
    concurrency: 4
rail:
  move_interval: 45s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queues.OwnershipSync.Concurrency != 30 {
		t.Fatalf("ownership concurrency=%d want=30", cfg.Queues.OwnershipSync.Concurrency)
	}
	if cfg.Queues.RailTick.Concurrency != 4 {
		t.Fatalf("rail concurrency=%d want=4", cfg.Queues.RailTick.Concurrency)
	}
	if cfg.Rail.MoveInterval != 45*time.Second {
		t.Fatalf("move interval=%v", cfg.Rail.MoveInterval)
	}
	if !cfg.ProductionLike() {
		t.Fatalf("env=%q should be production-like", cfg.Env)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "instance_id: \"0\"\nrelay:\n  url: http://file\n")
	t.Setenv("RW_INSTANCE_ID", "2")
	t.Setenv("RW_RELAY_URL", "http://env")
	t.Setenv("RW_QUEUE_RAIL_CONCURRENCY", "3")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "2" || cfg.OwnershipSyncDesignated() {
		t.Fatalf("instance=%q designated=%v", cfg.InstanceID, cfg.OwnershipSyncDesignated())
	}
	if cfg.Relay.URL != "http://env" {
		t.Fatalf("relay url=%q", cfg.Relay.URL)
	}
	if cfg.Queues.RailTick.Concurrency != 3 {
		t.Fatalf("rail concurrency=%d", cfg.Queues.RailTick.Concurrency)
	}
}

func TestValidate_RejectsDuplicateChains(t *testing.T) {
	cfg := Defaults()
	cfg.Chains = []ChainSpec{{ID: 1, RPCURL: "a"}, {ID: 1, RPCURL: "b"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate chain error")
	}
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(p, []byte("RW_ADDR=:9999\nRW_DB_PATH=/tmp/dotenv.sqlite\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RW_ADDR", ":7000")
	t.Setenv("RW_DB_PATH", "")
	os.Unsetenv("RW_DB_PATH")

	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("addr=%q: process env must win", cfg.Addr)
	}
	if cfg.DBPath != "/tmp/dotenv.sqlite" {
		t.Fatalf("db path=%q", cfg.DBPath)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestLoad_RejectsNonPositiveMoveInterval(t *testing.T) {
	for _, v := range []string{"0s", "-5s"} {
		t.Setenv("RW_RAIL_MOVE_INTERVAL", v)
		if _, err := Load(""); err == nil {
			t.Fatalf("move_interval=%s accepted", v)
		}
	}
	p := writeFile(t, "rail:\n  move_interval: 0s\n")
	os.Unsetenv("RW_RAIL_MOVE_INTERVAL")
	if _, err := Load(p); err == nil {
		t.Fatalf("move_interval=0s from file accepted")
	}
}
