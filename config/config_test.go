package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"datasource":{"base_url":"http://fi.local:9090/"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataSource.BaseURL != "http://fi.local:9090" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.DataSource.BaseURL)
	}
	if cfg.DataSource.MaxRetries != 3 {
		t.Fatalf("expected default max_retries 3, got %d", cfg.DataSource.MaxRetries)
	}
	if cfg.DataSource.CacheTTL != 5*time.Minute {
		t.Fatalf("expected tool cache ttl 5m, got %s", cfg.DataSource.CacheTTL)
	}
	if cfg.Snapshot.TTL != time.Hour {
		t.Fatalf("expected snapshot ttl 1h, got %s", cfg.Snapshot.TTL)
	}
	if cfg.Snapshot.RefreshTimeout != 30*time.Second {
		t.Fatalf("expected snapshot refresh timeout 30s, got %s", cfg.Snapshot.RefreshTimeout)
	}
	if cfg.Consensus.QueryTimeout != time.Minute {
		t.Fatalf("expected query timeout 60s, got %s", cfg.Consensus.QueryTimeout)
	}
	if cfg.Consensus.ConflictThreshold != 0.3 {
		t.Fatalf("expected conflict threshold 0.3, got %.2f", cfg.Consensus.ConflictThreshold)
	}
	if cfg.Dispatch.ProducerTimeout != 30*time.Second {
		t.Fatalf("expected producer timeout 30s, got %s", cfg.Dispatch.ProducerTimeout)
	}
}

func TestLoadDurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"snapshot":{"ttl":"10m","sources":["fetch_net_worth"," fetch_net_worth ",""]},"dispatch":{"producer_timeout":"5s"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Snapshot.TTL != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", cfg.Snapshot.TTL)
	}
	if len(cfg.Snapshot.Sources) != 1 {
		t.Fatalf("expected sources deduplicated, got %v", cfg.Snapshot.Sources)
	}
	if cfg.Dispatch.ProducerTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.Dispatch.ProducerTimeout)
	}
}

func TestLoadRejectsUnknownCacheBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"storage":{"cache":"memcached"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown cache backend")
	}
}

func TestConsensusNormalizeClamps(t *testing.T) {
	c := ConsensusConfig{ConflictThreshold: 1.4, MinRelevance: -1, AlwaysRelevantFloor: 0.7}.Normalize()
	if c.ConflictThreshold != 1 || c.MinRelevance != 0 || c.AlwaysRelevantFloor != 0.7 {
		t.Fatalf("unexpected clamp result: %+v", c)
	}
	if c.QueryTimeout != 60*time.Second {
		t.Fatalf("expected default query timeout, got %s", c.QueryTimeout)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "artha", Password: "pw", DBName: "artha"}
	if got := p.DSN(); got != "postgres://artha:pw@db:5432/artha?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	p.URL = "postgres://override"
	if got := p.DSN(); got != "postgres://override" {
		t.Fatalf("expected url to win, got %q", got)
	}
}

func TestRoutingFallback(t *testing.T) {
	r := LLMRoutingConfig{Weighting: "fast", Fallback: "default"}
	if r.Model("weighting") != "fast" {
		t.Fatalf("expected routed model")
	}
	if r.Model("synthesis") != "default" {
		t.Fatalf("expected fallback model")
	}
}
