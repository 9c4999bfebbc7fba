package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"WFMESH_NODE_ID", "WFMESH_BIND_ADDRESS", "WFMESH_SEED_NODES",
		"WFMESH_GOSSIP_INTERVAL", "WFMESH_SUSPECT_TIMEOUT", "WFMESH_DEAD_TIMEOUT",
		"WFMESH_VIRTUAL_NODES", "WFMESH_RPC_TIMEOUT", "WFMESH_TIMER_POLL_INTERVAL",
		"WFMESH_RECOVERY_POLL_INTERVAL", "WFMESH_MAX_CONCURRENT_WORKFLOWS",
		"WFMESH_STORAGE_PATH", "OTEL_EXPORTER_OTLP_ENDPOINT", "WFMESH_HTTP_ADDRESS",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.GossipInterval != time.Second {
		t.Fatalf("expected default gossip interval 1s, got %v", cfg.GossipInterval)
	}
	if cfg.SuspectTimeout != 5*time.Second {
		t.Fatalf("expected default suspect timeout 5s, got %v", cfg.SuspectTimeout)
	}
	if cfg.VirtualNodesPerNode != 150 {
		t.Fatalf("expected default 150 virtual nodes, got %d", cfg.VirtualNodesPerNode)
	}
	if cfg.NodeID == "" {
		t.Fatalf("expected a generated node id")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("WFMESH_NODE_ID", "node-a")
	os.Setenv("WFMESH_SEED_NODES", "n1:7946, n2:7946 ,")
	os.Setenv("WFMESH_GOSSIP_INTERVAL", "250ms")
	defer clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.NodeID != "node-a" {
		t.Fatalf("expected node id override, got %q", cfg.NodeID)
	}
	if len(cfg.SeedNodes) != 2 || cfg.SeedNodes[0] != "n1:7946" || cfg.SeedNodes[1] != "n2:7946" {
		t.Fatalf("expected trimmed seed list, got %v", cfg.SeedNodes)
	}
	if cfg.GossipInterval != 250*time.Millisecond {
		t.Fatalf("expected overridden gossip interval, got %v", cfg.GossipInterval)
	}
}

func TestFromEnvRejectsInvalidBindAddress(t *testing.T) {
	clearEnv(t)
	os.Setenv("WFMESH_BIND_ADDRESS", "not-a-valid-address")
	defer clearEnv(t)
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for invalid bindAddress")
	}
}
