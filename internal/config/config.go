// Package config loads a node's configuration from environment variables
// with the defaults from spec.md §6, the way the teacher's service mains
// read os.Getenv with inline fallbacks rather than pulling in a flag or
// config library (see DESIGN.md for why this stays on the standard
// library).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config is a single node's runtime configuration, per spec.md §6.
type Config struct {
	NodeID                 string
	BindAddress            string
	SeedNodes              []string
	GossipInterval         time.Duration
	SuspectTimeout         time.Duration
	DeadTimeout            time.Duration
	VirtualNodesPerNode    int
	RPCTimeout             time.Duration
	TimerPollInterval      time.Duration
	RecoveryPollInterval   time.Duration
	MaxConcurrentWorkflows int64
	StoragePath            string
	OTLPEndpoint           string
	HTTPAddress            string
}

// FromEnv builds a Config from environment variables, applying spec.md
// §6's defaults for anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		NodeID:                 getEnv("WFMESH_NODE_ID", uuid.NewString()),
		BindAddress:            getEnv("WFMESH_BIND_ADDRESS", "127.0.0.1:7946"),
		SeedNodes:              splitCSV(os.Getenv("WFMESH_SEED_NODES")),
		GossipInterval:         getDurationEnv("WFMESH_GOSSIP_INTERVAL", time.Second),
		SuspectTimeout:         getDurationEnv("WFMESH_SUSPECT_TIMEOUT", 5*time.Second),
		DeadTimeout:            getDurationEnv("WFMESH_DEAD_TIMEOUT", 30*time.Second),
		VirtualNodesPerNode:    getIntEnv("WFMESH_VIRTUAL_NODES", 150),
		RPCTimeout:             getDurationEnv("WFMESH_RPC_TIMEOUT", 30*time.Second),
		TimerPollInterval:      getDurationEnv("WFMESH_TIMER_POLL_INTERVAL", 100*time.Millisecond),
		RecoveryPollInterval:   getDurationEnv("WFMESH_RECOVERY_POLL_INTERVAL", time.Second),
		MaxConcurrentWorkflows: int64(getIntEnv("WFMESH_MAX_CONCURRENT_WORKFLOWS", 0)),
		StoragePath:            getEnv("WFMESH_STORAGE_PATH", "./data"),
		OTLPEndpoint:           getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		HTTPAddress:            getEnv("WFMESH_HTTP_ADDRESS", "127.0.0.1:8080"),
	}

	if _, _, err := net.SplitHostPort(cfg.BindAddress); err != nil {
		return Config{}, fmt.Errorf("config: invalid bindAddress %q: %w", cfg.BindAddress, err)
	}
	if cfg.GossipInterval <= 0 || cfg.SuspectTimeout <= 0 || cfg.DeadTimeout <= 0 || cfg.RPCTimeout <= 0 {
		return Config{}, fmt.Errorf("config: durations must be positive")
	}
	if cfg.StoragePath == "" {
		return Config{}, fmt.Errorf("config: storagePath must not be empty")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
