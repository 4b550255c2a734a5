// Package config loads the orchestrator's environment-derived
// configuration (spec.md §6 "Configuration"), following the teacher's
// envOrDefault/envBool/envDuration pattern from cmd/nbi-server/main.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Controller holds CONTROLLER_* settings.
type Controller struct {
	DecoyMAC string
	DecoyIP  string
	OFPPort  int
	Verbose  bool
}

// Network holds NETWORK_* settings.
type Network struct {
	Address    string
	STPEnabled bool
}

// Orchestrator holds ORCHESTRATOR_* settings.
type Orchestrator struct {
	APIPort       int
	UDPPort       int
	UDPTimeout    time.Duration
	Paths         bool
	NodeAlgorithm string
	PathAlgorithm string
	PathWeight    string
	RecordDir     string
}

// Protocol holds PROTOCOL_* settings.
type Protocol struct {
	SendTo  string
	Timeout time.Duration
	Retries int
}

// Monitor holds MONITOR_* settings.
type Monitor struct {
	Period  time.Duration
	Samples int
}

// Config is the orchestrator's full environment-derived configuration.
type Config struct {
	Controller   Controller
	Network      Network
	Orchestrator Orchestrator
	Protocol     Protocol
	Monitor      Monitor

	// Warnings accumulates non-fatal configuration adjustments (e.g. a
	// downgraded PROTOCOL_SEND_TO) for the caller to log.
	Warnings []string
}

// Send-to modes for PROTOCOL_SEND_TO.
const (
	SendToNone         = "NONE"
	SendToBroadcast    = "BROADCAST"
	SendToOrchestrator = "ORCHESTRATOR"
)

// Load reads Config from the process environment, applying the documented
// defaults. It returns an error if a hard requirement (DECOY_MAC, DECOY_IP,
// NETWORK_ADDRESS) is missing — cmd/orchestrator treats that as a fatal
// startup error (spec.md §7).
func Load() (*Config, error) {
	cfg := &Config{
		Controller: Controller{
			DecoyMAC: envOrDefault("CONTROLLER_DECOY_MAC", ""),
			DecoyIP:  envOrDefault("CONTROLLER_DECOY_IP", ""),
			OFPPort:  envInt("CONTROLLER_OFP_PORT", 6633),
			Verbose:  envBool("CONTROLLER_VERBOSE", false),
		},
		Network: Network{
			Address:    envOrDefault("NETWORK_ADDRESS", ""),
			STPEnabled: envBool("NETWORK_STP_ENABLED", false),
		},
		Orchestrator: Orchestrator{
			APIPort:       envInt("ORCHESTRATOR_API_PORT", 8080),
			UDPPort:       envInt("ORCHESTRATOR_UDP_PORT", 7070),
			UDPTimeout:    envDuration("ORCHESTRATOR_UDP_TIMEOUT", 3*time.Second),
			Paths:         envBool("ORCHESTRATOR_PATHS", false),
			NodeAlgorithm: envOrDefault("ORCHESTRATOR_NODE_ALGORITHM", "SIMPLE"),
			PathAlgorithm: envOrDefault("ORCHESTRATOR_PATH_ALGORITHM", "DIJKSTRA"),
			PathWeight:    envOrDefault("ORCHESTRATOR_PATH_WEIGHT", "HOP"),
			RecordDir:     envOrDefault("ORCHESTRATOR_RECORD_DIR", ""),
		},
		Protocol: Protocol{
			SendTo:  envOrDefault("PROTOCOL_SEND_TO", SendToNone),
			Timeout: envDuration("PROTOCOL_TIMEOUT", time.Second),
			Retries: envInt("PROTOCOL_RETRIES", 3),
		},
		Monitor: Monitor{
			Period:  envDuration("MONITOR_PERIOD", time.Second),
			Samples: envInt("MONITOR_SAMPLES", 2),
		},
	}

	if cfg.Controller.DecoyMAC == "" {
		return nil, fmt.Errorf("config: CONTROLLER_DECOY_MAC is required")
	}
	if cfg.Controller.DecoyIP == "" {
		return nil, fmt.Errorf("config: CONTROLLER_DECOY_IP is required")
	}
	if cfg.Network.Address == "" {
		return nil, fmt.Errorf("config: NETWORK_ADDRESS is required")
	}
	if cfg.Protocol.SendTo == SendToBroadcast && !cfg.Network.STPEnabled {
		cfg.Protocol.SendTo = SendToNone
		cfg.Warnings = append(cfg.Warnings, "PROTOCOL_SEND_TO=BROADCAST requires NETWORK_STP_ENABLED=true; downgraded to NONE")
	}
	if cfg.Monitor.Samples < 2 {
		cfg.Monitor.Samples = 2
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
