package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONTROLLER_DECOY_MAC", "CONTROLLER_DECOY_IP", "CONTROLLER_OFP_PORT",
		"CONTROLLER_VERBOSE", "NETWORK_ADDRESS", "NETWORK_STP_ENABLED",
		"ORCHESTRATOR_API_PORT", "ORCHESTRATOR_UDP_PORT", "ORCHESTRATOR_UDP_TIMEOUT",
		"ORCHESTRATOR_PATHS", "ORCHESTRATOR_NODE_ALGORITHM", "ORCHESTRATOR_PATH_ALGORITHM",
		"ORCHESTRATOR_PATH_WEIGHT", "PROTOCOL_SEND_TO", "PROTOCOL_TIMEOUT",
		"PROTOCOL_RETRIES", "MONITOR_PERIOD", "MONITOR_SAMPLES",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadRequiresDecoyMACAndIPAndNetworkAddress(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when CONTROLLER_DECOY_MAC/IP and NETWORK_ADDRESS are unset")
	}

	clearEnv(t)
	os.Setenv("CONTROLLER_DECOY_MAC", "aa:aa:aa:aa:aa:aa")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DECOY_IP and NETWORK_ADDRESS are still unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONTROLLER_DECOY_MAC", "aa:aa:aa:aa:aa:aa")
	os.Setenv("CONTROLLER_DECOY_IP", "10.0.0.1")
	os.Setenv("NETWORK_ADDRESS", "10.0.0.0/24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.APIPort != 8080 {
		t.Fatalf("APIPort = %d, want 8080", cfg.Orchestrator.APIPort)
	}
	if cfg.Orchestrator.NodeAlgorithm != "SIMPLE" {
		t.Fatalf("NodeAlgorithm = %q, want SIMPLE", cfg.Orchestrator.NodeAlgorithm)
	}
	if cfg.Monitor.Samples != 2 {
		t.Fatalf("Monitor.Samples = %d, want 2 (clamped minimum)", cfg.Monitor.Samples)
	}
	if cfg.Protocol.Timeout != time.Second {
		t.Fatalf("Protocol.Timeout = %v, want 1s", cfg.Protocol.Timeout)
	}
}

func TestLoadDowngradesBroadcastSendToWithoutSTP(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONTROLLER_DECOY_MAC", "aa:aa:aa:aa:aa:aa")
	os.Setenv("CONTROLLER_DECOY_IP", "10.0.0.1")
	os.Setenv("NETWORK_ADDRESS", "10.0.0.0/24")
	os.Setenv("PROTOCOL_SEND_TO", SendToBroadcast)
	os.Setenv("NETWORK_STP_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Protocol.SendTo != SendToNone {
		t.Fatalf("Protocol.SendTo = %q, want NONE (downgraded)", cfg.Protocol.SendTo)
	}
	if len(cfg.Warnings) != 1 {
		t.Fatalf("expected one warning about the downgrade, got %v", cfg.Warnings)
	}
}

func TestLoadKeepsBroadcastSendToWithSTP(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONTROLLER_DECOY_MAC", "aa:aa:aa:aa:aa:aa")
	os.Setenv("CONTROLLER_DECOY_IP", "10.0.0.1")
	os.Setenv("NETWORK_ADDRESS", "10.0.0.0/24")
	os.Setenv("PROTOCOL_SEND_TO", SendToBroadcast)
	os.Setenv("NETWORK_STP_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Protocol.SendTo != SendToBroadcast {
		t.Fatalf("Protocol.SendTo = %q, want BROADCAST", cfg.Protocol.SendTo)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", cfg.Warnings)
	}
}
