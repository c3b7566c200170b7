package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen() != "127.0.0.1:8080" {
		t.Fatalf("expected default listen address, got %s", cfg.Server.Listen())
	}
	if cfg.Near.Network != NetworkTestnet {
		t.Fatalf("expected testnet, got %s", cfg.Near.Network)
	}
	if cfg.Near.ContractID != "hello.near-examples.testnet" {
		t.Fatalf("expected testnet contract, got %s", cfg.Near.ContractID)
	}
	if cfg.Near.RPCURL != "https://rpc.testnet.near.org" {
		t.Fatalf("expected testnet rpc, got %s", cfg.Near.RPCURL)
	}
	if cfg.Panel.Delay() != 300*time.Millisecond {
		t.Fatalf("expected 300ms delay, got %s", cfg.Panel.Delay())
	}
	if cfg.Session.TTL() != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.Session.TTL())
	}
}

func TestLoadResolvesNetworkPreset(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"near":{"network":"Mainnet"}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Near.RPCURL != "https://rpc.mainnet.near.org" {
		t.Fatalf("expected mainnet rpc, got %s", cfg.Near.RPCURL)
	}
	if cfg.Near.ContractID != "hello.near-examples.near" {
		t.Fatalf("expected mainnet contract, got %s", cfg.Near.ContractID)
	}
}

func TestLoadHonoursOverrides(t *testing.T) {
	data := `{
		"server": {"addr":"0.0.0.0","port":"9999"},
		"near": {"network":"sandbox","contract_id":"greeter.sandbox","sandbox_db":"/tmp/x.db"},
		"panel": {"strategy":"legacy","delay_ms":50},
		"session": {"ttl_seconds":60,"max_sessions":3},
		"log": {"dir":"/var/log/hello","level":"debug"}
	}`
	cfg, err := Load(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen() != "0.0.0.0:9999" {
		t.Fatalf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Near.ContractID != "greeter.sandbox" || cfg.Near.SandboxDB != "/tmp/x.db" {
		t.Fatalf("near overrides not applied: %+v", cfg.Near)
	}
	if cfg.Panel.Strategy != "legacy" || cfg.Panel.Delay() != 50*time.Millisecond {
		t.Fatalf("panel overrides not applied: %+v", cfg.Panel)
	}
	if cfg.Session.MaxSessions != 3 || cfg.Session.TTL() != time.Minute {
		t.Fatalf("session overrides not applied: %+v", cfg.Session)
	}
	if cfg.Log.Dir != "/var/log/hello" || cfg.Log.Level != "debug" {
		t.Fatalf("log overrides not applied: %+v", cfg.Log)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"network":  `{"near":{"network":"betanet"}}`,
		"strategy": `{"panel":{"strategy":"eventual"}}`,
		"json":     `{"near":`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLookupNetwork(t *testing.T) {
	n, ok := LookupNetwork(" TESTNET ")
	if !ok || n.ID != NetworkTestnet {
		t.Fatalf("expected testnet preset, got %+v %v", n, ok)
	}
	if _, ok := LookupNetwork("localnet"); ok {
		t.Fatalf("unexpected preset for localnet")
	}
}
