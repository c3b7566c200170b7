package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	f, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(f)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Near.Network != "testnet" || cfg.Near.ContractID != "hello.near-examples.testnet" {
		t.Fatalf("unexpected defaults: %+v", cfg.Near)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"near":{"network":"testnet","contract_id":"mine.testnet"},"panel":{"strategy":"legacy"}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	f, err := parseFlags([]string{
		"-config", path,
		"-network", "sandbox",
		"-delay", "150ms",
		"-strategy", "reconciled",
		"-session-ttl", "2m",
	})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(f)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Near.Network != "sandbox" || cfg.Near.ContractID != "hello.sandbox" {
		t.Fatalf("network switch should reset the contract: %+v", cfg.Near)
	}
	if cfg.Panel.Strategy != "reconciled" || cfg.Panel.Delay() != 150*time.Millisecond {
		t.Fatalf("panel flags not applied: %+v", cfg.Panel)
	}
	if cfg.Session.TTL() != 2*time.Minute {
		t.Fatalf("session ttl not applied: %s", cfg.Session.TTL())
	}
}

func TestLoadConfigRejectsUnknownNetwork(t *testing.T) {
	f, err := parseFlags([]string{"-config", "", "-network", "betanet"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(f); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}
