// Package config loads and normalises hello-near configuration files.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

const (
	defaultAddr      = "127.0.0.1"
	defaultPort      = ":8080"
	defaultNetwork   = NetworkTestnet
	defaultSandboxDB = "data/sandbox.db"
	defaultLogDir    = "data/logs"
	defaultDelayMS   = 300
	defaultTTL       = 1800
	defaultSessions  = 1024
	defaultStrategy  = "reconciled"
	appName          = "Hello NEAR"
)

// Network identifiers.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkSandbox = "sandbox"
)

// Network describes a NEAR network preset.
type Network struct {
	ID         string
	RPCURL     string
	ContractID string
	// ExplorerURL prefixes transaction hashes for links.
	ExplorerURL string
}

var networks = map[string]Network{
	NetworkMainnet: {
		ID:          NetworkMainnet,
		RPCURL:      "https://rpc.mainnet.near.org",
		ContractID:  "hello.near-examples.near",
		ExplorerURL: "https://nearblocks.io/txns/",
	},
	NetworkTestnet: {
		ID:          NetworkTestnet,
		RPCURL:      "https://rpc.testnet.near.org",
		ContractID:  "hello.near-examples.testnet",
		ExplorerURL: "https://testnet.nearblocks.io/txns/",
	},
	NetworkSandbox: {
		ID:         NetworkSandbox,
		ContractID: "hello.sandbox",
	},
}

// LookupNetwork returns the preset for id.
func LookupNetwork(id string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(id))]
	return n, ok
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr"`
	Port string `json:"port"`
}

// NearConfig selects the network and contract the panel talks to.
type NearConfig struct {
	Network        string `json:"network"`
	RPCURL         string `json:"rpc_url"`
	ContractID     string `json:"contract_id"`
	CredentialsDir string `json:"credentials_dir"`
	SandboxDB      string `json:"sandbox_db"`
}

// PanelConfig tunes the optimistic update.
type PanelConfig struct {
	Strategy string `json:"strategy"`
	DelayMS  int    `json:"delay_ms"`
}

// SessionConfig bounds the browser session store.
type SessionConfig struct {
	TTLSeconds  int `json:"ttl_seconds"`
	MaxSessions int `json:"max_sessions"`
}

// AppConfig configures server-rendered templates.
type AppConfig struct {
	Name      string `json:"name"`
	Templates string `json:"templates"`
}

// LogConfig configures the JSON log files.
type LogConfig struct {
	Dir       string `json:"dir"`
	Level     string `json:"level"`
	MaxSizeMB int    `json:"max_size_mb"`
	MaxFiles  int    `json:"max_files"`
}

// Config represents the combined runtime settings parsed from config.json.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Near    NearConfig    `json:"near"`
	Panel   PanelConfig   `json:"panel"`
	Session SessionConfig `json:"session"`
	App     AppConfig     `json:"app"`
	Log     LogConfig     `json:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{
		Server: ServerConfig{Addr: defaultAddr, Port: defaultPort},
		Near: NearConfig{
			Network:   defaultNetwork,
			SandboxDB: defaultSandboxDB,
		},
		Panel:   PanelConfig{Strategy: defaultStrategy, DelayMS: defaultDelayMS},
		Session: SessionConfig{TTLSeconds: defaultTTL, MaxSessions: defaultSessions},
		App:     AppConfig{Name: appName},
		Log:     LogConfig{Dir: defaultLogDir, Level: "info"},
	}
	cfg.Normalise()
	return cfg
}

// Load reads the JSON config at the given path on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	// Network presets are resolved after decoding so a file that only names
	// a network still picks up that network's endpoint and contract.
	cfg.Near.RPCURL = ""
	cfg.Near.ContractID = ""
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalise fills empty fields from defaults and the network preset.
func (c *Config) Normalise() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.Port == "" {
		c.Server.Port = defaultPort
	}
	if c.Server.Port[0] != ':' {
		c.Server.Port = ":" + c.Server.Port
	}

	c.Near.Network = strings.ToLower(strings.TrimSpace(c.Near.Network))
	if c.Near.Network == "" {
		c.Near.Network = defaultNetwork
	}
	if preset, ok := networks[c.Near.Network]; ok {
		if c.Near.RPCURL == "" {
			c.Near.RPCURL = preset.RPCURL
		}
		if c.Near.ContractID == "" {
			c.Near.ContractID = preset.ContractID
		}
	}
	if c.Near.SandboxDB == "" {
		c.Near.SandboxDB = defaultSandboxDB
	}

	if c.Panel.Strategy == "" {
		c.Panel.Strategy = defaultStrategy
	}
	if c.Panel.DelayMS <= 0 {
		c.Panel.DelayMS = defaultDelayMS
	}
	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = defaultTTL
	}
	if c.Session.MaxSessions <= 0 {
		c.Session.MaxSessions = defaultSessions
	}
	if c.App.Name == "" {
		c.App.Name = appName
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	if _, ok := networks[c.Near.Network]; !ok {
		return fmt.Errorf("unknown network %q", c.Near.Network)
	}
	if c.Near.ContractID == "" {
		return fmt.Errorf("contract_id is required")
	}
	if c.Near.Network != NetworkSandbox && c.Near.RPCURL == "" {
		return fmt.Errorf("rpc_url is required for %s", c.Near.Network)
	}
	switch strings.ToLower(c.Panel.Strategy) {
	case "legacy", "reconciled":
	default:
		return fmt.Errorf("unknown strategy %q", c.Panel.Strategy)
	}
	return nil
}

// Listen returns the host:port the server binds.
func (c ServerConfig) Listen() string {
	return net.JoinHostPort(c.Addr, strings.TrimPrefix(c.Port, ":"))
}

// Delay is the optimistic display window.
func (c PanelConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// TTL is how long an idle browser session is kept.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Preset returns the network preset for the configured network.
func (c NearConfig) Preset() Network {
	return networks[c.Network]
}
