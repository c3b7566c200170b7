// Package app wires configuration into the logger and wallet provider
// shared by the hello-near binaries.
package app

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Its-donkey/hello-near/internal/config"
	"github.com/Its-donkey/hello-near/internal/near"
	"github.com/Its-donkey/hello-near/internal/sandbox"
	"github.com/Its-donkey/hello-near/internal/wallet"
	"github.com/Its-donkey/hello-near/logging"
)

const rpcTimeout = 15 * time.Second

// ConfigureLogging builds a logger writing to stdout and, when cfg.Dir is
// set, to a rotating <service>.json file. closer flushes the file.
func ConfigureLogging(service string, cfg config.LogConfig, stdout io.Writer) (logger *logging.Logger, closer func() error, err error) {
	level, ok := logging.ParseLevel(cfg.Level)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using %s\n", cfg.Level, level)
	}
	writers := []io.Writer{}
	if stdout != nil {
		writers = append(writers, stdout)
	}
	closer = func() error { return nil }
	if cfg.Dir != "" {
		fw, err := logging.NewFileWriter(cfg.Dir, service+".json", cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, fw)
		closer = fw.Close
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	return logging.New(service, level, writers...), closer, nil
}

// OpenProvider returns the wallet provider for the configured network. For
// the sandbox network it opens the chain database and deploys the greeting
// contract at cfg.ContractID.
func OpenProvider(cfg config.NearConfig, logger *logging.Logger) (provider wallet.Provider, closer func() error, err error) {
	if cfg.Network == config.NetworkSandbox {
		if dir := filepath.Dir(cfg.SandboxDB); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sandbox dir: %w", err)
			}
		}
		chain, err := sandbox.Open(cfg.SandboxDB, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := chain.Deploy(cfg.ContractID, sandbox.HelloContract{}); err != nil {
			chain.Close()
			return nil, nil, err
		}
		return sandbox.NewProvider(chain, sandbox.Options{}), chain.Close, nil
	}

	if cfg.RPCURL == "" {
		return nil, nil, fmt.Errorf("no rpc url for network %s", cfg.Network)
	}
	dir := cfg.CredentialsDir
	if dir == "" {
		dir = near.DefaultCredentialsDir()
	}
	client := near.NewClient(cfg.RPCURL,
		near.WithHTTPClient(&http.Client{Timeout: rpcTimeout}),
		near.WithLogger(logger),
	)
	provider = wallet.NewNearProvider(wallet.NearConfig{
		NetworkID: cfg.Network,
		Client:    client,
		Keys:      near.FileKeyStore{Dir: dir},
		Logger:    logger,
	})
	return provider, func() error { return nil }, nil
}
