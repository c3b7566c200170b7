package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Its-donkey/hello-near/internal/app"
	"github.com/Its-donkey/hello-near/internal/config"
	"github.com/Its-donkey/hello-near/internal/panel"
	"github.com/Its-donkey/hello-near/internal/server"
	"github.com/Its-donkey/hello-near/internal/session"
)

type flags struct {
	configPath     string
	listen         string
	network        string
	rpcURL         string
	contractID     string
	credentialsDir string
	sandboxDB      string
	delay          time.Duration
	strategy       string
	sessionTTL     time.Duration
	templatesDir   string
	assetsDir      string
	logDir         string
	logLevel       string
	secureCookies  bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("hello-near", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.json", "path to server configuration (optional)")
	fs.StringVar(&f.listen, "listen", "", "address to serve on (defaults to config.json server.addr+port)")
	fs.StringVar(&f.network, "network", "", "mainnet, testnet or sandbox")
	fs.StringVar(&f.rpcURL, "rpc", "", "NEAR RPC endpoint (defaults to the network preset)")
	fs.StringVar(&f.contractID, "contract", "", "greeting contract account id")
	fs.StringVar(&f.credentialsDir, "credentials", "", "near-cli credentials directory")
	fs.StringVar(&f.sandboxDB, "sandbox-db", "", "sqlite file for the sandbox network")
	fs.DurationVar(&f.delay, "delay", 0, "optimistic display window")
	fs.StringVar(&f.strategy, "strategy", "", "submission strategy: reconciled or legacy")
	fs.DurationVar(&f.sessionTTL, "session-ttl", 0, "idle browser session lifetime")
	fs.StringVar(&f.templatesDir, "templates", "", "directory overriding the embedded templates")
	fs.StringVar(&f.assetsDir, "assets", "", "directory overriding the embedded styles.css")
	fs.StringVar(&f.logDir, "logs", "", "directory for JSON log files")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.secureCookies, "secure-cookies", false, "mark cookies Secure (serve behind TLS)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

// loadConfig reads configPath when it exists and layers flag overrides on
// top.
func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		if _, err := os.Stat(f.configPath); err == nil {
			loaded, err := config.Load(f.configPath)
			if err != nil {
				return config.Config{}, err
			}
			cfg = loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("stat config: %w", err)
		}
	}

	if f.network != "" && f.network != cfg.Near.Network {
		cfg.Near.Network = f.network
		// Switching network drops the previous network's preset values.
		cfg.Near.RPCURL = ""
		cfg.Near.ContractID = ""
	}
	if f.rpcURL != "" {
		cfg.Near.RPCURL = f.rpcURL
	}
	if f.contractID != "" {
		cfg.Near.ContractID = f.contractID
	}
	if f.credentialsDir != "" {
		cfg.Near.CredentialsDir = f.credentialsDir
	}
	if f.sandboxDB != "" {
		cfg.Near.SandboxDB = f.sandboxDB
	}
	if f.delay > 0 {
		cfg.Panel.DelayMS = int(f.delay / time.Millisecond)
	}
	if f.strategy != "" {
		cfg.Panel.Strategy = f.strategy
	}
	if f.sessionTTL > 0 {
		cfg.Session.TTLSeconds = int(f.sessionTTL / time.Second)
	}
	if f.templatesDir != "" {
		cfg.App.Templates = f.templatesDir
	}
	if f.logDir != "" {
		cfg.Log.Dir = f.logDir
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	cfg.Normalise()
	return cfg, cfg.Validate()
}

func run(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := app.ConfigureLogging("hello-near", cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	provider, closeProvider, err := app.OpenProvider(cfg.Near, logger)
	if err != nil {
		return fmt.Errorf("open wallet provider: %w", err)
	}
	defer closeProvider()

	strategy, err := panel.ParseStrategy(cfg.Panel.Strategy)
	if err != nil {
		return err
	}
	store := session.NewStore(provider, session.Options{
		Size: cfg.Session.MaxSessions,
		TTL:  cfg.Session.TTL(),
		Panel: panel.Options{
			ContractID: cfg.Near.ContractID,
			Delay:      cfg.Panel.Delay(),
			Strategy:   strategy,
			Logger:     logger,
		},
		Logger: logger,
	})

	listen := f.listen
	if listen == "" {
		listen = cfg.Server.Listen()
	}
	return server.Run(ctx, server.Options{
		Listen:        listen,
		AppName:       cfg.App.Name,
		Network:       cfg.Near.Preset(),
		ContractID:    cfg.Near.ContractID,
		Sessions:      store,
		TemplatesDir:  cfg.App.Templates,
		AssetsDir:     f.assetsDir,
		SecureCookies: f.secureCookies,
		Logger:        logger,
	})
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		// If a second signal arrives, force exit immediately.
		<-sigCh
		log.Println("second interrupt received, forcing shutdown")
		os.Exit(1)
	}()
	defer func() {
		signal.Stop(sigCh)
		cancel()
	}()

	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}
