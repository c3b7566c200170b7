package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/Its-donkey/hello-near/internal/app"
	"github.com/Its-donkey/hello-near/internal/config"
	"github.com/Its-donkey/hello-near/internal/near"
	"github.com/Its-donkey/hello-near/internal/panel"
	"github.com/Its-donkey/hello-near/internal/sandbox"
	"github.com/Its-donkey/hello-near/internal/wallet"
	"github.com/Its-donkey/hello-near/logging"
)

var (
	ConfigFlag = cli.StringFlag{
		Name:  "config,c",
		Usage: "Load settings from `<file>` when it exists",
		Value: "config.json",
	}
	NetworkFlag = cli.StringFlag{
		Name:   "network,n",
		Usage:  "Target `<network>`: mainnet, testnet or sandbox",
		EnvVar: "NEAR_NETWORK",
	}
	RPCFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "NEAR RPC `<url>` (defaults to the network preset)",
	}
	ContractFlag = cli.StringFlag{
		Name:  "contract",
		Usage: "Greeting contract `<account>`",
	}
	CredentialsFlag = cli.StringFlag{
		Name:  "credentials",
		Usage: "near-cli credentials `<dir>`",
	}
	SandboxDBFlag = cli.StringFlag{
		Name:  "sandbox-db",
		Usage: "sqlite `<file>` backing the sandbox network",
	}
	LogLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "Log `<level>` written to stderr",
		Value: "warn",
	}
	AccountFlag = cli.StringFlag{
		Name:   "account,a",
		Usage:  "Sign as `<account>`",
		EnvVar: "NEAR_ACCOUNT",
	}
	LimitFlag = cli.IntFlag{
		Name:  "limit",
		Usage: "Show at most `<n>` transactions",
		Value: 10,
	}
)

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "greetingctl"
	a.Usage = "read and update the hello-near greeting contract"
	a.Flags = []cli.Flag{
		ConfigFlag,
		NetworkFlag,
		RPCFlag,
		ContractFlag,
		CredentialsFlag,
		SandboxDBFlag,
		LogLevelFlag,
	}
	a.Commands = []cli.Command{
		{
			Name:   "view",
			Usage:  "Print the stored greeting",
			Action: viewGreeting,
		},
		{
			Name:      "set",
			Usage:     "Store a new greeting and print the confirmed value",
			ArgsUsage: "<greeting>",
			Action:    setGreeting,
			Flags:     []cli.Flag{AccountFlag},
		},
		{
			Name:   "accounts",
			Usage:  "List accounts with keys in the credentials directory",
			Action: listAccounts,
		},
		{
			Name:      "keygen",
			Usage:     "Generate an ed25519 key for an account and save it as near-cli credentials",
			ArgsUsage: "<account>",
			Action:    generateKey,
		},
		{
			Name:   "history",
			Usage:  "Show recent sandbox transactions",
			Action: showHistory,
			Flags:  []cli.Flag{LimitFlag},
		},
	}
	return a
}

func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.Load(path)
			if err != nil {
				return config.Config{}, err
			}
			cfg = loaded
		}
	}
	if network := c.GlobalString("network"); network != "" && network != cfg.Near.Network {
		cfg.Near.Network = network
		cfg.Near.RPCURL = ""
		cfg.Near.ContractID = ""
	}
	if v := c.GlobalString("rpc"); v != "" {
		cfg.Near.RPCURL = v
	}
	if v := c.GlobalString("contract"); v != "" {
		cfg.Near.ContractID = v
	}
	if v := c.GlobalString("credentials"); v != "" {
		cfg.Near.CredentialsDir = v
	}
	if v := c.GlobalString("sandbox-db"); v != "" {
		cfg.Near.SandboxDB = v
	}
	cfg.Log = config.LogConfig{Level: c.GlobalString("log-level")}
	cfg.Normalise()
	return cfg, cfg.Validate()
}

type env struct {
	cfg      config.Config
	out      io.Writer
	logger   *logging.Logger
	provider wallet.Provider
	close    func() error
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, err
	}
	logger, _, err := app.ConfigureLogging("greetingctl", cfg.Log, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	provider, closeProvider, err := app.OpenProvider(cfg.Near, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, out: c.App.Writer, logger: logger, provider: provider, close: closeProvider}, nil
}

func (e *env) newPanel() *panel.Panel {
	strategy, _ := panel.ParseStrategy(e.cfg.Panel.Strategy)
	if strategy == panel.Legacy {
		// A one-shot command has no later read to fix a stale value.
		strategy = panel.Reconciled
	}
	return panel.New(e.provider.Open(""), panel.Options{
		ContractID: e.cfg.Near.ContractID,
		Delay:      e.cfg.Panel.Delay(),
		Strategy:   strategy,
		Logger:     e.logger,
	})
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func viewGreeting(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := commandContext()
	defer cancel()
	p := e.newPanel()
	defer p.Close()
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-p.Loaded()
	snap := p.Snapshot()
	if snap.ErrorKind != "" {
		return errors.New(snap.Error)
	}
	fmt.Fprintln(e.out, snap.Greeting)
	return nil
}

func setGreeting(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("set expects exactly one greeting argument")
	}
	account := strings.TrimSpace(c.String("account"))
	if account == "" {
		return errors.New("--account is required")
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := commandContext()
	defer cancel()
	p := e.newPanel()
	defer p.Close()
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-p.Loaded()
	if err := p.SignIn(ctx, account); err != nil {
		return fmt.Errorf("sign in as %s: %w", account, err)
	}

	out, err := p.Submit(ctx, c.Args().First())
	if err != nil {
		return err
	}
	if out.Receipt != nil {
		fmt.Fprintf(e.out, "transaction %s\n", out.Receipt.TransactionHash)
		for _, line := range out.Receipt.Logs {
			fmt.Fprintf(e.out, "log: %s\n", line)
		}
	}
	fmt.Fprintln(e.out, out.Greeting)
	return nil
}

func listAccounts(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	if cfg.Near.Network == config.NetworkSandbox {
		return errors.New("the sandbox accepts any account id; there is no key store to list")
	}
	accounts, err := credentials(cfg).Accounts(cfg.Near.Network)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		fmt.Fprintln(c.App.Writer, account)
	}
	return nil
}

func generateKey(c *cli.Context) error {
	account := strings.TrimSpace(c.Args().First())
	if err := near.ValidateAccountID(account); err != nil {
		return err
	}
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	store := credentials(cfg)
	if _, err := store.GetKey(cfg.Near.Network, account); err == nil {
		return fmt.Errorf("a key for %s already exists", account)
	} else if !errors.Is(err, near.ErrKeyNotFound) {
		return err
	}
	kp, err := near.GenerateKeyPair(rand.Reader)
	if err != nil {
		return err
	}
	if err := store.Save(cfg.Near.Network, account, kp); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, kp.Public.String())
	return nil
}

func showHistory(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	sp, ok := e.provider.(*sandbox.Provider)
	if !ok {
		return errors.New("history is only recorded on the sandbox network")
	}
	txs, err := sp.Chain().Transactions(c.Int("limit"))
	if err != nil {
		return err
	}
	for _, tx := range txs {
		line := fmt.Sprintf("%d %s %s %s.%s %s", tx.Height, tx.Hash, tx.Signer, tx.Receiver, tx.Method, tx.Status)
		if tx.Error != "" {
			line += " " + tx.Error
		}
		fmt.Fprintln(e.out, line)
	}
	return nil
}

func credentials(cfg config.Config) near.FileKeyStore {
	dir := cfg.Near.CredentialsDir
	if dir == "" {
		dir = near.DefaultCredentialsDir()
	}
	return near.FileKeyStore{Dir: dir}
}
