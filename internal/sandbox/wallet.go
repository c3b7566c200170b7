package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Its-donkey/hello-near/internal/near"
	"github.com/Its-donkey/hello-near/internal/wallet"
)

// NetworkID names the sandbox network in configs and cookies.
const NetworkID = "sandbox"

// Options tunes sandbox connectors.
type Options struct {
	// ViewLatency and CallLatency delay every view or call, to make the
	// optimistic UI observable locally.
	ViewLatency time.Duration
	CallLatency time.Duration
}

// Provider opens sandbox connectors on a shared Chain.
type Provider struct {
	chain *Chain
	opts  Options

	mu        sync.Mutex
	failCalls int
	failErr   error
}

// NewProvider returns a provider backed by chain.
func NewProvider(chain *Chain, opts Options) *Provider {
	return &Provider{chain: chain, opts: opts}
}

// Chain exposes the underlying chain.
func (p *Provider) Chain() *Chain {
	return p.chain
}

// NetworkID returns "sandbox".
func (p *Provider) NetworkID() string {
	return NetworkID
}

// FailCalls makes the next n CallMethod invocations fail with err after
// their latency elapses.
func (p *Provider) FailCalls(n int, err error) {
	if err == nil {
		err = errors.New("sandbox: injected call failure")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCalls = n
	p.failErr = err
}

func (p *Provider) takeFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCalls <= 0 {
		return nil
	}
	p.failCalls--
	return p.failErr
}

// Open returns a connector for one browser session.
func (p *Provider) Open(restoreAccount string) wallet.Connector {
	return &Wallet{provider: p, restore: restoreAccount}
}

// Wallet is a wallet.Connector on the sandbox chain. Any well-formed account
// id can sign in; the account is created on first use.
type Wallet struct {
	provider *Provider
	restore  string

	mu       sync.Mutex
	account  string
	onChange func(string)
}

func (w *Wallet) StartUp(ctx context.Context, onAccountChange func(string)) error {
	w.mu.Lock()
	w.onChange = onAccountChange
	restore := w.restore
	w.restore = ""
	w.mu.Unlock()

	account := ""
	if restore != "" {
		exists, err := w.provider.chain.AccountExists(restore)
		if err != nil {
			return err
		}
		if exists {
			account = restore
		}
	}
	w.setAccount(account)
	return nil
}

func (w *Wallet) SignIn(ctx context.Context, accountID string) error {
	if err := near.ValidateAccountID(accountID); err != nil {
		return err
	}
	if err := w.provider.chain.CreateAccount(accountID); err != nil {
		return err
	}
	w.setAccount(accountID)
	return nil
}

func (w *Wallet) SignOut(ctx context.Context) error {
	w.setAccount("")
	return nil
}

func (w *Wallet) setAccount(accountID string) {
	w.mu.Lock()
	w.account = accountID
	cb := w.onChange
	w.mu.Unlock()
	if cb != nil {
		cb(accountID)
	}
}

func (w *Wallet) accountID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account
}

func (w *Wallet) ViewMethod(ctx context.Context, req wallet.ViewRequest) (json.RawMessage, error) {
	if err := sleep(ctx, w.provider.opts.ViewLatency); err != nil {
		return nil, err
	}
	args, err := wallet.EncodeArgs(req.Args)
	if err != nil {
		return nil, err
	}
	out, err := w.provider.chain.View(ctx, req.ContractID, req.Method, args)
	if err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", req.ContractID, req.Method, err)
	}
	return json.RawMessage(out), nil
}

func (w *Wallet) CallMethod(ctx context.Context, req wallet.CallRequest) (wallet.Receipt, error) {
	signer := w.accountID()
	if signer == "" {
		return wallet.Receipt{}, wallet.ErrNotSignedIn
	}
	args, err := wallet.EncodeArgs(req.Args)
	if err != nil {
		return wallet.Receipt{}, err
	}
	if err := sleep(ctx, w.provider.opts.CallLatency); err != nil {
		return wallet.Receipt{}, err
	}
	if err := w.provider.takeFailure(); err != nil {
		return wallet.Receipt{}, err
	}

	res, err := w.provider.chain.Call(ctx, signer, req.ContractID, req.Method, args)
	if err != nil {
		if errors.Is(err, ErrUnknownAccount) {
			return wallet.Receipt{}, fmt.Errorf("%w: %v", wallet.ErrNotSignedIn, err)
		}
		return wallet.Receipt{}, fmt.Errorf("call %s.%s: %w", req.ContractID, req.Method, err)
	}
	receipt := wallet.Receipt{
		TransactionHash: res.Hash,
		SignerID:        signer,
		ReceiverID:      req.ContractID,
		Logs:            res.Logs,
	}
	if len(res.Value) > 0 {
		receipt.Value = json.RawMessage(res.Value)
	}
	return receipt, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
