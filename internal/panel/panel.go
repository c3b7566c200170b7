// Package panel holds the greeting panel state machine: it restores the
// wallet session, reads the stored greeting and runs optimistic updates
// against the hello-near contract.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Its-donkey/hello-near/internal/wallet"
	"github.com/Its-donkey/hello-near/logging"
)

const (
	// LoadingGreeting is displayed until the first read succeeds.
	LoadingGreeting = "loading..."
	// DefaultDelay is how long a submitted greeting is shown with the spinner.
	DefaultDelay = 300 * time.Millisecond

	MethodGetGreeting = "get_greeting"
	MethodSetGreeting = "set_greeting"
)

// Snapshot is a copy of the panel state handed to renderers.
type Snapshot struct {
	AccountID  string      `json:"accountId"`
	LoggedIn   bool        `json:"loggedIn"`
	Greeting   string      `json:"greeting"`
	Confirmed  string      `json:"confirmed"`
	Pending    string      `json:"pending"`
	Spinner    bool        `json:"spinner"`
	Confirming bool        `json:"confirming"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  FailureKind `json:"errorKind,omitempty"`
	Generation uint64      `json:"generation"`
	// Version increases with every published change.
	Version    uint64      `json:"version"`
}

// Outcome reports how a submission settled.
type Outcome struct {
	Generation uint64          `json:"generation"`
	Greeting   string          `json:"greeting"`
	Confirmed  bool            `json:"confirmed"`
	Superseded bool            `json:"superseded"`
	Receipt    *wallet.Receipt `json:"receipt,omitempty"`
	Err        error           `json:"-"`
}

// Options configures a Panel.
type Options struct {
	ContractID string
	Delay      time.Duration
	Strategy   Strategy
	// After replaces time.After, mainly so tests can drive the delay.
	After  func(time.Duration) <-chan time.Time
	Logger *logging.Logger
}

// Panel is the per-session greeting state. All methods are safe for
// concurrent use.
type Panel struct {
	conn   wallet.Connector
	opts   Options
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	closed       bool
	account      string
	greeting     string
	confirmed    string
	confirmedGen uint64
	hasConfirmed bool
	pending      string
	spinner      bool
	confirming   bool
	failure      *Failure
	generation   uint64
	version      uint64
	subscribers  []chan<- Snapshot

	// pubMu orders deliveries so subscribers never see an older snapshot
	// after a newer one.
	pubMu sync.Mutex

	loaded     chan struct{}
	loadedOnce sync.Once
}

// New builds a panel around conn. Nothing is read until Start.
func New(conn wallet.Connector, opts Options) *Panel {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.After == nil {
		opts.After = time.After
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Panel{
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		greeting: LoadingGreeting,
		loaded:   make(chan struct{}),
	}
}

// Strategy reports the configured reconciliation strategy.
func (p *Panel) Strategy() Strategy {
	return p.opts.Strategy
}

// Start restores the wallet session and issues the initial greeting read.
// Both happen once; later calls are no-ops.
func (p *Panel) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	startErr := p.conn.StartUp(ctx, p.setAccount)
	if startErr != nil {
		p.logger.Error(logging.CategoryPanel, "wallet start up failed", startErr, nil)
	}

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		defer p.markLoaded()
		p.initialRead(p.ctx)
	}()
	return startErr
}

// Loaded is closed once the initial read has settled, successfully or not.
func (p *Panel) Loaded() <-chan struct{} {
	return p.loaded
}

func (p *Panel) markLoaded() {
	p.loadedOnce.Do(func() { close(p.loaded) })
}

func (p *Panel) initialRead(ctx context.Context) {
	greeting, err := p.readGreeting(ctx)
	if err != nil && p.opts.Strategy == Reconciled && ctx.Err() == nil {
		p.logger.Warn(logging.CategoryPanel, "initial greeting read failed, retrying", map[string]any{"error": err.Error()})
		greeting, err = p.readGreeting(ctx)
	}

	p.mu.Lock()
	if err != nil {
		if p.opts.Strategy == Reconciled {
			p.failure = &Failure{Kind: ReadFailure, Err: err}
		}
		p.mu.Unlock()
		p.logger.Error(logging.CategoryPanel, "initial greeting read failed", err, map[string]any{"contract": p.opts.ContractID})
		p.publish()
		return
	}
	// A submission started before the read returned owns the display until
	// it settles. A rollback with nothing confirmed leaves the sentinel, which
	// the read replaces.
	if p.opts.Strategy == Legacy || p.generation == 0 ||
		(!p.confirming && p.confirmedGen == 0 && p.greeting == LoadingGreeting) {
		p.greeting = greeting
	}
	if p.confirmedGen == 0 {
		p.confirmed = greeting
		p.hasConfirmed = true
	}
	p.mu.Unlock()
	p.logger.Debug(logging.CategoryPanel, "initial greeting loaded", map[string]any{"greeting": greeting})
	p.publish()
}

// setAccount is the connector's account-change callback.
func (p *Panel) setAccount(accountID string) {
	p.mu.Lock()
	p.account = accountID
	if accountID != "" && p.failure != nil && p.failure.Kind == SessionExpired {
		p.failure = nil
	}
	p.mu.Unlock()
	p.publish()
}

// LoggedIn reports whether an account is signed in.
func (p *Panel) LoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account != ""
}

// SetPending records the user's unsubmitted input.
func (p *Panel) SetPending(greeting string) {
	p.mu.Lock()
	p.pending = greeting
	p.mu.Unlock()
	p.publish()
}

// ClearError dismisses the surfaced failure.
func (p *Panel) ClearError() {
	p.mu.Lock()
	p.failure = nil
	p.mu.Unlock()
	p.publish()
}

// SignIn asks the connector to sign accountID in. The panel learns about the
// new account through the callback registered at Start.
func (p *Panel) SignIn(ctx context.Context, accountID string) error {
	return p.conn.SignIn(ctx, accountID)
}

// SignOut signs the current account out.
func (p *Panel) SignOut(ctx context.Context) error {
	return p.conn.SignOut(ctx)
}

// Refresh re-reads the greeting from the contract and records it as
// confirmed. While a reconciled submission is awaiting confirmation the
// display is left alone.
func (p *Panel) Refresh(ctx context.Context) (string, error) {
	greeting, err := p.readGreeting(ctx)
	p.mu.Lock()
	if err != nil {
		if p.opts.Strategy == Reconciled {
			p.failure = &Failure{Kind: ReadFailure, Err: err}
		}
		p.mu.Unlock()
		p.publish()
		return "", &Failure{Kind: ReadFailure, Err: err}
	}
	if p.opts.Strategy == Legacy || !p.confirming {
		p.greeting = greeting
		p.confirmed = greeting
		p.confirmedGen = p.generation
		p.hasConfirmed = true
		if p.failure != nil && p.failure.Kind == ReadFailure {
			p.failure = nil
		}
	}
	p.mu.Unlock()
	p.publish()
	return greeting, nil
}

// Submit runs the optimistic update for pending under the configured
// strategy.
func (p *Panel) Submit(ctx context.Context, pending string) (Outcome, error) {
	if p.opts.Strategy == Legacy {
		return p.submitLegacy(ctx, pending)
	}
	return p.submitReconciled(ctx, pending)
}

// begin shows pending with the spinner and returns the new generation.
func (p *Panel) begin(pending string, confirming bool) uint64 {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.pending = pending
	p.greeting = pending
	p.spinner = true
	p.confirming = confirming
	if confirming {
		p.failure = nil
	}
	p.mu.Unlock()
	p.publish()
	return gen
}

func (p *Panel) submitLegacy(ctx context.Context, pending string) (Outcome, error) {
	gen := p.begin(pending, false)

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		if _, err := p.write(p.ctx, pending); err != nil {
			p.logger.Error(logging.CategoryPanel, "set_greeting failed", err, map[string]any{"generation": gen})
			return
		}
		greeting, err := p.readGreeting(p.ctx)
		if err != nil {
			p.logger.Error(logging.CategoryPanel, "confirmation read failed", err, map[string]any{"generation": gen})
			return
		}
		p.mu.Lock()
		p.greeting = greeting
		p.confirmed = greeting
		p.hasConfirmed = true
		p.mu.Unlock()
		p.publish()
	}()

	var waitErr error
	select {
	case <-p.opts.After(p.opts.Delay):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	p.mu.Lock()
	p.greeting = pending
	p.spinner = false
	p.mu.Unlock()
	p.publish()

	return Outcome{Generation: gen, Greeting: pending, Err: waitErr}, waitErr
}

type writeResult struct {
	receipt  wallet.Receipt
	greeting string
	writeErr error
	readErr  error
}

func (p *Panel) submitReconciled(ctx context.Context, pending string) (Outcome, error) {
	gen := p.begin(pending, true)

	done := make(chan writeResult, 1)
	go func() {
		done <- p.writeAndConfirm(ctx, pending)
	}()

	delay := p.opts.After(p.opts.Delay)
	var res writeResult
	for delay != nil || done != nil {
		select {
		case <-delay:
			delay = nil
			p.hideSpinner(gen)
		case res = <-done:
			done = nil
		case <-ctx.Done():
			res = writeResult{writeErr: ctx.Err()}
			delay, done = nil, nil
		}
	}
	return p.settle(gen, pending, res)
}

func (p *Panel) hideSpinner(gen uint64) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.spinner = false
	p.mu.Unlock()
	p.publish()
}

func (p *Panel) writeAndConfirm(ctx context.Context, pending string) writeResult {
	receipt, err := p.write(ctx, pending)
	if err != nil {
		return writeResult{writeErr: err}
	}
	greeting, err := p.readGreeting(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn(logging.CategoryPanel, "confirmation read failed, retrying", map[string]any{"error": err.Error()})
		greeting, err = p.readGreeting(ctx)
	}
	return writeResult{receipt: receipt, greeting: greeting, readErr: err}
}

func (p *Panel) settle(gen uint64, pending string, res writeResult) (Outcome, error) {
	out := Outcome{Generation: gen}
	if res.writeErr == nil {
		out.Receipt = &res.receipt
	}

	p.mu.Lock()
	if res.writeErr == nil && res.readErr == nil && gen > p.confirmedGen {
		p.confirmed = res.greeting
		p.confirmedGen = gen
		p.hasConfirmed = true
	}
	if gen != p.generation {
		out.Superseded = true
		out.Greeting = p.greeting
		p.mu.Unlock()
		p.logger.Debug(logging.CategoryPanel, "discarding superseded submission", map[string]any{"generation": gen})
		return out, nil
	}

	p.spinner = false
	p.confirming = false
	var failure *Failure
	switch {
	case res.writeErr != nil:
		kind := WriteFailure
		if errors.Is(res.writeErr, wallet.ErrNotSignedIn) {
			kind = SessionExpired
			p.account = ""
		}
		failure = &Failure{Kind: kind, Err: res.writeErr}
		if p.hasConfirmed {
			p.greeting = p.confirmed
		} else {
			p.greeting = LoadingGreeting
		}
	case res.readErr != nil:
		failure = &Failure{Kind: ReadFailure, Err: res.readErr}
		p.greeting = pending
	default:
		p.greeting = res.greeting
		out.Confirmed = true
	}
	p.failure = failure
	out.Greeting = p.greeting
	p.mu.Unlock()
	p.publish()

	if failure != nil && failure.Kind == SessionExpired {
		if err := p.conn.SignOut(context.WithoutCancel(p.ctx)); err != nil {
			p.logger.Error(logging.CategoryWallet, "sign out after expired session failed", err, nil)
		}
	}

	if failure != nil {
		p.logger.Error(logging.CategoryPanel, "submission failed", failure, map[string]any{
			"generation": gen,
			"kind":       string(failure.Kind),
		})
		out.Err = failure
		return out, failure
	}
	p.logger.Info(logging.CategoryPanel, "greeting confirmed", map[string]any{
		"generation": gen,
		"greeting":   out.Greeting,
	})
	return out, nil
}

func (p *Panel) write(ctx context.Context, greeting string) (wallet.Receipt, error) {
	return p.conn.CallMethod(ctx, wallet.CallRequest{
		ContractID: p.opts.ContractID,
		Method:     MethodSetGreeting,
		Args:       map[string]string{"greeting": greeting},
	})
}

func (p *Panel) readGreeting(ctx context.Context) (string, error) {
	raw, err := p.conn.ViewMethod(ctx, wallet.ViewRequest{
		ContractID: p.opts.ContractID,
		Method:     MethodGetGreeting,
	})
	if err != nil {
		return "", err
	}
	var greeting string
	if err := json.Unmarshal(raw, &greeting); err != nil {
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "" {
			return "", fmt.Errorf("decode greeting: %w", err)
		}
		return trimmed, nil
	}
	return greeting, nil
}

// Snapshot returns the current state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() Snapshot {
	s := Snapshot{
		AccountID:  p.account,
		LoggedIn:   p.account != "",
		Greeting:   p.greeting,
		Confirmed:  p.confirmed,
		Pending:    p.pending,
		Spinner:    p.spinner,
		Confirming: p.confirming,
		Generation: p.generation,
		Version:    p.version,
	}
	if p.failure != nil {
		s.Error = p.failure.Message()
		s.ErrorKind = p.failure.Kind
	}
	return s
}

// Subscribe delivers a snapshot to ch after every change. Sends never block;
// a full channel misses that snapshot.
func (p *Panel) Subscribe(ch chan<- Snapshot) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, ch)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, sub := range p.subscribers {
			if sub == ch {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				break
			}
		}
	}
}

func (p *Panel) publish() {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	p.version++
	if p.closed || len(p.subscribers) == 0 {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked()
	subscribers := make([]chan<- Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close cancels background confirmations and waits for them to finish.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.subscribers = nil
	p.mu.Unlock()

	p.cancel()
	p.bg.Wait()
	p.markLoaded()
}
