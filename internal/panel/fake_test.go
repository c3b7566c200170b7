package panel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Its-donkey/hello-near/internal/wallet"
)

// fakeConn is an in-memory connector whose writes can be held open per
// greeting until the test releases them.
type fakeConn struct {
	mu       sync.Mutex
	restore  string
	account  string
	onChange func(string)
	stored   string
	views    int
	viewErrs []error
	viewGate chan struct{}
	signOuts int
	gates    map[string]chan error
}

func newFakeConn(stored, restore string) *fakeConn {
	return &fakeConn{stored: stored, restore: restore, gates: make(map[string]chan error)}
}

// hold makes the write of greeting block until release is called.
func (f *fakeConn) hold(greeting string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[greeting] = make(chan error, 1)
}

func (f *fakeConn) release(greeting string, err error) {
	f.mu.Lock()
	gate := f.gates[greeting]
	f.mu.Unlock()
	gate <- err
}

// holdViews blocks every view until releaseViews.
func (f *fakeConn) holdViews() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewGate = make(chan struct{})
}

func (f *fakeConn) releaseViews() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.viewGate)
	f.viewGate = nil
}

func (f *fakeConn) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *fakeConn) failViews(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewErrs = append(f.viewErrs, errs...)
}

// expire signs the account out without telling the panel.
func (f *fakeConn) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = ""
}

func (f *fakeConn) viewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views
}

func (f *fakeConn) StartUp(_ context.Context, onAccountChange func(string)) error {
	f.mu.Lock()
	f.onChange = onAccountChange
	f.account = f.restore
	account := f.account
	f.mu.Unlock()
	if onAccountChange != nil {
		onAccountChange(account)
	}
	return nil
}

func (f *fakeConn) ViewMethod(ctx context.Context, req wallet.ViewRequest) (json.RawMessage, error) {
	f.mu.Lock()
	gate := f.viewGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.views++
	if req.Method != MethodGetGreeting {
		return nil, errors.New("unexpected view " + req.Method)
	}
	if len(f.viewErrs) > 0 {
		err := f.viewErrs[0]
		f.viewErrs = f.viewErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(f.stored)
}

func (f *fakeConn) CallMethod(ctx context.Context, req wallet.CallRequest) (wallet.Receipt, error) {
	args, _ := req.Args.(map[string]string)
	greeting := args["greeting"]

	f.mu.Lock()
	if f.account == "" {
		f.mu.Unlock()
		return wallet.Receipt{}, wallet.ErrNotSignedIn
	}
	gate := f.gates[greeting]
	f.mu.Unlock()

	if gate != nil {
		select {
		case err := <-gate:
			if err != nil {
				return wallet.Receipt{}, err
			}
		case <-ctx.Done():
			return wallet.Receipt{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = greeting
	return wallet.Receipt{TransactionHash: "tx-" + greeting, SignerID: f.account, ReceiverID: req.ContractID}, nil
}

func (f *fakeConn) SignIn(_ context.Context, accountID string) error {
	f.mu.Lock()
	f.account = accountID
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(accountID)
	}
	return nil
}

func (f *fakeConn) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	return f.SignIn(ctx, "")
}

// manualClock hands each requested delay to the test, which fires it.
type manualClock struct {
	timers chan chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{timers: make(chan chan time.Time, 8)}
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.timers <- ch
	return ch
}

func (c *manualClock) next(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-c.timers:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no delay requested")
		return nil
	}
}

func startPanel(t *testing.T, conn wallet.Connector, strategy Strategy, clock *manualClock) *Panel {
	t.Helper()
	opts := Options{ContractID: "hello.test", Strategy: strategy}
	if clock != nil {
		opts.After = clock.After
	}
	p := New(conn, opts)
	t.Cleanup(p.Close)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-p.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("initial read did not settle")
	}
	return p
}

type submitResult struct {
	out Outcome
	err error
}

func submitAsync(p *Panel, greeting string) <-chan submitResult {
	done := make(chan submitResult, 1)
	go func() {
		out, err := p.Submit(context.Background(), greeting)
		done <- submitResult{out: out, err: err}
	}()
	return done
}

func wait(t *testing.T, done <-chan submitResult) submitResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not return")
		return submitResult{}
	}
}
