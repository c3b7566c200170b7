package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Its-donkey/hello-near/internal/near"
	"github.com/Its-donkey/hello-near/logging"
)

// NearConfig configures connectors backed by a NEAR RPC node.
type NearConfig struct {
	NetworkID string
	Client    *near.Client
	Keys      near.KeyStore
	Logger    *logging.Logger
}

// NearProvider opens NearWallet connectors that share one RPC client and
// one nonce tracker, so concurrent sessions signing with the same key do
// not reuse nonces.
type NearProvider struct {
	cfg    NearConfig
	nonces *nonceTracker
}

// NewNearProvider returns a provider for cfg.
func NewNearProvider(cfg NearConfig) *NearProvider {
	return &NearProvider{cfg: cfg, nonces: &nonceTracker{last: make(map[string]uint64)}}
}

// Open returns a connector for one browser session.
func (p *NearProvider) Open(restoreAccount string) Connector {
	return &NearWallet{cfg: p.cfg, nonces: p.nonces, restore: restoreAccount}
}

// NetworkID reports the network the provider signs for.
func (p *NearProvider) NetworkID() string {
	return p.cfg.NetworkID
}

// NearWallet signs FunctionCall transactions with keys from a near.KeyStore.
type NearWallet struct {
	cfg     NearConfig
	nonces  *nonceTracker
	restore string

	mu       sync.Mutex
	account  string
	onChange func(string)
}

func (w *NearWallet) StartUp(ctx context.Context, onAccountChange func(string)) error {
	w.mu.Lock()
	w.onChange = onAccountChange
	restore := w.restore
	w.restore = ""
	w.mu.Unlock()

	account := ""
	if restore != "" {
		if _, err := w.cfg.Keys.GetKey(w.cfg.NetworkID, restore); err == nil {
			account = restore
		} else {
			w.cfg.Logger.Warn(logging.CategoryWallet, "session not restored", map[string]any{
				"account": restore,
				"error":   err.Error(),
			})
		}
	}
	w.setAccount(account)
	return nil
}

func (w *NearWallet) SignIn(ctx context.Context, accountID string) error {
	if err := near.ValidateAccountID(accountID); err != nil {
		return err
	}
	if _, err := w.cfg.Keys.GetKey(w.cfg.NetworkID, accountID); err != nil {
		if errors.Is(err, near.ErrKeyNotFound) {
			return fmt.Errorf("%w: no key for %s on %s", ErrUnknownAccount, accountID, w.cfg.NetworkID)
		}
		return err
	}
	w.setAccount(accountID)
	w.cfg.Logger.Info(logging.CategoryWallet, "signed in", map[string]any{"account": accountID, "network": w.cfg.NetworkID})
	return nil
}

func (w *NearWallet) SignOut(ctx context.Context) error {
	w.setAccount("")
	return nil
}

func (w *NearWallet) setAccount(accountID string) {
	w.mu.Lock()
	w.account = accountID
	cb := w.onChange
	w.mu.Unlock()
	if cb != nil {
		cb(accountID)
	}
}

// AccountID returns the signed-in account, or "".
func (w *NearWallet) AccountID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account
}

func (w *NearWallet) ViewMethod(ctx context.Context, req ViewRequest) (json.RawMessage, error) {
	args, err := EncodeArgs(req.Args)
	if err != nil {
		return nil, err
	}
	res, err := w.cfg.Client.CallFunction(ctx, req.ContractID, req.Method, args)
	if err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", req.ContractID, req.Method, err)
	}
	return json.RawMessage(res.Result), nil
}

func (w *NearWallet) CallMethod(ctx context.Context, req CallRequest) (Receipt, error) {
	signer := w.AccountID()
	if signer == "" {
		return Receipt{}, ErrNotSignedIn
	}
	key, err := w.cfg.Keys.GetKey(w.cfg.NetworkID, signer)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrNotSignedIn, err)
	}
	args, err := EncodeArgs(req.Args)
	if err != nil {
		return Receipt{}, err
	}

	accessKey, err := w.cfg.Client.ViewAccessKey(ctx, signer, key.Public)
	if err != nil {
		if near.IsUnknownAccessKey(err) || near.IsUnknownAccount(err) {
			return Receipt{}, fmt.Errorf("%w: %v", ErrNotSignedIn, err)
		}
		return Receipt{}, fmt.Errorf("view access key: %w", err)
	}
	blockHash, err := w.cfg.Client.FinalBlockHash(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch block hash: %w", err)
	}

	gas := req.Gas
	if gas == 0 {
		gas = near.DefaultGas
	}
	tx := near.Transaction{
		SignerID:   signer,
		PublicKey:  key.Public,
		Nonce:      w.nonces.next(signer+"/"+key.Public.String(), accessKey.Nonce),
		ReceiverID: req.ContractID,
		BlockHash:  blockHash,
		Actions: []near.FunctionCall{{
			MethodName: req.Method,
			Args:       args,
			Gas:        gas,
			Deposit:    req.Deposit,
		}},
	}
	signed, err := near.SignTransaction(tx, key)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}

	outcome, err := w.cfg.Client.BroadcastTxCommit(ctx, signed)
	if err != nil {
		return Receipt{}, fmt.Errorf("call %s.%s: %w", req.ContractID, req.Method, err)
	}
	value, err := outcome.Value()
	if err != nil {
		return Receipt{}, fmt.Errorf("call %s.%s: %w", req.ContractID, req.Method, err)
	}

	w.cfg.Logger.Info(logging.CategoryWallet, "transaction committed", map[string]any{
		"hash":     signed.HashString(),
		"signer":   signer,
		"receiver": req.ContractID,
		"method":   req.Method,
	})
	receipt := Receipt{
		TransactionHash: signed.HashString(),
		SignerID:        signer,
		ReceiverID:      req.ContractID,
		Logs:            outcome.Logs(),
	}
	if len(value) > 0 {
		receipt.Value = json.RawMessage(value)
	}
	return receipt, nil
}

type nonceTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

// next returns a nonce above both the chain's view and any nonce already
// handed out locally for key.
func (t *nonceTracker) next(key string, chainNonce uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := chainNonce
	if last := t.last[key]; last > n {
		n = last
	}
	n++
	t.last[key] = n
	return n
}
