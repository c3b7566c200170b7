// Package wallet defines the connector a greeting panel uses to restore a
// session and read or mutate contract state, plus its NEAR implementation.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/Its-donkey/hello-near/internal/near"
)

var (
	// ErrNotSignedIn is returned by CallMethod when no account is signed in.
	ErrNotSignedIn = errors.New("wallet: not signed in")
	// ErrUnknownAccount is returned when signing in to an account the
	// connector holds no key for.
	ErrUnknownAccount = errors.New("wallet: unknown account")
	// ErrInvalidAccountID marks malformed account identifiers.
	ErrInvalidAccountID = near.ErrInvalidAccountID
)

// ViewRequest describes a read-only contract query.
type ViewRequest struct {
	ContractID string
	Method     string
	// Args is JSON-encoded unless it is already []byte or json.RawMessage.
	Args any
}

// CallRequest describes a state-mutating contract invocation.
type CallRequest struct {
	ContractID string
	Method     string
	Args       any
	Gas        uint64
	Deposit    *big.Int
}

// Receipt reports an accepted transaction.
type Receipt struct {
	TransactionHash string          `json:"transactionHash"`
	SignerID        string          `json:"signerId"`
	ReceiverID      string          `json:"receiverId"`
	Value           json.RawMessage `json:"value,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
}

// Connector is the wallet capability a panel is constructed with.
type Connector interface {
	// StartUp restores any existing session and registers onAccountChange,
	// which receives the signed-in account id ("" when signed out) now and
	// after every later sign-in or sign-out.
	StartUp(ctx context.Context, onAccountChange func(accountID string)) error
	ViewMethod(ctx context.Context, req ViewRequest) (json.RawMessage, error)
	CallMethod(ctx context.Context, req CallRequest) (Receipt, error)
	SignIn(ctx context.Context, accountID string) error
	SignOut(ctx context.Context) error
}

// Provider hands out one Connector per browser session. restoreAccount is
// the account remembered from an earlier session, or "".
type Provider interface {
	Open(restoreAccount string) Connector
	NetworkID() string
}

// EncodeArgs turns request arguments into the JSON bytes sent to contracts.
func EncodeArgs(args any) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		return data, nil
	}
}
