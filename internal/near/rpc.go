// Package near talks to NEAR Protocol nodes over JSON-RPC and builds the
// signed FunctionCall transactions used to mutate contract state.
package near

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/Its-donkey/hello-near/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 4 << 20
)

// Client is a JSON-RPC 2.0 client for a NEAR node.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *logging.Logger
	nextID   atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger for per-call debug entries.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a client for the node at endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimSuffix(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the node URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *RPCError           `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	start := time.Now()
	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return errors.Wrapf(err, "encode %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrapf(err, "read %s response", method)
	}

	c.logger.Debug(logging.CategoryRPC, "rpc call", map[string]any{
		"method":      method,
		"id":          id,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.Errorf("%s: unexpected status %s", method, resp.Status)
		}
		return errors.Wrapf(err, "decode %s response", method)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("%s: unexpected status %s", method, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return errors.Wrapf(err, "decode %s result", method)
	}
	return nil
}

// CallFunctionResult is the result of a view call.
type CallFunctionResult struct {
	Result      []byte
	Logs        []string
	BlockHeight uint64
	BlockHash   string
}

type callFunctionResponse struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Error       string   `json:"error"`
}

// CallFunction runs a read-only contract method at final finality.
func (c *Client) CallFunction(ctx context.Context, accountID, method string, args []byte) (CallFunctionResult, error) {
	if len(args) == 0 {
		args = []byte("{}")
	}
	params := map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   accountID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}
	var resp callFunctionResponse
	if err := c.call(ctx, "query", params, &resp); err != nil {
		return CallFunctionResult{}, err
	}
	// Older nodes report execution failures inside the result.
	if resp.Error != "" {
		return CallFunctionResult{}, &RPCError{Name: "HANDLER_ERROR", Message: resp.Error, Cause: &ErrorCause{Name: "CONTRACT_EXECUTION_ERROR"}}
	}
	out := make([]byte, len(resp.Result))
	for i, v := range resp.Result {
		if v < 0 || v > 255 {
			return CallFunctionResult{}, errors.Errorf("call_function result byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return CallFunctionResult{
		Result:      out,
		Logs:        resp.Logs,
		BlockHeight: resp.BlockHeight,
		BlockHash:   resp.BlockHash,
	}, nil
}

// AccessKeyView describes an access key's nonce and permission.
type AccessKeyView struct {
	Nonce       uint64              `json:"nonce"`
	Permission  jsoniter.RawMessage `json:"permission"`
	BlockHeight uint64              `json:"block_height"`
	BlockHash   string              `json:"block_hash"`
}

// FullAccess reports whether the key carries full access permission.
func (v AccessKeyView) FullAccess() bool {
	return strings.Trim(strings.TrimSpace(string(v.Permission)), `"`) == "FullAccess"
}

// ViewAccessKey returns the access key of publicKey on accountID.
func (c *Client) ViewAccessKey(ctx context.Context, accountID string, publicKey PublicKey) (AccessKeyView, error) {
	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey.String(),
	}
	var view AccessKeyView
	if err := c.call(ctx, "query", params, &view); err != nil {
		return AccessKeyView{}, err
	}
	return view, nil
}

type blockResponse struct {
	Header struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
	} `json:"header"`
}

// FinalBlockHash returns the hash of the latest final block, which
// transactions reference to bound their validity.
func (c *Client) FinalBlockHash(ctx context.Context) ([32]byte, error) {
	var block blockResponse
	if err := c.call(ctx, "block", map[string]any{"finality": "final"}, &block); err != nil {
		return [32]byte{}, err
	}
	raw, err := base58.Decode(block.Header.Hash)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "decode block hash")
	}
	if len(raw) != 32 {
		return [32]byte{}, errors.Errorf("block hash must be 32 bytes, got %d", len(raw))
	}
	var hash [32]byte
	copy(hash[:], raw)
	return hash, nil
}

// BroadcastTxCommit submits a signed transaction and waits for its outcome.
func (c *Client) BroadcastTxCommit(ctx context.Context, signed SignedTransaction) (ExecutionOutcome, error) {
	encoded, err := signed.Serialize()
	if err != nil {
		return ExecutionOutcome{}, err
	}
	var outcome ExecutionOutcome
	params := []string{base64.StdEncoding.EncodeToString(encoded)}
	if err := c.call(ctx, "broadcast_tx_commit", params, &outcome); err != nil {
		return ExecutionOutcome{}, err
	}
	return outcome, nil
}
