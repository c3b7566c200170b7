package near

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	Raw    []byte         `json:"-"`
}

func newRPCServer(t *testing.T, response string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if captured != nil {
			captured.Raw = body
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallFunctionDecodesByteArrayResult(t *testing.T) {
	var captured capturedRequest
	// "\"Hello\"" as a byte array.
	srv := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"result":{"result":[34,72,101,108,108,111,34],"logs":[],"block_height":10,"block_hash":"abc"}}`, &captured)

	res, err := NewClient(srv.URL).CallFunction(context.Background(), "hello.near-examples.testnet", "get_greeting", nil)
	require.NoError(t, err)
	assert.Equal(t, `"Hello"`, string(res.Result))
	assert.Equal(t, uint64(10), res.BlockHeight)

	assert.Equal(t, "query", captured.Method)
	assert.Equal(t, "call_function", captured.Params["request_type"])
	assert.Equal(t, "get_greeting", captured.Params["method_name"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("{}")), captured.Params["args_base64"])
}

func TestCallFunctionReturnsRPCError(t *testing.T) {
	srv := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"error":{"name":"HANDLER_ERROR","cause":{"name":"UNKNOWN_ACCOUNT","info":{}},"code":-32000,"message":"Server error","data":"account missing.testnet does not exist"}}`, nil)

	_, err := NewClient(srv.URL).CallFunction(context.Background(), "missing.testnet", "get_greeting", nil)
	require.Error(t, err)
	assert.True(t, IsUnknownAccount(err))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCallFunctionLegacyErrorField(t *testing.T) {
	srv := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"result":{"error":"wasm execution failed","logs":[]}}`, nil)

	_, err := NewClient(srv.URL).CallFunction(context.Background(), "hello.testnet", "get_greeting", nil)
	assert.True(t, IsContractExecution(err))
}

func TestCallReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CallFunction(context.Background(), "hello.testnet", "get_greeting", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestViewAccessKey(t *testing.T) {
	var captured capturedRequest
	srv := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"result":{"nonce":85,"permission":"FullAccess","block_height":19884918,"block_hash":"GGJQ8yjmo7aEoj8ZpAhGehnq9BSWFx4xswHYzDwwAP2n"}}`, &captured)
	kp := testKeyPair(t)

	view, err := NewClient(srv.URL).ViewAccessKey(context.Background(), "alice.testnet", kp.Public)
	require.NoError(t, err)
	assert.Equal(t, uint64(85), view.Nonce)
	assert.True(t, view.FullAccess())
	assert.Equal(t, kp.Public.String(), captured.Params["public_key"])
}

func TestFinalBlockHash(t *testing.T) {
	want := [32]byte{1, 2, 3}
	srv := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"result":{"header":{"height":7,"hash":"`+base58.Encode(want[:])+`"}}}`, nil)

	got, err := NewClient(srv.URL).FinalBlockHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBroadcastTxCommit(t *testing.T) {
	kp := testKeyPair(t)
	signed, err := SignTransaction(sampleTransaction(kp), kp)
	require.NoError(t, err)

	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"status":{"SuccessValue":""},"transaction":{"hash":"`+signed.HashString()+`","signer_id":"alice.testnet","receiver_id":"hello.near-examples.testnet"},"receipts_outcome":[{"id":"r1","outcome":{"logs":["Saving greeting hi"]}}]}}`)
	}))
	defer srv.Close()

	outcome, err := NewClient(srv.URL).BroadcastTxCommit(context.Background(), signed)
	require.NoError(t, err)

	value, err := outcome.Value()
	require.NoError(t, err)
	assert.Empty(t, value)
	assert.Equal(t, []string{"Saving greeting hi"}, outcome.Logs())
	assert.Equal(t, signed.HashString(), outcome.Transaction.Hash)

	var req struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
	}
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "broadcast_tx_commit", req.Method)
	encoded, err := signed.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString(encoded)}, req.Params)
}

func TestOutcomeFailure(t *testing.T) {
	outcome := ExecutionOutcome{Status: []byte(`{"Failure":{"ActionError":{"index":0}}}`)}
	_, err := outcome.Value()
	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Error(), "ActionError")

	pending := ExecutionOutcome{Status: []byte(`"NotStarted"`)}
	_, err = pending.Value()
	assert.Error(t, err)
}
