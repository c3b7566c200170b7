package near

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCause is the structured cause NEAR nodes attach to RPC errors.
type ErrorCause struct {
	Name string         `json:"name"`
	Info map[string]any `json:"info,omitempty"`
}

// RPCError is an error object returned by a NEAR node.
type RPCError struct {
	Name    string      `json:"name"`
	Cause   *ErrorCause `json:"cause,omitempty"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	parts := []string{}
	if e.Name != "" {
		parts = append(parts, e.Name)
	}
	if e.Cause != nil && e.Cause.Name != "" {
		parts = append(parts, e.Cause.Name)
	}
	msg := strings.Join(parts, "/")
	detail := e.Message
	if s, ok := e.Data.(string); ok && s != "" {
		detail = s
	}
	if detail == "" {
		return "near rpc: " + msg
	}
	return fmt.Sprintf("near rpc: %s: %s", msg, detail)
}

// CauseName returns the cause name, or "" when absent.
func (e *RPCError) CauseName() string {
	if e == nil || e.Cause == nil {
		return ""
	}
	return e.Cause.Name
}

// IsUnknownAccount reports whether err says the account does not exist.
func IsUnknownAccount(err error) bool {
	return hasCause(err, "UNKNOWN_ACCOUNT")
}

// IsUnknownAccessKey reports whether err says the access key does not exist.
func IsUnknownAccessKey(err error) bool {
	return hasCause(err, "UNKNOWN_ACCESS_KEY")
}

// IsContractExecution reports whether a view call panicked or failed in the contract.
func IsContractExecution(err error) bool {
	return hasCause(err, "CONTRACT_EXECUTION_ERROR")
}

func hasCause(err error, name string) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.CauseName() == name
}
