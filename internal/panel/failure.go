package panel

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects how a submission is reconciled with the chain.
type Strategy int

const (
	// Reconciled joins the optimistic delay with the write and its
	// confirmation, rolls back failed writes and ignores stale submissions.
	Reconciled Strategy = iota
	// Legacy keeps the original page's behaviour: the write races the
	// delay, failures are only logged and the last confirmation to resolve
	// wins.
	Legacy
)

func (s Strategy) String() string {
	switch s {
	case Reconciled:
		return "reconciled"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps "reconciled" or "legacy" to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "reconciled":
		return Reconciled, nil
	case "legacy":
		return Legacy, nil
	default:
		return Reconciled, fmt.Errorf("unknown strategy %q", name)
	}
}

// FailureKind classifies errors surfaced to the page.
type FailureKind string

const (
	ReadFailure    FailureKind = "read_failure"
	WriteFailure   FailureKind = "write_failure"
	SessionExpired FailureKind = "session_expired"
)

// Failure is an error shown to the user.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message is the text rendered next to the greeting.
func (f *Failure) Message() string {
	switch f.Kind {
	case ReadFailure:
		return "Could not load the greeting from the contract."
	case WriteFailure:
		return "The greeting could not be saved. Showing the last confirmed value."
	case SessionExpired:
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong."
	}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
