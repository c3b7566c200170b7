package near

import (
	"encoding/base64"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ExecutionOutcome is the final outcome of a committed transaction.
type ExecutionOutcome struct {
	Status      jsoniter.RawMessage `json:"status"`
	Transaction struct {
		Hash       string `json:"hash"`
		SignerID   string `json:"signer_id"`
		ReceiverID string `json:"receiver_id"`
	} `json:"transaction"`
	ReceiptsOutcome []struct {
		ID      string `json:"id"`
		Outcome struct {
			Logs []string `json:"logs"`
		} `json:"outcome"`
	} `json:"receipts_outcome"`
}

// ExecutionFailure carries the Failure payload of an outcome.
type ExecutionFailure struct {
	Detail map[string]any
}

func (f *ExecutionFailure) Error() string {
	data, err := json.Marshal(f.Detail)
	if err != nil {
		return "transaction failed"
	}
	return fmt.Sprintf("transaction failed: %s", data)
}

type outcomeStatus struct {
	SuccessValue     *string        `json:"SuccessValue"`
	SuccessReceiptID *string        `json:"SuccessReceiptId"`
	Failure          map[string]any `json:"Failure"`
}

// Value returns the decoded SuccessValue, or an *ExecutionFailure when the
// transaction failed.
func (o ExecutionOutcome) Value() ([]byte, error) {
	var status outcomeStatus
	if err := json.Unmarshal(o.Status, &status); err != nil {
		// Pending outcomes are plain strings such as "NotStarted".
		var state string
		if json.Unmarshal(o.Status, &state) == nil {
			return nil, errors.Errorf("transaction not finished: %s", state)
		}
		return nil, errors.Wrap(err, "decode outcome status")
	}
	switch {
	case status.Failure != nil:
		return nil, &ExecutionFailure{Detail: status.Failure}
	case status.SuccessValue != nil:
		value, err := base64.StdEncoding.DecodeString(*status.SuccessValue)
		if err != nil {
			return nil, errors.Wrap(err, "decode success value")
		}
		return value, nil
	case status.SuccessReceiptID != nil:
		return nil, nil
	default:
		return nil, errors.Errorf("unrecognised outcome status %s", o.Status)
	}
}

// Logs collects the logs emitted by every receipt.
func (o ExecutionOutcome) Logs() []string {
	var logs []string
	for _, r := range o.ReceiptsOutcome {
		logs = append(logs, r.Outcome.Logs...)
	}
	return logs
}
