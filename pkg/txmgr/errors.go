package txmgr

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
)

// ErrUndecodableResult wraps a node's eth_call result that does not decode
// as the function's outputs.
var ErrUndecodableResult = errors.New("undecodable call result")

// SubmissionRejectedError means the node refused eth_sendRawTransaction.
// The nonce was not consumed and the caller may resubmit.
type SubmissionRejectedError struct {
	From  common.Address
	Nonce uint64
	Err   error
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("transaction from %s with nonce %d rejected: %v", e.From.Hex(), e.Nonce, e.Err)
}

func (e *SubmissionRejectedError) Unwrap() error { return e.Err }

// ExecutionRevertedError reports a reverted call or mined transaction.
// Receipt is nil when the revert was detected before mining.
type ExecutionRevertedError struct {
	Reason  string
	Data    []byte
	Receipt *ethrpc.Receipt
}

func (e *ExecutionRevertedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason given"
	}
	if e.Receipt != nil {
		return fmt.Sprintf("transaction %s reverted in block %d: %s", e.Receipt.TransactionHash.Hex(), e.Receipt.BlockNumber, reason)
	}
	return "execution reverted: " + reason
}

// ConfirmationTimeoutError means no receipt appeared in time. The
// transaction may still be mined later; poll again with Hash.
type ConfirmationTimeoutError struct {
	Hash    common.Hash
	Timeout time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("no receipt for transaction %s after %s", e.Hash.Hex(), e.Timeout)
}
