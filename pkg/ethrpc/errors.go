package ethrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// TransportError is a failure to reach the node or to understand its reply.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RPCError is a JSON-RPC error object returned by the node. Data holds the
// decoded error data, such as revert payloads from eth_call.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    []byte
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s (code=%d)", e.Method, e.Message, e.Code)
}

func classify(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", method, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		out := &RPCError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			out.Data = errorData(dataErr.ErrorData())
		}
		return out
	}
	return &TransportError{Method: method, Err: err}
}

func errorData(data any) []byte {
	switch d := data.(type) {
	case string:
		if b, err := hexutil.Decode(d); err == nil {
			return b
		}
	case []byte:
		return d
	}
	return nil
}

// RevertData extracts the revert payload carried by an RPCError, if any.
func RevertData(err error) ([]byte, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && len(rpcErr.Data) > 0 {
		return rpcErr.Data, true
	}
	return nil, false
}
