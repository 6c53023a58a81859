// Package ethrpctest provides an in-memory eth_ JSON-RPC node for unit tests.
package ethrpctest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
)

// Error is a JSON-RPC error object, optionally carrying revert data.
type Error struct {
	Code    int
	Message string
	Data    []byte
}

func (e *Error) Error() string  { return e.Message }
func (e *Error) ErrorCode() int { return e.Code }
func (e *Error) ErrorData() interface{} {
	if e.Data == nil {
		return nil
	}
	return hexutil.Encode(e.Data)
}

// Revert returns the error a node reports for a reverted eth_call.
func Revert(data []byte) *Error {
	return &Error{Code: 3, Message: "execution reverted", Data: data}
}

// MockEth dispatches requests to per-method funcs. Arguments and results
// are JSON round-tripped as they would be on the wire. Methods without a
// func fail with "method not found".
type MockEth struct {
	ChainID               func(ctx context.Context) (uint64, error)
	BlockNumber           func(ctx context.Context) (uint64, error)
	Call                  func(ctx context.Context, msg ethrpc.CallMsg, block string) ([]byte, error)
	EstimateGas           func(ctx context.Context, msg ethrpc.CallMsg) (uint64, error)
	GasPrice              func(ctx context.Context) (*big.Int, error)
	GetTransactionCount   func(ctx context.Context, addr common.Address, block string) (uint64, error)
	SendRawTransaction    func(ctx context.Context, raw []byte) (common.Hash, error)
	GetTransactionReceipt func(ctx context.Context, hash common.Hash) (*ethrpc.Receipt, error)
	GetLogs               func(ctx context.Context, spec ethrpc.FilterSpec) ([]*ethrpc.Log, error)

	mux   sync.Mutex
	calls map[string]int
}

// Calls returns how many times method was invoked.
func (m *MockEth) Calls(method string) int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of requests of any method.
func (m *MockEth) TotalCalls() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockEth) record(method string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[method]++
}

func arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, &Error{Code: -32602, Message: fmt.Sprintf("missing argument %d", i)}
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, &Error{Code: -32602, Message: err.Error()}
	}
	return v, nil
}

func (m *MockEth) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.record(method)

	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		raw[i] = b
	}

	res, err := m.dispatch(ctx, method, raw)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func notFound(method string) error {
	return &Error{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
}

func (m *MockEth) dispatch(ctx context.Context, method string, args []json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_chainId":
		if m.ChainID == nil {
			return nil, notFound(method)
		}
		id, err := m.ChainID(ctx)
		return hexutil.Uint64(id), err
	case "eth_blockNumber":
		if m.BlockNumber == nil {
			return nil, notFound(method)
		}
		n, err := m.BlockNumber(ctx)
		return hexutil.Uint64(n), err
	case "eth_call":
		if m.Call == nil {
			return nil, notFound(method)
		}
		msg, err := arg[ethrpc.CallMsg](args, 0)
		if err != nil {
			return nil, err
		}
		block, err := arg[string](args, 1)
		if err != nil {
			return nil, err
		}
		data, err := m.Call(ctx, msg, block)
		return hexutil.Bytes(data), err
	case "eth_estimateGas":
		if m.EstimateGas == nil {
			return nil, notFound(method)
		}
		msg, err := arg[ethrpc.CallMsg](args, 0)
		if err != nil {
			return nil, err
		}
		gas, err := m.EstimateGas(ctx, msg)
		return hexutil.Uint64(gas), err
	case "eth_gasPrice":
		if m.GasPrice == nil {
			return nil, notFound(method)
		}
		price, err := m.GasPrice(ctx)
		return (*hexutil.Big)(price), err
	case "eth_getTransactionCount":
		if m.GetTransactionCount == nil {
			return nil, notFound(method)
		}
		addr, err := arg[common.Address](args, 0)
		if err != nil {
			return nil, err
		}
		block, err := arg[string](args, 1)
		if err != nil {
			return nil, err
		}
		n, err := m.GetTransactionCount(ctx, addr, block)
		return hexutil.Uint64(n), err
	case "eth_sendRawTransaction":
		if m.SendRawTransaction == nil {
			return nil, notFound(method)
		}
		raw, err := arg[hexutil.Bytes](args, 0)
		if err != nil {
			return nil, err
		}
		return m.SendRawTransaction(ctx, raw)
	case "eth_getTransactionReceipt":
		if m.GetTransactionReceipt == nil {
			return nil, notFound(method)
		}
		hash, err := arg[common.Hash](args, 0)
		if err != nil {
			return nil, err
		}
		return m.GetTransactionReceipt(ctx, hash)
	case "eth_getLogs":
		if m.GetLogs == nil {
			return nil, notFound(method)
		}
		spec, err := arg[ethrpc.FilterSpec](args, 0)
		if err != nil {
			return nil, err
		}
		return m.GetLogs(ctx, spec)
	default:
		return nil, notFound(method)
	}
}
