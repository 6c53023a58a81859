package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// Transport performs a single JSON-RPC request. *rpc.Client satisfies it.
type Transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// PushTransport is a Transport that can deliver eth_subscribe notifications.
type PushTransport interface {
	Transport
	EthSubscribe(ctx context.Context, channel interface{}, args ...interface{}) (*rpc.ClientSubscription, error)
}

var ErrNotificationsUnsupported = errors.New("transport does not support subscriptions")

// Client is a typed wrapper over the eth_ JSON-RPC namespace.
type Client struct {
	transport Transport
}

func NewClient(t Transport) *Client {
	return &Client{transport: t}
}

// Dial connects to an http(s), ws(s) or IPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &TransportError{Method: "dial", Err: err}
	}
	return NewClient(c), nil
}

func (c *Client) Close() {
	if closer, ok := c.transport.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := c.transport.CallContext(ctx, result, method, args...)
	if err != nil {
		err = classify(method, err)
		log.L(ctx).Debugf("%s failed after %s: %s", method, time.Since(start), err)
		return err
	}
	log.L(ctx).Debugf("%s completed in %s", method, time.Since(start))
	return nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// Call executes msg against the given block tag without broadcasting.
func (c *Client) Call(ctx context.Context, msg CallMsg, block string) ([]byte, error) {
	var data hexutil.Bytes
	if err := c.call(ctx, &data, "eth_call", msg, block); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var gas hexutil.Uint64
	if err := c.call(ctx, &gas, "eth_estimateGas", msg); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := c.call(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&price), nil
}

func (c *Client) GetTransactionCount(ctx context.Context, addr common.Address, block string) (uint64, error) {
	var count hexutil.Uint64
	if err := c.call(ctx, &count, "eth_getTransactionCount", addr, block); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return c.SendRawTransaction(ctx, raw)
}

// GetTransactionReceipt returns nil without error while the transaction is pending.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) GetLogs(ctx context.Context, spec FilterSpec) ([]*Log, error) {
	var logs []*Log
	if err := c.call(ctx, &logs, "eth_getLogs", spec); err != nil {
		return nil, err
	}
	return logs, nil
}

// SupportsSubscriptions reports whether the transport is push capable.
func (c *Client) SupportsSubscriptions() bool {
	_, ok := c.transport.(PushTransport)
	return ok
}

// SubscribeLogs streams logs matching spec into ch. Only the address and
// topics of spec apply to a live subscription.
func (c *Client) SubscribeLogs(ctx context.Context, spec FilterSpec, ch chan<- *Log) (ethereum.Subscription, error) {
	push, ok := c.transport.(PushTransport)
	if !ok {
		return nil, ErrNotificationsUnsupported
	}
	crit := map[string]interface{}{}
	if len(spec.Addresses) > 0 {
		crit["address"] = spec.Addresses
	}
	if len(spec.Topics) > 0 {
		topics := make([]interface{}, len(spec.Topics))
		for i, slot := range spec.Topics {
			if len(slot) > 0 {
				topics[i] = slot
			}
		}
		crit["topics"] = topics
	}
	sub, err := push.EthSubscribe(ctx, ch, "logs", crit)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, ErrNotificationsUnsupported
		}
		return nil, classify("eth_subscribe", err)
	}
	log.L(ctx).Debugf("eth_subscribe(logs) established")
	return sub, nil
}
