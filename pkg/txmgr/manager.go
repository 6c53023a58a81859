package txmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// Signer signs transactions on behalf of an account.
type Signer interface {
	SignTx(address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type Config struct {
	From                common.Address
	ChainID             *big.Int // queried with eth_chainId when nil
	Gas                 GasStrategy
	NonceSource         NonceSource
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

// SendOptions override the gas strategy and carry a value transfer.
type SendOptions struct {
	Value                *big.Int
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Manager builds, signs and submits transactions for one sender and
// executes read-only calls.
type Manager struct {
	client       *ethrpc.Client
	signer       Signer
	from         common.Address
	chainID      *big.Int
	gas          GasStrategy
	nonces       *NonceTracker
	poller       *Poller
	pollInterval time.Duration
	timeout      time.Duration
}

func NewManager(ctx context.Context, client *ethrpc.Client, signer Signer, conf Config) (*Manager, error) {
	m := &Manager{
		client:       client,
		signer:       signer,
		from:         conf.From,
		chainID:      conf.ChainID,
		gas:          conf.Gas,
		nonces:       NewNonceTracker(client, conf.NonceSource),
		poller:       NewPoller(client),
		pollInterval: conf.PollInterval,
		timeout:      conf.ConfirmationTimeout,
	}
	if m.gas == nil {
		m.gas = &NodeGas{Factor: 1.0}
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultConfirmationTimeout
	}
	if m.chainID == nil || m.chainID.Sign() == 0 {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			log.L(ctx).Errorf("eth_chainId failed: %s", err)
			return nil, fmt.Errorf("query chain id: %w", err)
		}
		m.chainID = chainID
	}
	log.L(ctx).Infof("Transaction manager for %s on chain %s (nonce source %s)", m.from.Hex(), m.chainID, m.nonces.source)
	return m, nil
}

func (m *Manager) From() common.Address { return m.from }

func (m *Manager) ChainID() *big.Int { return new(big.Int).Set(m.chainID) }

func (m *Manager) Client() *ethrpc.Client { return m.client }

func (m *Manager) Poller() *Poller { return m.poller }

// Call executes fn against the latest block and decodes its outputs.
func (m *Manager) Call(ctx context.Context, fn *abi.Function, to common.Address, args ...abi.Value) ([]abi.Value, error) {
	return m.CallAt(ctx, fn, to, nil, args...)
}

// CallAt is Call against a specific block. A nil block means latest.
func (m *Manager) CallAt(ctx context.Context, fn *abi.Function, to common.Address, block *big.Int, args ...abi.Value) ([]abi.Value, error) {
	data, err := fn.EncodeCall(args...)
	if err != nil {
		return nil, err
	}
	from := m.from
	out, err := m.client.Call(ctx, ethrpc.CallMsg{From: &from, To: &to, Data: data}, ethrpc.BlockTag(block))
	if err != nil {
		if revertData, ok := ethrpc.RevertData(err); ok {
			return nil, revertedError(revertData, nil)
		}
		return nil, err
	}
	values, err := fn.DecodeOutputs(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUndecodableResult, fn.Name, err)
	}
	return values, nil
}

// Send submits a state changing call of fn on to. The returned PendingTx
// resolves once the transaction is mined.
func (m *Manager) Send(ctx context.Context, fn *abi.Function, to common.Address, opts *SendOptions, args ...abi.Value) (*PendingTx, error) {
	data, err := fn.EncodeCall(args...)
	if err != nil {
		return nil, err
	}
	return m.SendData(ctx, &to, data, opts)
}

// Deploy submits a contract creation with bytecode followed by the encoded
// constructor arguments.
func (m *Manager) Deploy(ctx context.Context, bytecode []byte, constructor *abi.Function, opts *SendOptions, args ...abi.Value) (*PendingTx, error) {
	if len(bytecode) == 0 {
		return nil, errors.New("empty contract bytecode")
	}
	if constructor == nil {
		constructor = &abi.Function{}
	}
	encoded, err := constructor.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	data := append(append([]byte{}, bytecode...), encoded...)
	return m.SendData(ctx, nil, data, opts)
}

// SendData signs and submits raw call data. A nil to creates a contract.
func (m *Manager) SendData(ctx context.Context, to *common.Address, data []byte, opts *SendOptions) (*PendingTx, error) {
	var value *big.Int
	if opts != nil && opts.Value != nil {
		value = opts.Value
	}
	from := m.from
	msg := ethrpc.CallMsg{From: &from, To: to, Data: data}
	if value != nil {
		msg.Value = (*hexutil.Big)(value)
	}

	gas, err := m.gas.GasParams(ctx, m.client, msg)
	if err != nil {
		return nil, err
	}
	opts.apply(gas)

	lease, err := m.nonces.Reserve(ctx, m.from)
	if err != nil {
		return nil, err
	}
	defer lease.Rollback()

	tx := buildTx(m.chainID, lease.Nonce(), to, value, data, gas)
	signed, err := m.signer.SignTx(m.from, tx, m.chainID)
	if err != nil {
		log.L(ctx).Errorf("Signing failed for %s nonce %d: %s", m.from.Hex(), lease.Nonce(), err)
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	hash, err := m.client.SendTransaction(ctx, signed)
	if err != nil {
		log.L(ctx).Errorf("Rejected TX (from=%s nonce=%d): %s", m.from.Hex(), lease.Nonce(), logJSON(signed))
		var rpcErr *ethrpc.RPCError
		if errors.As(err, &rpcErr) {
			return nil, &SubmissionRejectedError{From: m.from, Nonce: lease.Nonce(), Err: err}
		}
		return nil, err
	}
	lease.Commit()

	log.L(ctx).Infof("Submitted transaction %s (from=%s nonce=%d gas=%d)", hash.Hex(), m.from.Hex(), signed.Nonce(), signed.Gas())
	return &PendingTx{
		Hash:  hash,
		Nonce: signed.Nonce(),
		Tx:    signed,
		mgr:   m,
		from:  m.from,
	}, nil
}

func buildTx(chainID *big.Int, nonce uint64, to *common.Address, value *big.Int, data []byte, gas *GasParams) *types.Transaction {
	if value == nil {
		value = new(big.Int)
	}
	if gas.dynamic() {
		tip := gas.TipCap
		if tip == nil {
			tip = new(big.Int)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: gas.MaxFee,
			Gas:       gas.Limit,
			To:        to,
			Value:     value,
			Data:      data,
		})
	}
	price := gas.Price
	if price == nil {
		price = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas.Limit,
		To:       to,
		Value:    value,
		Data:     data,
	})
}

// replayRevert re-executes a reverted transaction at its block to recover
// the revert reason.
func (m *Manager) replayRevert(ctx context.Context, p *PendingTx, receipt *ethrpc.Receipt) error {
	if len(receipt.RevertReason) > 0 {
		return revertedError(receipt.RevertReason, receipt)
	}
	gas := hexutil.Uint64(p.Tx.Gas())
	msg := ethrpc.CallMsg{From: &p.from, To: p.Tx.To(), Data: p.Tx.Data(), Gas: &gas}
	if p.Tx.Value().Sign() > 0 {
		msg.Value = (*hexutil.Big)(p.Tx.Value())
	}
	block := new(big.Int).SetUint64(uint64(receipt.BlockNumber))
	_, err := m.client.Call(ctx, msg, ethrpc.BlockTag(block))
	if data, ok := ethrpc.RevertData(err); ok {
		return revertedError(data, receipt)
	}
	if err != nil {
		log.L(ctx).Debugf("Replay of %s did not return revert data: %s", receipt.TransactionHash.Hex(), err)
	}
	return &ExecutionRevertedError{Receipt: receipt}
}

func revertedError(data []byte, receipt *ethrpc.Receipt) *ExecutionRevertedError {
	reason, ok := abi.DecodeRevert(data)
	if !ok {
		reason = hexutil.Encode(data)
	}
	return &ExecutionRevertedError{Reason: reason, Data: data, Receipt: receipt}
}

func logJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
