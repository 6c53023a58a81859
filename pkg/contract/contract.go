// Package contract binds a parsed ABI to an on-chain address and exposes
// calls, transactions, deployment and event access through a txmgr.Manager.
package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

var (
	ErrNotBound     = errors.New("contract is not bound to an address")
	ErrAlreadyBound = errors.New("contract is already bound to a different address")
)

// Handle is a contract interface that becomes usable once bound to an
// address. Binding happens once and cannot be undone.
type Handle struct {
	abi *abi.ABI
	mgr *txmgr.Manager

	mux     sync.RWMutex
	address *common.Address
}

// New returns an unbound handle.
func New(a *abi.ABI, mgr *txmgr.Manager) *Handle {
	return &Handle{abi: a, mgr: mgr}
}

// At returns a handle bound to address.
func At(a *abi.ABI, mgr *txmgr.Manager, address common.Address) *Handle {
	h := New(a, mgr)
	h.address = &address
	return h
}

func (h *Handle) ABI() *abi.ABI { return h.abi }

// Bind binds the handle. Binding again to the same address is a no-op.
func (h *Handle) Bind(address common.Address) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.address != nil {
		if *h.address == address {
			return nil
		}
		return fmt.Errorf("%w: bound to %s, not %s", ErrAlreadyBound, h.address.Hex(), address.Hex())
	}
	h.address = &address
	return nil
}

func (h *Handle) Address() (common.Address, bool) {
	h.mux.RLock()
	defer h.mux.RUnlock()
	if h.address == nil {
		return common.Address{}, false
	}
	return *h.address, true
}

func (h *Handle) IsBound() bool {
	_, ok := h.Address()
	return ok
}

func (h *Handle) bound() (common.Address, error) {
	addr, ok := h.Address()
	if !ok {
		return common.Address{}, ErrNotBound
	}
	return addr, nil
}

// refine replaces raw revert data with a reason decoded from custom errors
// declared in the ABI.
func (h *Handle) refine(err error) error {
	var reverted *txmgr.ExecutionRevertedError
	if errors.As(err, &reverted) && len(reverted.Data) > 0 {
		if _, ok := abi.DecodeRevert(reverted.Data); !ok {
			reverted.Reason = h.abi.DecodeRevert(reverted.Data)
		}
	}
	return err
}

// Call executes a read-only function and returns its decoded outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...abi.Value) ([]abi.Value, error) {
	addr, err := h.bound()
	if err != nil {
		return nil, err
	}
	fn, err := h.abi.Function(method)
	if err != nil {
		return nil, err
	}
	out, err := h.mgr.Call(log.WithLogField(ctx, "contract", addr.Hex()), fn, addr, args...)
	return out, h.refine(err)
}

// Transact submits a state changing function call.
func (h *Handle) Transact(ctx context.Context, method string, opts *txmgr.SendOptions, args ...abi.Value) (*Tx, error) {
	addr, err := h.bound()
	if err != nil {
		return nil, err
	}
	fn, err := h.abi.Function(method)
	if err != nil {
		return nil, err
	}
	ptx, err := h.mgr.Send(log.WithLogField(ctx, "contract", addr.Hex()), fn, addr, opts, args...)
	if err != nil {
		return nil, h.refine(err)
	}
	return &Tx{PendingTx: ptx, handle: h}, nil
}

// Tx is a pending contract transaction.
type Tx struct {
	*txmgr.PendingTx
	handle *Handle
}

// Wait waits for the receipt, decoding custom revert errors with the ABI.
func (t *Tx) Wait(ctx context.Context) (*ethrpc.Receipt, error) {
	receipt, err := t.PendingTx.Wait(ctx)
	return receipt, t.handle.refine(err)
}

type DeployOptions struct {
	txmgr.SendOptions
	// Libraries maps fully qualified library names (or raw placeholders) to
	// deployed addresses for this deployment only.
	Libraries map[string]common.Address
}

// Deployment is a pending contract creation.
type Deployment struct {
	*txmgr.PendingTx
	handle *Handle
}

// Deploy submits a contract creation for an unbound handle. bytecode is hex
// and may contain library placeholders resolved from opts.Libraries.
func (h *Handle) Deploy(ctx context.Context, bytecode string, opts *DeployOptions, args ...abi.Value) (*Deployment, error) {
	if addr, ok := h.Address(); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyBound, addr.Hex())
	}
	var libs map[string]common.Address
	var sendOpts *txmgr.SendOptions
	if opts != nil {
		libs = opts.Libraries
		sendOpts = &opts.SendOptions
	}
	linked, err := abi.LinkBytecode(bytecode, libs)
	if err != nil {
		return nil, err
	}
	code, err := hexutil.Decode(ensure0x(linked))
	if err != nil {
		return nil, fmt.Errorf("invalid contract bytecode: %w", err)
	}
	ptx, err := h.mgr.Deploy(ctx, code, h.abi.ConstructorOrEmpty(), sendOpts, args...)
	if err != nil {
		return nil, h.refine(err)
	}
	return &Deployment{PendingTx: ptx, handle: h}, nil
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}

// Wait waits for the creation receipt and binds the handle to the new
// contract. A reverted deployment leaves the handle unbound.
func (d *Deployment) Wait(ctx context.Context) (*ethrpc.Receipt, error) {
	receipt, err := d.PendingTx.Wait(ctx)
	if err != nil {
		return receipt, d.handle.refine(err)
	}
	if receipt.ContractAddress == nil {
		return receipt, fmt.Errorf("receipt of %s has no contract address", receipt.TransactionHash.Hex())
	}
	if err := d.handle.Bind(*receipt.ContractAddress); err != nil {
		return receipt, err
	}
	log.L(ctx).Infof("Contract deployed at %s in block %d", receipt.ContractAddress.Hex(), receipt.BlockNumber)
	return receipt, nil
}

// Filter builds a log filter for the named event on the bound address.
func (h *Handle) Filter(event string, from uint64, to *uint64, constraints ...events.Constraint) (*ethrpc.FilterSpec, *abi.Event, error) {
	addr, err := h.bound()
	if err != nil {
		return nil, nil, err
	}
	ev, err := h.abi.Event(event)
	if err != nil {
		return nil, nil, err
	}
	spec, err := events.BuildFilter(ev, addr, from, to, constraints...)
	if err != nil {
		return nil, nil, err
	}
	return spec, ev, nil
}

// FilterLogs queries past events over [from, to]. A nil to means latest.
func (h *Handle) FilterLogs(ctx context.Context, event string, from uint64, to *uint64, constraints ...events.Constraint) ([]*events.Record, error) {
	spec, ev, err := h.Filter(event, from, to, constraints...)
	if err != nil {
		return nil, err
	}
	logs, err := h.mgr.Client().GetLogs(ctx, *spec)
	if err != nil {
		return nil, err
	}
	records, skipped := events.FromLogs(ev, logs)
	if skipped > 0 {
		log.L(ctx).Debugf("Skipped %d %s logs that did not decode", skipped, event)
	}
	return records, nil
}

// Subscribe returns a lazy event sequence starting at from.
func (h *Handle) Subscribe(ctx context.Context, event string, from uint64, opts events.Options, constraints ...events.Constraint) (*events.Subscription, error) {
	spec, ev, err := h.Filter(event, from, nil, constraints...)
	if err != nil {
		return nil, err
	}
	return events.Subscribe(ctx, h.mgr.Client(), *spec, ev, opts), nil
}

// Events decodes the named event from the logs this contract emitted in receipt.
func (h *Handle) Events(receipt *ethrpc.Receipt, event string) ([]*events.Record, error) {
	addr, err := h.bound()
	if err != nil {
		return nil, err
	}
	ev, err := h.abi.Event(event)
	if err != nil {
		return nil, err
	}
	var own []*ethrpc.Log
	for _, l := range receipt.Logs {
		if l.Address == addr {
			own = append(own, l)
		}
	}
	records, _ := events.FromLogs(ev, own)
	return records, nil
}

// AllEvents decodes every log of receipt emitted by this contract against
// every event in the ABI.
func (h *Handle) AllEvents(receipt *ethrpc.Receipt) ([]*events.Record, error) {
	addr, err := h.bound()
	if err != nil {
		return nil, err
	}
	byTopic := map[common.Hash]*abi.Event{}
	for _, ev := range h.abi.Events {
		if !ev.Anonymous {
			byTopic[ev.Topic()] = ev
		}
	}
	var out []*events.Record
	for _, l := range receipt.Logs {
		if l.Address != addr || len(l.Topics) == 0 {
			continue
		}
		ev, ok := byTopic[l.Topics[0]]
		if !ok {
			continue
		}
		if rec, err := events.Decode(ev, l); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
