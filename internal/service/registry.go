// Package service exposes named contracts (the bundled ERC-20 token and
// SimpleStorage plus any contract registered at runtime) on top of the
// contract engine, and keeps their addresses in the registry store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/ethcontract/internal/store"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/contract"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrNoBytecode      = errors.New("contract has no bytecode to deploy")
	ErrReadOnly        = errors.New("function is read-only, use call")
	ErrInvalidContract = errors.New("invalid contract registration")
)

// TxResult summarises a mined transaction.
type TxResult struct {
	Message         string           `json:"message"`
	TransactionHash common.Hash      `json:"transactionHash"`
	BlockNumber     uint64           `json:"blockNumber"`
	GasUsed         uint64           `json:"gasUsed"`
	Status          uint64           `json:"status"`
	ContractAddress *common.Address  `json:"contractAddress,omitempty"`
	Events          []*events.Record `json:"events"`
}

func newTxResult(message string, receipt *ethrpc.Receipt, address *common.Address, records []*events.Record) *TxResult {
	if records == nil {
		records = []*events.Record{}
	}
	return &TxResult{
		Message:         message,
		TransactionHash: receipt.TransactionHash,
		BlockNumber:     uint64(receipt.BlockNumber),
		GasUsed:         uint64(receipt.GasUsed),
		Status:          uint64(receipt.Status),
		ContractAddress: address,
		Events:          records,
	}
}

// BindFunc is notified whenever a named contract gets a new address.
// from is the first block worth scanning for its events.
type BindFunc func(name string, h *contract.Handle, from uint64)

// Registry owns the named contracts of the service.
type Registry struct {
	mgr       *txmgr.Manager
	store     store.Registry
	libraries map[string]common.Address

	mux       sync.RWMutex
	contracts map[string]*Managed
	onBind    []BindFunc
}

func NewRegistry(mgr *txmgr.Manager, st store.Registry, libraries map[string]common.Address) *Registry {
	r := &Registry{
		mgr:       mgr,
		store:     st,
		libraries: libraries,
		contracts: map[string]*Managed{},
	}
	r.define(ERC20Name, ERC20ABI(), ERC20Bytecode())
	r.define(StorageName, StorageABI(), StorageBytecode())
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) define(name string, a *abi.ABI, bytecode string) *Managed {
	m := &Managed{name: normalize(name), abi: a, bytecode: bytecode, reg: r}
	m.handle = contract.New(a, r.mgr)
	r.mux.Lock()
	r.contracts[m.name] = m
	r.mux.Unlock()
	return m
}

// OnBind registers fn for every later deploy, load or registration.
func (r *Registry) OnBind(fn BindFunc) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.onBind = append(r.onBind, fn)
}

func (r *Registry) notify(name string, h *contract.Handle, from uint64) {
	r.mux.RLock()
	hooks := slices.Clone(r.onBind)
	r.mux.RUnlock()
	for _, fn := range hooks {
		fn(name, h, from)
	}
}

func (r *Registry) Manager() *txmgr.Manager { return r.mgr }

func (r *Registry) Get(name string) (*Managed, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	m, ok := r.contracts[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	return m, nil
}

// Names lists the known contracts in order.
func (r *Registry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds or replaces a runtime contract described by its ABI JSON and
// binds it to address.
func (r *Registry) Register(ctx context.Context, name string, abiJSON []byte, address common.Address) (*Managed, error) {
	name = normalize(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidContract)
	}
	if name == ERC20Name || name == StorageName {
		return nil, fmt.Errorf("%w: %s is a built-in contract, use load", ErrInvalidContract, name)
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidContract)
	}
	a, err := abi.ParseJSON(abiJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	m := r.define(name, a, "")
	if err := m.bindTo(ctx, address, 0, abiJSON); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore re-binds contracts from the registry store; explicit addresses
// (from configuration) take precedence.
func (r *Registry) Restore(ctx context.Context, explicit map[string]common.Address) error {
	entries, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}
	for _, e := range entries {
		if _, ok := explicit[e.Name]; ok {
			continue
		}
		if len(e.ABI) > 0 {
			if _, err := r.Register(ctx, e.Name, e.ABI, e.Address); err != nil {
				log.L(ctx).Warnf("Skipping registry entry %s: %v", e.Name, err)
			}
			continue
		}
		m, err := r.Get(e.Name)
		if err != nil {
			log.L(ctx).Warnf("Skipping registry entry %s: %v", e.Name, err)
			continue
		}
		if err := m.Load(ctx, e.Address); err != nil {
			return err
		}
	}
	for name, addr := range explicit {
		m, err := r.Get(name)
		if err != nil {
			return err
		}
		if err := m.Load(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// Managed is a named contract whose address can change through deploy or
// load. Each address gets its own bind-once contract.Handle.
type Managed struct {
	name     string
	abi      *abi.ABI
	bytecode string
	reg      *Registry

	mux    sync.RWMutex
	handle *contract.Handle
}

func (m *Managed) Name() string { return m.name }

func (m *Managed) ABI() *abi.ABI { return m.abi }

// Handle returns the current handle, unbound before deploy or load.
func (m *Managed) Handle() *contract.Handle {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return m.handle
}

func (m *Managed) Address() (common.Address, bool) {
	return m.Handle().Address()
}

func (m *Managed) bindTo(ctx context.Context, address common.Address, from uint64, abiJSON json.RawMessage) error {
	h := contract.At(m.abi, m.reg.mgr, address)
	if err := m.reg.store.Put(ctx, &store.Entry{Name: m.name, Address: address, ABI: abiJSON}); err != nil {
		return fmt.Errorf("persist %s address: %w", m.name, err)
	}
	m.mux.Lock()
	m.handle = h
	m.mux.Unlock()
	log.L(ctx).Infof("Contract %s bound to %s", m.name, address.Hex())
	m.reg.notify(m.name, h, from)
	return nil
}

// Load binds the contract to an existing deployment.
func (m *Managed) Load(ctx context.Context, address common.Address) error {
	if address == (common.Address{}) {
		return fmt.Errorf("%w: zero address", abi.ErrArgumentMismatch)
	}
	var abiJSON json.RawMessage
	if m.bytecode == "" {
		if e, err := m.reg.store.Get(ctx, m.name); err == nil {
			abiJSON = e.ABI
		}
	}
	return m.bindTo(ctx, address, 0, abiJSON)
}

// Deploy creates a new instance and binds to it once mined. Earlier
// deployments stay on chain but are no longer addressed by name.
func (m *Managed) Deploy(ctx context.Context, opts *contract.DeployOptions, args ...abi.Value) (*TxResult, error) {
	if m.bytecode == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBytecode, m.name)
	}
	if opts == nil {
		opts = &contract.DeployOptions{}
	}
	if opts.Libraries == nil {
		opts.Libraries = m.reg.libraries
	}
	ctx = log.WithLogField(ctx, "contract", m.name)
	h := contract.New(m.abi, m.reg.mgr)
	d, err := h.Deploy(ctx, m.bytecode, opts, args...)
	if err != nil {
		return nil, err
	}
	log.L(ctx).Infof("Deploying %s in transaction %s", m.name, d.Hash.Hex())
	receipt, err := d.Wait(ctx)
	if err != nil {
		return nil, err
	}
	address, _ := h.Address()
	if err := m.bindTo(ctx, address, uint64(receipt.BlockNumber), nil); err != nil {
		return nil, err
	}
	records, err := h.AllEvents(receipt)
	if err != nil {
		return nil, err
	}
	return newTxResult(fmt.Sprintf("%s contract deployed successfully", m.name), receipt, &address, records), nil
}

// Transact sends a state changing call and waits for it to be mined.
func (m *Managed) Transact(ctx context.Context, message, method string, opts *txmgr.SendOptions, args ...abi.Value) (*TxResult, error) {
	h := m.Handle()
	tx, err := h.Transact(ctx, method, opts, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return nil, err
	}
	records, err := h.AllEvents(receipt)
	if err != nil {
		return nil, err
	}
	address, _ := h.Address()
	return newTxResult(message, receipt, &address, records), nil
}

func (m *Managed) Call(ctx context.Context, method string, args ...abi.Value) ([]abi.Value, error) {
	return m.Handle().Call(ctx, method, args...)
}

// CallRaw converts loosely typed args (decoded JSON) and calls method.
func (m *Managed) CallRaw(ctx context.Context, method string, args []any) ([]abi.Value, error) {
	fn, err := m.abi.Function(method)
	if err != nil {
		return nil, err
	}
	values, err := fn.ConvertArgs(args...)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, method, values...)
}

// SendRaw converts loosely typed args and sends method.
func (m *Managed) SendRaw(ctx context.Context, method string, opts *txmgr.SendOptions, args []any) (*TxResult, error) {
	fn, err := m.abi.Function(method)
	if err != nil {
		return nil, err
	}
	if fn.IsReadOnly() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, fn.Signature())
	}
	values, err := fn.ConvertArgs(args...)
	if err != nil {
		return nil, err
	}
	return m.Transact(ctx, fmt.Sprintf("%s successful", method), method, opts, values...)
}

// Events queries past logs of the named event over [from, to].
func (m *Managed) Events(ctx context.Context, event string, from uint64, to *uint64, constraints ...events.Constraint) ([]*events.Record, error) {
	return m.Handle().FilterLogs(ctx, event, from, to, constraints...)
}
