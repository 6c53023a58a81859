// Package servicetest simulates a node running the bundled contracts, for
// tests of the service and the layers above it.
package servicetest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xueqianLu/ethcontract/internal/service"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc/ethrpctest"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

const ChainID = 1337

var (
	erc20ABI   = service.ERC20ABI()
	storageABI = service.StorageABI()
)

type kind int

const (
	erc20Kind kind = iota + 1
	storageKind
)

type token struct {
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

// Node mines every transaction into its own block. Contract creations are
// recognised by the bundled bytecode; calls run a Go model of the contract.
type Node struct {
	mux       sync.Mutex
	block     uint64
	nonces    map[common.Address]uint64
	contracts map[common.Address]kind
	tokens    map[common.Address]*token
	stored    map[common.Address]*big.Int
	receipts  map[common.Hash]*ethrpc.Receipt
	logs      []*ethrpc.Log
	mock      *ethrpctest.MockEth
}

func NewNode() *Node {
	n := &Node{
		block:     1,
		nonces:    map[common.Address]uint64{},
		contracts: map[common.Address]kind{},
		tokens:    map[common.Address]*token{},
		stored:    map[common.Address]*big.Int{},
		receipts:  map[common.Hash]*ethrpc.Receipt{},
	}
	n.mock = &ethrpctest.MockEth{
		ChainID:               func(context.Context) (uint64, error) { return ChainID, nil },
		BlockNumber:           func(context.Context) (uint64, error) { return n.Head(), nil },
		GasPrice:              func(context.Context) (*big.Int, error) { return big.NewInt(1), nil },
		EstimateGas:           func(context.Context, ethrpc.CallMsg) (uint64, error) { return 100000, nil },
		Call:                  n.call,
		GetTransactionCount:   n.nonce,
		SendRawTransaction:    n.send,
		GetTransactionReceipt: n.receipt,
		GetLogs:               n.getLogs,
	}
	return n
}

// Mock is the JSON-RPC transport backed by this node.
func (n *Node) Mock() *ethrpctest.MockEth { return n.mock }

func (n *Node) Head() uint64 {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.block
}

// Mine advances the head without transactions.
func (n *Node) Mine(blocks uint64) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.block += blocks
}

func (n *Node) Balance(tokenAddr, account common.Address) *big.Int {
	n.mux.Lock()
	defer n.mux.Unlock()
	t, ok := n.tokens[tokenAddr]
	if !ok {
		return nil
	}
	return new(big.Int).Set(balance(t.balances, account))
}

func (n *Node) Stored(addr common.Address) *big.Int {
	n.mux.Lock()
	defer n.mux.Unlock()
	if v, ok := n.stored[addr]; ok {
		return new(big.Int).Set(v)
	}
	return nil
}

func (n *Node) nonce(_ context.Context, addr common.Address, _ string) (uint64, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.nonces[addr], nil
}

func (n *Node) receipt(_ context.Context, hash common.Hash) (*ethrpc.Receipt, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.receipts[hash], nil
}

func (n *Node) call(_ context.Context, msg ethrpc.CallMsg, _ string) ([]byte, error) {
	if msg.To == nil {
		return nil, nil
	}
	var from common.Address
	if msg.From != nil {
		from = *msg.From
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	ret, _, revert, err := n.execute(from, *msg.To, msg.Data, false)
	if err != nil {
		return nil, err
	}
	if revert != nil {
		return nil, ethrpctest.Revert(revert)
	}
	return ret, nil
}

func (n *Node) send(_ context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &ethrpctest.Error{Code: -32602, Message: err.Error()}
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(ChainID)), tx)
	if err != nil {
		return common.Hash{}, &ethrpctest.Error{Code: -32000, Message: "invalid sender"}
	}

	n.mux.Lock()
	defer n.mux.Unlock()
	if tx.Nonce() != n.nonces[from] {
		return common.Hash{}, &ethrpctest.Error{Code: -32000, Message: fmt.Sprintf("nonce too low: next nonce %d, tx nonce %d", n.nonces[from], tx.Nonce())}
	}
	n.nonces[from]++
	n.block++

	receipt := &ethrpc.Receipt{
		TransactionHash: tx.Hash(),
		BlockNumber:     hexutil.Uint64(n.block),
		BlockHash:       common.BigToHash(new(big.Int).SetUint64(n.block)),
		From:            from,
		To:              tx.To(),
		GasUsed:         21000,
		Status:          1,
		Logs:            []*ethrpc.Log{},
	}
	if tx.To() == nil {
		addr := crypto.CreateAddress(from, tx.Nonce())
		switch data := common.Bytes2Hex(tx.Data()); {
		case strings.HasPrefix(data, service.ERC20Bytecode()):
			n.contracts[addr] = erc20Kind
			n.tokens[addr] = &token{supply: new(big.Int), balances: map[common.Address]*big.Int{}, allowances: map[[2]common.Address]*big.Int{}}
		case strings.HasPrefix(data, service.StorageBytecode()):
			n.contracts[addr] = storageKind
			n.stored[addr] = new(big.Int)
		default:
			receipt.Status = 0
		}
		if receipt.Status == 1 {
			receipt.ContractAddress = &addr
		}
	} else {
		_, logs, revert, err := n.execute(from, *tx.To(), tx.Data(), true)
		if err != nil || revert != nil {
			receipt.Status = 0
		}
		for i, l := range logs {
			l.BlockNumber = receipt.BlockNumber
			l.BlockHash = receipt.BlockHash
			l.TransactionHash = receipt.TransactionHash
			l.LogIndex = hexutil.Uint(i)
		}
		receipt.Logs = append(receipt.Logs, logs...)
		n.logs = append(n.logs, logs...)
	}
	n.receipts[tx.Hash()] = receipt
	return tx.Hash(), nil
}

func (n *Node) getLogs(_ context.Context, spec ethrpc.FilterSpec) ([]*ethrpc.Log, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	to := n.block
	if spec.ToBlock != nil {
		to = *spec.ToBlock
	}
	out := []*ethrpc.Log{}
	for _, l := range n.logs {
		bn := uint64(l.BlockNumber)
		if bn < spec.FromBlock || bn > to {
			continue
		}
		if len(spec.Addresses) > 0 && !slices.Contains(spec.Addresses, l.Address) {
			continue
		}
		if matchTopics(spec.Topics, l.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, slot := range filter {
		if len(slot) == 0 {
			continue
		}
		if i >= len(topics) || !slices.Contains(slot, topics[i]) {
			return false
		}
	}
	return true
}

func balance[K comparable](m map[K]*big.Int, a K) *big.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(big.Int)
}

func revertWith(reason string) []byte {
	data, _ := abi.Encode(abi.NewString(reason))
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, data...)
}

var errNoCode = errors.New("no contract code at address")

// execute runs calldata against the contract at to. State only changes
// when commit is set and the call does not revert.
func (n *Node) execute(from, to common.Address, data []byte, commit bool) (ret []byte, logs []*ethrpc.Log, revert []byte, err error) {
	k, ok := n.contracts[to]
	if !ok {
		return nil, nil, nil, errNoCode
	}
	if len(data) < 4 {
		return nil, nil, revertWith("unknown selector"), nil
	}
	a := erc20ABI
	if k == storageKind {
		a = storageABI
	}
	var fn *abi.Function
	for _, f := range a.Functions {
		sel := f.Selector()
		if bytes.Equal(sel[:], data[:4]) {
			fn = f
			break
		}
	}
	if fn == nil {
		return nil, nil, revertWith("unknown selector"), nil
	}
	args, err := fn.DecodeInputs(data)
	if err != nil {
		return nil, nil, revertWith("malformed calldata"), nil
	}
	if k == storageKind {
		return n.storage(to, fn.Name, args, commit)
	}
	return n.erc20(to, from, fn.Name, args, commit)
}

func (n *Node) storage(to common.Address, method string, args []abi.Value, commit bool) ([]byte, []*ethrpc.Log, []byte, error) {
	switch method {
	case "get":
		out, err := abi.Encode(abi.NewUint256(n.stored[to]))
		return out, nil, nil, err
	case "set":
		v := args[0].BigInt()
		if commit {
			n.stored[to] = v
		}
		return nil, []*ethrpc.Log{eventLog(storageABI, to, "DataChanged", nil, abi.NewUint256(v))}, nil, nil
	}
	return nil, nil, revertWith("unsupported"), nil
}

func (n *Node) erc20(to, sender common.Address, method string, args []abi.Value, commit bool) ([]byte, []*ethrpc.Log, []byte, error) {
	t := n.tokens[to]
	encode := func(v abi.Value) ([]byte, []*ethrpc.Log, []byte, error) {
		out, err := abi.Encode(v)
		return out, nil, nil, err
	}
	switch method {
	case "name":
		return encode(abi.NewString("ERC20Test"))
	case "symbol":
		return encode(abi.NewString("ETT"))
	case "decimals":
		return encode(abi.NewUint(8, big.NewInt(18)))
	case "totalSupply":
		return encode(abi.NewUint256(t.supply))
	case "balanceOf":
		return encode(abi.NewUint256(balance(t.balances, args[0].Address())))
	case "allowance":
		return encode(abi.NewUint256(balance(t.allowances, [2]common.Address{args[0].Address(), args[1].Address()})))
	}

	// Work on copies so a revert leaves no trace.
	balances := map[common.Address]*big.Int{}
	get := func(a common.Address) *big.Int {
		if v, ok := balances[a]; ok {
			return v
		}
		balances[a] = new(big.Int).Set(balance(t.balances, a))
		return balances[a]
	}
	supply := new(big.Int).Set(t.supply)
	var approval *[2]common.Address
	var approved *big.Int
	var logs []*ethrpc.Log
	move := func(from, dst common.Address, v *big.Int) []byte {
		if from != (common.Address{}) {
			if get(from).Cmp(v) < 0 {
				return revertWith("ERC20: transfer amount exceeds balance")
			}
			get(from).Sub(get(from), v)
		} else {
			supply.Add(supply, v)
		}
		if dst != (common.Address{}) {
			get(dst).Add(get(dst), v)
		} else {
			supply.Sub(supply, v)
		}
		logs = append(logs, eventLog(erc20ABI, to, "Transfer",
			[]common.Hash{addrTopic(from), addrTopic(dst)}, abi.NewUint256(v)))
		return nil
	}

	var revert []byte
	switch method {
	case "mint":
		revert = move(common.Address{}, args[0].Address(), args[1].BigInt())
	case "transfer":
		revert = move(sender, args[0].Address(), args[1].BigInt())
	case "burn":
		revert = move(sender, common.Address{}, args[0].BigInt())
	case "approve":
		key := [2]common.Address{sender, args[0].Address()}
		approval, approved = &key, args[1].BigInt()
		logs = append(logs, eventLog(erc20ABI, to, "Approval",
			[]common.Hash{addrTopic(sender), addrTopic(args[0].Address())}, abi.NewUint256(approved)))
	case "transferFrom":
		owner, v := args[0].Address(), args[2].BigInt()
		key := [2]common.Address{owner, sender}
		allowed := balance(t.allowances, key)
		if allowed.Cmp(v) < 0 {
			revert = revertWith("ERC20: insufficient allowance")
			break
		}
		approval, approved = &key, new(big.Int).Sub(allowed, v)
		revert = move(owner, args[1].Address(), v)
	default:
		revert = revertWith("unsupported")
	}
	if revert != nil {
		return nil, nil, revert, nil
	}
	if commit {
		for a, v := range balances {
			t.balances[a] = v
		}
		t.supply = supply
		if approval != nil {
			t.allowances[*approval] = approved
		}
	}
	out, err := abi.Encode(abi.NewBool(true))
	return out, logs, nil, err
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func eventLog(a *abi.ABI, address common.Address, event string, indexed []common.Hash, data ...abi.Value) *ethrpc.Log {
	ev, err := a.Event(event)
	if err != nil {
		panic(err)
	}
	body, err := abi.Encode(data...)
	if err != nil {
		panic(err)
	}
	return &ethrpc.Log{
		Address: address,
		Topics:  append([]common.Hash{ev.Topic()}, indexed...),
		Data:    body,
	}
}

// KeySigner signs with an in-memory key.
type KeySigner struct {
	Key *ecdsa.PrivateKey
}

func NewKeySigner() *KeySigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &KeySigner{Key: key}
}

func (s *KeySigner) Address() common.Address { return crypto.PubkeyToAddress(s.Key.PublicKey) }

func (s *KeySigner) SignTx(_ common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.Key)
}

// NewManager returns a transaction manager sending from a fresh key
// through the node.
func (n *Node) NewManager(ctx context.Context) (*txmgr.Manager, *KeySigner, error) {
	s := NewKeySigner()
	mgr, err := txmgr.NewManager(ctx, ethrpc.NewClient(n.mock), s, txmgr.Config{
		From:                s.Address(),
		ChainID:             big.NewInt(ChainID),
		Gas:                 &txmgr.FixedGas{Limit: 3_000_000, Price: big.NewInt(1)},
		PollInterval:        time.Millisecond,
		ConfirmationTimeout: 2 * time.Second,
	})
	return mgr, s, err
}
