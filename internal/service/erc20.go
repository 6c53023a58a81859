package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// ERC20 drives the bundled ERC-20 token.
type ERC20 struct {
	*Managed
}

func NewERC20(r *Registry) *ERC20 {
	m, err := r.Get(ERC20Name)
	if err != nil {
		panic(err)
	}
	return &ERC20{Managed: m}
}

type TokenInfo struct {
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"totalSupply"`
	Address     common.Address `json:"contractAddress"`
}

func (e *ERC20) Mint(ctx context.Context, to common.Address, amount *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Minting %s tokens to %s", amount, to.Hex())
	return e.Transact(ctx, "Mint successful", "mint", nil, abi.NewAddress(to), abi.NewUint256(amount))
}

func (e *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Transferring %s tokens to %s", amount, to.Hex())
	return e.Transact(ctx, "Transfer successful", "transfer", nil, abi.NewAddress(to), abi.NewUint256(amount))
}

func (e *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Approving %s tokens to spender %s", amount, spender.Hex())
	return e.Transact(ctx, "Approval successful", "approve", nil, abi.NewAddress(spender), abi.NewUint256(amount))
}

func (e *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Transferring %s tokens from %s to %s", amount, from.Hex(), to.Hex())
	return e.Transact(ctx, "TransferFrom successful", "transferFrom", nil, abi.NewAddress(from), abi.NewAddress(to), abi.NewUint256(amount))
}

func (e *ERC20) Burn(ctx context.Context, amount *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Burning %s tokens", amount)
	return e.Transact(ctx, "Burn successful", "burn", nil, abi.NewUint256(amount))
}

func (e *ERC20) uint256(ctx context.Context, method string, args ...abi.Value) (*big.Int, error) {
	out, err := e.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	return out[0].BigInt(), nil
}

func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.uint256(ctx, "balanceOf", abi.NewAddress(account))
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return e.uint256(ctx, "allowance", abi.NewAddress(owner), abi.NewAddress(spender))
}

func (e *ERC20) Info(ctx context.Context) (*TokenInfo, error) {
	info := &TokenInfo{}
	info.Address, _ = e.Address()
	name, err := e.Call(ctx, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := e.Call(ctx, "symbol")
	if err != nil {
		return nil, err
	}
	decimals, err := e.uint256(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	if info.TotalSupply, err = e.uint256(ctx, "totalSupply"); err != nil {
		return nil, err
	}
	info.Name = name[0].Text()
	info.Symbol = symbol[0].Text()
	info.Decimals = uint8(decimals.Uint64())
	return info, nil
}

// Transfers returns Transfer events over [from, to], optionally narrowed
// to a sender and/or recipient.
func (e *ERC20) Transfers(ctx context.Context, from uint64, to *uint64, sender, recipient *common.Address) ([]*events.Record, error) {
	var constraints []events.Constraint
	if sender != nil {
		constraints = append(constraints, events.Match("from", *sender))
	}
	if recipient != nil {
		constraints = append(constraints, events.Match("to", *recipient))
	}
	return e.Events(ctx, "Transfer", from, to, constraints...)
}
