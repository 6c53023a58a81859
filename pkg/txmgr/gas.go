package txmgr

import (
	"context"
	"fmt"
	"math/big"

	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// GasParams are the fee fields of one transaction. A non-nil MaxFee selects
// a dynamic fee transaction, otherwise Price is used for a legacy one.
type GasParams struct {
	Limit  uint64
	Price  *big.Int
	MaxFee *big.Int
	TipCap *big.Int
}

func (g *GasParams) dynamic() bool { return g.MaxFee != nil }

// GasStrategy decides gas for a transaction about to be sent.
type GasStrategy interface {
	GasParams(ctx context.Context, client *ethrpc.Client, msg ethrpc.CallMsg) (*GasParams, error)
}

// FixedGas uses the same configured values for every transaction.
type FixedGas struct {
	Limit  uint64
	Price  *big.Int
	MaxFee *big.Int
	TipCap *big.Int
}

func (f *FixedGas) GasParams(ctx context.Context, _ *ethrpc.Client, _ ethrpc.CallMsg) (*GasParams, error) {
	if f.Limit == 0 {
		return nil, fmt.Errorf("fixed gas strategy without a gas limit")
	}
	if f.Price == nil && f.MaxFee == nil {
		return nil, fmt.Errorf("fixed gas strategy without a gas price or max fee")
	}
	return &GasParams{Limit: f.Limit, Price: f.Price, MaxFee: f.MaxFee, TipCap: f.TipCap}, nil
}

// NodeGas asks the node: eth_gasPrice for the price and eth_estimateGas
// scaled by Factor for the limit. FallbackLimit, when set, is used if the
// estimate fails for a reason other than a revert.
type NodeGas struct {
	Factor        float64
	FallbackLimit uint64
}

func (n *NodeGas) GasParams(ctx context.Context, client *ethrpc.Client, msg ethrpc.CallMsg) (*GasParams, error) {
	price, err := client.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	limit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		if data, ok := ethrpc.RevertData(err); ok {
			reason, _ := abi.DecodeRevert(data)
			return nil, &ExecutionRevertedError{Reason: reason, Data: data}
		}
		if n.FallbackLimit == 0 {
			return nil, err
		}
		log.L(ctx).Warnf("eth_estimateGas failed, using fallback limit %d: %s", n.FallbackLimit, err)
		return &GasParams{Limit: n.FallbackLimit, Price: price}, nil
	}
	factor := n.Factor
	if factor < 1 {
		factor = 1
	}
	scaled, _ := new(big.Float).Mul(new(big.Float).SetUint64(limit), big.NewFloat(factor)).Uint64()
	return &GasParams{Limit: scaled, Price: price}, nil
}

// apply overrides g with any values set in opts.
func (o *SendOptions) apply(g *GasParams) {
	if o == nil {
		return
	}
	if o.GasLimit > 0 {
		g.Limit = o.GasLimit
	}
	if o.GasPrice != nil {
		g.Price, g.MaxFee, g.TipCap = o.GasPrice, nil, nil
	}
	if o.MaxFeePerGas != nil {
		g.MaxFee = o.MaxFeePerGas
		g.TipCap = o.MaxPriorityFeePerGas
		if g.TipCap == nil {
			g.TipCap = new(big.Int)
		}
	}
}
