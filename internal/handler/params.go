package handler

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/config"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

func addressParam(c *gin.Context, key string) (common.Address, error) {
	s := c.Query(key)
	if s == "" {
		return common.Address{}, fmt.Errorf("%w: %s is required", errInput, key)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address: %q", errInput, key, s)
	}
	return common.HexToAddress(s), nil
}

func optionalAddressParam(c *gin.Context, key string) (*common.Address, error) {
	if c.Query(key) == "" {
		return nil, nil
	}
	a, err := addressParam(c, key)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// amountParam accepts integer amounts, also in scientific notation (1e18).
func amountParam(c *gin.Context, key string) (*big.Int, error) {
	s := c.Query(key)
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required", errInput, key)
	}
	n, err := config.ParseWei(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errInput, key, err)
	}
	return n, nil
}

func blockParam(c *gin.Context, key string) (*uint64, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a block number", errInput, key)
	}
	return &n, nil
}

func weiField(name, s string) (*big.Int, error) {
	n, err := config.ParseWei(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errInput, name, err)
	}
	return n, nil
}

// sendOptions builds per-transaction overrides, nil when none are set.
func (r *InvokeRequest) sendOptions() (*txmgr.SendOptions, error) {
	opts := &txmgr.SendOptions{GasLimit: r.GasLimit}
	var err error
	if opts.Value, err = weiField("value", r.Value); err != nil {
		return nil, err
	}
	if opts.GasPrice, err = weiField("gasPrice", r.GasPrice); err != nil {
		return nil, err
	}
	if opts.MaxFeePerGas, err = weiField("maxFeePerGas", r.MaxFeePerGas); err != nil {
		return nil, err
	}
	if opts.MaxPriorityFeePerGas, err = weiField("maxPriorityFeePerGas", r.MaxPriorityFeePerGas); err != nil {
		return nil, err
	}
	if *opts == (txmgr.SendOptions{}) {
		return nil, nil
	}
	return opts, nil
}
