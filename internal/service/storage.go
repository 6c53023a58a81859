package service

import (
	"context"
	"math/big"

	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// Storage drives the bundled SimpleStorage contract.
type Storage struct {
	*Managed
}

func NewStorage(r *Registry) *Storage {
	m, err := r.Get(StorageName)
	if err != nil {
		panic(err)
	}
	return &Storage{Managed: m}
}

func (s *Storage) Set(ctx context.Context, value *big.Int) (*TxResult, error) {
	log.L(ctx).Infof("Setting stored value to %s", value)
	return s.Transact(ctx, "Set successful", "set", nil, abi.NewUint256(value))
}

func (s *Storage) Get(ctx context.Context) (*big.Int, error) {
	out, err := s.Call(ctx, "get")
	if err != nil {
		return nil, err
	}
	return out[0].BigInt(), nil
}
