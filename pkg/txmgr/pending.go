package txmgr

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// PendingTx is a submitted transaction awaiting its receipt.
type PendingTx struct {
	Hash  common.Hash
	Nonce uint64
	Tx    *types.Transaction

	mgr  *Manager
	from common.Address
}

// Result is the outcome delivered by PendingTx.Done.
type Result struct {
	Receipt *ethrpc.Receipt
	Err     error
}

// Wait blocks until the transaction is mined. A mined transaction with
// status 0 returns its receipt together with an ExecutionRevertedError.
func (p *PendingTx) Wait(ctx context.Context) (*ethrpc.Receipt, error) {
	ctx = log.WithLogField(ctx, "tx", p.Hash.Hex())
	receipt, err := p.mgr.poller.Await(ctx, p.Hash, p.mgr.pollInterval, p.mgr.timeout)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		err := p.mgr.replayRevert(ctx, p, receipt)
		log.L(ctx).Errorf("Transaction reverted: %s", err)
		return receipt, err
	}
	return receipt, nil
}

// Done runs Wait in the background and delivers the result on the
// returned channel, which is closed afterwards.
func (p *PendingTx) Done(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		receipt, err := p.Wait(ctx)
		ch <- Result{Receipt: receipt, Err: err}
	}()
	return ch
}
