package txmgr

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

const (
	DefaultPollInterval        = time.Second
	DefaultConfirmationTimeout = 2 * time.Minute
)

// Poller waits for transaction receipts by polling eth_getTransactionReceipt.
type Poller struct {
	client *ethrpc.Client
}

func NewPoller(client *ethrpc.Client) *Poller {
	return &Poller{client: client}
}

// Await polls immediately and then every interval until a receipt appears.
// Once timeout has elapsed it gives up with ConfirmationTimeoutError, and it
// never issues more than ceil(timeout/interval) polls. Cancelling ctx only
// stops the wait and returns ctx.Err().
func (p *Poller) Await(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (*ethrpc.Receipt, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	maxPolls := int((timeout + interval - 1) / interval)

	pollCtx, cancel := context.WithDeadline(ctx, time.Now().Add(timeout))
	defer cancel()
	expired := func(attempts int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.L(ctx).Warnf("Transaction %s not mined after %s (%d polls)", hash.Hex(), timeout, attempts)
		return &ConfirmationTimeoutError{Hash: hash, Timeout: timeout}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		receipt, err := p.client.GetTransactionReceipt(pollCtx, hash)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, expired(attempt)
			}
			return nil, err
		}
		if receipt != nil {
			log.L(ctx).Infof("Transaction %s mined in block %d (status=%d gasUsed=%d) after %d polls",
				hash.Hex(), receipt.BlockNumber, receipt.Status, receipt.GasUsed, attempt)
			return receipt, nil
		}
		if attempt >= maxPolls {
			<-pollCtx.Done()
			return nil, expired(attempt)
		}
		select {
		case <-pollCtx.Done():
			return nil, expired(attempt)
		case <-ticker.C:
		}
	}
}
