package txmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

type NonceSource string

const (
	// NonceSourceNode queries eth_getTransactionCount(addr, "pending") for every send.
	NonceSourceNode NonceSource = "node"
	// NonceSourceLocal seeds from the node once and then counts locally.
	NonceSourceLocal NonceSource = "local"
)

func ParseNonceSource(s string) (NonceSource, error) {
	switch NonceSource(s) {
	case "", NonceSourceLocal:
		return NonceSourceLocal, nil
	case NonceSourceNode:
		return NonceSourceNode, nil
	default:
		return "", fmt.Errorf("unknown nonce source %q", s)
	}
}

// NonceTracker hands out nonces per sender. A sender's lock is held from
// Reserve until the lease is committed or rolled back, so two in-flight
// submissions never share a nonce.
type NonceTracker struct {
	client *ethrpc.Client
	source NonceSource

	mux     sync.Mutex
	senders map[common.Address]*senderNonce
}

type senderNonce struct {
	lock   chan struct{}
	next   uint64
	cached bool
}

func NewNonceTracker(client *ethrpc.Client, source NonceSource) *NonceTracker {
	if source == "" {
		source = NonceSourceLocal
	}
	return &NonceTracker{
		client:  client,
		source:  source,
		senders: make(map[common.Address]*senderNonce),
	}
}

func (t *NonceTracker) sender(addr common.Address) *senderNonce {
	t.mux.Lock()
	defer t.mux.Unlock()
	s, ok := t.senders[addr]
	if !ok {
		s = &senderNonce{lock: make(chan struct{}, 1)}
		t.senders[addr] = s
	}
	return s
}

// Reserve blocks until addr is free, then returns a lease on its next nonce.
// The lease must be completed with Commit or Rollback.
func (t *NonceTracker) Reserve(ctx context.Context, addr common.Address) (*NonceLease, error) {
	s := t.sender(addr)
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if t.source == NonceSourceNode || !s.cached {
		n, err := t.client.GetTransactionCount(ctx, addr, ethrpc.BlockPending)
		if err != nil {
			<-s.lock
			return nil, fmt.Errorf("query nonce for %s: %w", addr.Hex(), err)
		}
		log.L(ctx).Debugf("Nonce for %s synced from node: %d", addr.Hex(), n)
		s.next = n
		s.cached = true
	}
	return &NonceLease{sender: s, nonce: s.next}, nil
}

// NonceLease is a reserved nonce. The zero value is not usable.
type NonceLease struct {
	sender *senderNonce
	nonce  uint64
	done   bool
}

func (l *NonceLease) Nonce() uint64 { return l.nonce }

// Commit records the nonce as consumed and releases the sender.
func (l *NonceLease) Commit() {
	if l.done {
		return
	}
	l.done = true
	l.sender.next = l.nonce + 1
	<-l.sender.lock
}

// Rollback discards the cached nonce so the next reservation re-syncs from
// the node, and releases the sender.
func (l *NonceLease) Rollback() {
	if l.done {
		return
	}
	l.done = true
	l.sender.cached = false
	<-l.sender.lock
}
