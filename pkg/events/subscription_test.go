package events

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc/ethrpctest"
)

// chain is a fake log store answering eth_getLogs by block range.
type chain struct {
	mux    sync.Mutex
	head   uint64
	logs   []*ethrpc.Log
	ranges [][2]uint64
}

func (c *chain) add(l *ethrpc.Log) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.logs = append(c.logs, l)
	if uint64(l.BlockNumber) > c.head {
		c.head = uint64(l.BlockNumber)
	}
}

func (c *chain) blockNumber(context.Context) (uint64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.head, nil
}

func (c *chain) getLogs(_ context.Context, spec ethrpc.FilterSpec) ([]*ethrpc.Log, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	to := c.head
	if spec.ToBlock != nil {
		to = *spec.ToBlock
	}
	c.ranges = append(c.ranges, [2]uint64{spec.FromBlock, to})
	var out []*ethrpc.Log
	for _, l := range c.logs {
		if b := uint64(l.BlockNumber); b >= spec.FromBlock && b <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *chain) mock() *ethrpctest.MockEth {
	return &ethrpctest.MockEth{BlockNumber: c.blockNumber, GetLogs: c.getLogs}
}

func TestHistoricalChunked(t *testing.T) {
	c := &chain{}
	c.add(transferLog(t, alice, bob, 1, 5))
	removed := transferLog(t, alice, bob, 99, 1200)
	removed.Removed = true
	c.add(removed)
	foreign := transferLog(t, alice, bob, 98, 1500)
	foreign.Topics = foreign.Topics[:1]
	c.add(foreign)
	c.add(transferLog(t, bob, alice, 2, 2100))
	c.mux.Lock()
	c.head = 2500
	c.mux.Unlock()
	mock := c.mock()

	sub := Subscribe(context.Background(), ethrpc.NewClient(mock), ethrpc.FilterSpec{FromBlock: 0}, transferEvent,
		Options{Mode: Historical, ChunkSize: 1000})
	assert.Zero(t, mock.TotalCalls())

	var values []int64
	for rec, err := range sub.All(context.Background()) {
		require.NoError(t, err)
		v, _ := rec.Get("value")
		values = append(values, v.BigInt().Int64())
	}
	assert.Equal(t, []int64{1, 2}, values)
	assert.Equal(t, int64(2), sub.Skipped())
	assert.Equal(t, uint64(2501), sub.Checkpoint())
	assert.Equal(t, [][2]uint64{{0, 999}, {1000, 1999}, {2000, 2500}}, c.ranges)
	assert.Equal(t, 1, mock.Calls("eth_blockNumber"))

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestHistoricalBoundedRange(t *testing.T) {
	c := &chain{}
	c.add(transferLog(t, alice, bob, 1, 10))
	c.add(transferLog(t, alice, bob, 2, 20))
	c.add(transferLog(t, alice, bob, 3, 30))
	mock := c.mock()

	to := uint64(20)
	sub := Subscribe(context.Background(), ethrpc.NewClient(mock), ethrpc.FilterSpec{FromBlock: 15, ToBlock: &to}, transferEvent, Options{Mode: Follow})
	rec, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), uint64(rec.Log.BlockNumber))
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, mock.Calls("eth_blockNumber"))
}

func TestFollowPollsNewBlocks(t *testing.T) {
	c := &chain{}
	c.add(transferLog(t, alice, bob, 1, 3))
	mock := c.mock()

	sub := Subscribe(context.Background(), ethrpc.NewClient(mock), ethrpc.FilterSpec{FromBlock: 1}, transferEvent,
		Options{Mode: Follow, PollInterval: 5 * time.Millisecond})
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), uint64(rec.Log.BlockNumber))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.add(transferLog(t, bob, alice, 2, 6))
	}()
	rec, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), uint64(rec.Log.BlockNumber))
	assert.Equal(t, uint64(7), sub.Checkpoint())
	assert.Greater(t, mock.Calls("eth_blockNumber"), 1)
}

func TestCloseEndsSequence(t *testing.T) {
	c := &chain{head: 1}
	sub := Subscribe(context.Background(), ethrpc.NewClient(c.mock()), ethrpc.FilterSpec{FromBlock: 5}, transferEvent,
		Options{Mode: Follow, PollInterval: time.Hour})

	var got atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sub.Next(context.Background())
		got.Store(err)
	}()
	time.Sleep(20 * time.Millisecond)
	sub.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.ErrorIs(t, got.Load().(error), io.EOF)
}

func TestPushFallsBackToFollow(t *testing.T) {
	c := &chain{}
	c.add(transferLog(t, alice, bob, 1, 2))
	sub := Subscribe(context.Background(), ethrpc.NewClient(c.mock()), ethrpc.FilterSpec{FromBlock: 0}, transferEvent,
		Options{Mode: Push, PollInterval: 5 * time.Millisecond})
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := sub.Next(ctx)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.add(transferLog(t, alice, bob, 2, 4))
	}()
	rec, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), uint64(rec.Log.BlockNumber))
}

// pushEthService serves eth_blockNumber, eth_getLogs and log subscriptions
// from a chain.
type pushEthService struct {
	chain  *chain
	pushed []*ethrpc.Log
}

func (s *pushEthService) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	n, err := s.chain.blockNumber(ctx)
	return hexutil.Uint64(n), err
}

func (s *pushEthService) GetLogs(ctx context.Context, spec ethrpc.FilterSpec) ([]*ethrpc.Log, error) {
	return s.chain.getLogs(ctx, spec)
}

func (s *pushEthService) Logs(ctx context.Context, crit ethrpc.FilterSpec) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, l := range s.pushed {
			_ = notifier.Notify(sub.ID, l)
		}
	}()
	return sub, nil
}

func TestPushAfterBackfill(t *testing.T) {
	c := &chain{}
	c.add(transferLog(t, alice, bob, 1, 2))
	svc := &pushEthService{chain: c, pushed: []*ethrpc.Log{
		transferLog(t, alice, bob, 100, 1), // already backfilled, dropped
		transferLog(t, alice, bob, 3, 8),
		transferLog(t, alice, bob, 4, 9),
	}}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	rc := rpc.DialInProc(server)
	defer server.Stop()
	defer rc.Close()

	sub := Subscribe(context.Background(), ethrpc.NewClient(rc), ethrpc.FilterSpec{Addresses: []common.Address{tokenAddr}}, transferEvent,
		Options{Mode: Push})
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var values []int64
	for len(values) < 3 {
		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		v, _ := rec.Get("value")
		values = append(values, v.BigInt().Int64())
	}
	assert.Equal(t, []int64{1, 3, 4}, values)
	assert.Equal(t, uint64(9), sub.Checkpoint())
}

type droppableSub struct {
	errc chan error
}

func (d *droppableSub) Err() <-chan error { return d.errc }
func (d *droppableSub) Unsubscribe()      {}

func TestPushDropResumesWithoutDuplicates(t *testing.T) {
	first := transferLog(t, alice, bob, 1, 4)
	second := transferLog(t, alice, bob, 2, 4)
	second.LogIndex = 1
	third := transferLog(t, alice, bob, 3, 5)

	c := &chain{}
	c.add(first)
	sub := Subscribe(context.Background(), ethrpc.NewClient(c.mock()), ethrpc.FilterSpec{FromBlock: 4}, transferEvent,
		Options{Mode: Push, PollInterval: time.Millisecond})
	defer sub.Close()

	dropped := &droppableSub{errc: make(chan error, 1)}
	pushed := make(chan *ethrpc.Log, 1)
	sub.pushSub, sub.pushCh = dropped, pushed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pushed <- first
	rec, err := sub.Next(ctx)
	require.NoError(t, err)
	v, _ := rec.Get("value")
	assert.Equal(t, int64(1), v.BigInt().Int64())
	assert.Equal(t, uint64(4), sub.Checkpoint())

	c.add(second)
	c.add(third)
	dropped.errc <- io.ErrUnexpectedEOF

	var values []int64
	for len(values) < 2 {
		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		v, _ := rec.Get("value")
		values = append(values, v.BigInt().Int64())
	}
	assert.Equal(t, []int64{2, 3}, values)
	assert.Equal(t, uint64(6), sub.Checkpoint())
}
