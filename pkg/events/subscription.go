package events

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

type Mode int

const (
	// Historical reads a finite block range and then ends with io.EOF.
	Historical Mode = iota
	// Follow reads the range up to the head and then polls for new blocks.
	Follow
	// Push reads up to the head and then switches to eth_subscribe("logs"),
	// falling back to Follow when the transport cannot push.
	Push
)

func (m Mode) String() string {
	switch m {
	case Follow:
		return "follow"
	case Push:
		return "push"
	default:
		return "historical"
	}
}

const (
	DefaultChunkSize    = 1000
	DefaultPollInterval = time.Second
)

type Options struct {
	Mode         Mode
	ChunkSize    uint64        // blocks per eth_getLogs request
	PollInterval time.Duration // head polling in Follow mode
}

// Subscription is a lazy sequence of decoded events. Nothing is requested
// from the node until the first Next. It is not safe for concurrent Next
// calls.
type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *ethrpc.Client
	spec   ethrpc.FilterSpec
	ev     *abi.Event
	mode   Mode
	chunk  uint64
	poll   time.Duration

	next    atomic.Uint64
	head    uint64
	hasHead bool
	buffer  []*Record
	skipped atomic.Int64
	closed  atomic.Bool

	pushMux sync.Mutex
	pushSub ethereum.Subscription
	pushCh  chan *ethrpc.Log

	// position of the last pushed log; after a dropped push subscription,
	// logs at or before it are not delivered again.
	lastPushed *logPosition
	resume     *logPosition
}

type logPosition struct {
	block uint64
	index uint
}

func (p logPosition) covers(l *ethrpc.Log) bool {
	b := uint64(l.BlockNumber)
	return b < p.block || (b == p.block && uint(l.LogIndex) <= p.index)
}

// Subscribe creates a subscription for ev logs matching spec, starting at
// spec.FromBlock. A non-nil spec.ToBlock bounds the sequence in every mode.
func Subscribe(ctx context.Context, client *ethrpc.Client, spec ethrpc.FilterSpec, ev *abi.Event, opts Options) *Subscription {
	s := &Subscription{
		client: client,
		spec:   spec,
		ev:     ev,
		mode:   opts.Mode,
		chunk:  opts.ChunkSize,
		poll:   opts.PollInterval,
	}
	if s.chunk == 0 {
		s.chunk = DefaultChunkSize
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.next.Store(spec.FromBlock)
	return s
}

// Skipped counts logs dropped because they were removed by a reorg or did
// not decode as the event.
func (s *Subscription) Skipped() int64 { return s.skipped.Load() }

// Checkpoint is the block to resume from with a new subscription. While
// pushing it is the block of the last pushed log, so a new subscription may
// see that block's delivered logs again.
func (s *Subscription) Checkpoint() uint64 { return s.next.Load() }

// Close ends the sequence. Subsequent Next calls return io.EOF.
func (s *Subscription) Close() {
	s.closed.Store(true)
	s.cancel()
	s.pushMux.Lock()
	defer s.pushMux.Unlock()
	if s.pushSub != nil {
		s.pushSub.Unsubscribe()
		s.pushSub = nil
	}
}

// Next returns the next decoded event, io.EOF at the end of a bounded
// sequence or after Close.
func (s *Subscription) Next(ctx context.Context) (*Record, error) {
	for {
		if len(s.buffer) > 0 {
			rec := s.buffer[0]
			s.buffer = s.buffer[1:]
			return rec, nil
		}
		if s.closed.Load() {
			return nil, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.fill(ctx); err != nil {
			if s.closed.Load() {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// All ranges over the sequence until it ends, an error occurs or the loop
// breaks. An error is yielded once as the final element.
func (s *Subscription) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (s *Subscription) bounded() bool {
	return s.spec.ToBlock != nil || s.mode == Historical
}

// target returns the last block currently worth reading.
func (s *Subscription) target(ctx context.Context) (uint64, error) {
	if s.spec.ToBlock != nil {
		return *s.spec.ToBlock, nil
	}
	if s.hasHead && (s.mode == Historical || s.next.Load() <= s.head) {
		return s.head, nil
	}
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	s.head, s.hasHead = head, true
	return head, nil
}

func (s *Subscription) fill(ctx context.Context) error {
	if s.pushing() {
		return s.receive(ctx)
	}
	end, err := s.target(ctx)
	if err != nil {
		return err
	}
	next := s.next.Load()
	if next > end {
		if s.bounded() {
			return io.EOF
		}
		if s.mode == Push {
			err := s.startPush(ctx)
			if err == nil || !errors.Is(err, ethrpc.ErrNotificationsUnsupported) {
				return err
			}
			log.L(ctx).Warnf("Push subscription for %s unavailable, following by polling", s.ev.Name)
			s.mode = Follow
		}
		return s.wait(ctx)
	}
	return s.fetch(ctx, next, min(next+s.chunk-1, end))
}

func (s *Subscription) fetch(ctx context.Context, from, to uint64) error {
	logs, err := s.client.GetLogs(ctx, s.spec.Range(from, to))
	if err != nil {
		return err
	}
	s.enqueue(ctx, logs)
	s.next.Store(to + 1)
	if s.resume != nil && to >= s.resume.block {
		s.resume = nil
	}
	log.L(ctx).Debugf("Fetched %d %s logs in blocks %d-%d", len(logs), s.ev.Name, from, to)
	return nil
}

func (s *Subscription) enqueue(ctx context.Context, logs []*ethrpc.Log) {
	if s.resume != nil {
		var fresh []*ethrpc.Log
		for _, l := range logs {
			if !s.resume.covers(l) {
				fresh = append(fresh, l)
			}
		}
		logs = fresh
	}
	records, skipped := FromLogs(s.ev, logs)
	if skipped > 0 {
		s.skipped.Add(int64(skipped))
		log.L(ctx).Debugf("Skipped %d logs not matching %s", skipped, s.ev.Signature())
	}
	s.buffer = append(s.buffer, records...)
}

func (s *Subscription) wait(ctx context.Context) error {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Subscription) pushing() bool {
	s.pushMux.Lock()
	defer s.pushMux.Unlock()
	return s.pushSub != nil
}

// startPush subscribes and then reads any blocks mined before the
// subscription became active. Pushed logs for those blocks are dropped.
func (s *Subscription) startPush(ctx context.Context) error {
	ch := make(chan *ethrpc.Log, 128)
	sub, err := s.client.SubscribeLogs(s.ctx, s.spec, ch)
	if err != nil {
		return err
	}
	s.pushMux.Lock()
	s.pushSub, s.pushCh = sub, ch
	s.pushMux.Unlock()

	err = s.catchUp(ctx)
	if err != nil {
		s.pushMux.Lock()
		s.pushSub = nil
		s.pushMux.Unlock()
		sub.Unsubscribe()
	}
	return err
}

func (s *Subscription) catchUp(ctx context.Context) error {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	for next := s.next.Load(); next <= head; next = s.next.Load() {
		if err := s.fetch(ctx, next, min(next+s.chunk-1, head)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscription) receive(ctx context.Context) error {
	s.pushMux.Lock()
	sub, ch := s.pushSub, s.pushCh
	s.pushMux.Unlock()

	select {
	case l := <-ch:
		block := uint64(l.BlockNumber)
		if block < s.next.Load() {
			return nil
		}
		s.enqueue(ctx, []*ethrpc.Log{l})
		s.next.Store(block)
		s.lastPushed = &logPosition{block: block, index: uint(l.LogIndex)}
		return nil
	case err := <-sub.Err():
		// Resume from the checkpoint by polling, then subscribe again.
		log.L(ctx).Warnf("Push subscription for %s dropped: %v", s.ev.Name, err)
		s.resume = s.lastPushed
		s.pushMux.Lock()
		s.pushSub = nil
		s.pushMux.Unlock()
		sub.Unsubscribe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
