package service

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/pkg/contract"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

const listenerRetryDelay = 5 * time.Second

// Listener follows every event of each bound contract and stores the
// decoded records. A contract that is re-bound gets fresh followers.
type Listener struct {
	store     *eventstore.Store
	opts      events.Options
	fromBlock uint64
	retry     time.Duration

	mux     sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running map[string]context.CancelFunc
}

func NewListener(st *eventstore.Store, opts events.Options, fromBlock uint64) *Listener {
	return &Listener{
		store:     st,
		opts:      opts,
		fromBlock: fromBlock,
		retry:     listenerRetryDelay,
		running:   map[string]context.CancelFunc{},
	}
}

// Start sets the lifetime of all followers. Contracts bound before Start
// are not followed.
func (l *Listener) Start(ctx context.Context) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Stop cancels all followers and waits for them to exit.
func (l *Listener) Stop() {
	l.mux.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mux.Unlock()
	l.wg.Wait()
}

// Watch is a BindFunc: it replaces the followers of name with ones for h.
func (l *Listener) Watch(name string, h *contract.Handle, from uint64) {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.ctx == nil || l.ctx.Err() != nil {
		return
	}
	if stop, ok := l.running[name]; ok {
		stop()
	}
	ctx, cancel := context.WithCancel(log.WithLogField(l.ctx, "listener", name))
	l.running[name] = cancel

	start := max(from, l.fromBlock)
	for _, event := range followedEvents(h) {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.follow(ctx, name, h, event, start)
		}()
	}
}

// followedEvents returns the signature of every distinct non-anonymous
// event. The ABI indexes each event by name and by signature.
func followedEvents(h *contract.Handle) []string {
	seen := map[string]bool{}
	var out []string
	for _, ev := range h.ABI().Events {
		sig := ev.Signature()
		if ev.Anonymous || seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, sig)
	}
	slices.Sort(out)
	return out
}

// follow runs one event subscription until ctx is done, restarting it from
// the last checkpoint after failures. event is the signature, which also
// keys the checkpoint.
func (l *Listener) follow(ctx context.Context, name string, h *contract.Handle, event string, start uint64) {
	ctx = log.WithLogField(ctx, "event", event)
	for ctx.Err() == nil {
		from := start
		next, ok, err := l.store.LoadCheckpoint(ctx, name, event)
		if err != nil {
			log.L(ctx).Errorf("Loading checkpoint failed: %s", err)
		} else if ok && next > from {
			from = next
		}
		err = l.run(ctx, name, h, event, from)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.L(ctx).Errorf("Event listener failed, retrying in %s: %s", l.retry, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) run(ctx context.Context, name string, h *contract.Handle, event string, from uint64) error {
	sub, err := h.Subscribe(ctx, event, from, l.opts)
	if err != nil {
		return err
	}
	defer sub.Close()
	log.L(ctx).Infof("Following %s events from block %d", event, from)

	for {
		rec, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := l.store.Save(ctx, name, []*events.Record{rec})
		if err != nil {
			return err
		}
		if n > 0 {
			log.L(ctx).Debugf("Stored %s at block %d", event, rec.Log.BlockNumber)
		}
		// Resume at the block of the last stored record; later records of
		// the fetched chunk may still be buffered.
		if err := l.store.SaveCheckpoint(ctx, name, event, uint64(rec.Log.BlockNumber)); err != nil {
			return err
		}
	}
}
