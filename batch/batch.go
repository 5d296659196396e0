// Package batch implements the microtask query batcher: one-shot queries
// issued against the same endpoint key within the same tick of the event
// loop are coalesced into a single transport call with a merged
// selection.
//
// Go has no microtask queue, so scheduling is abstracted behind a
// Scheduler: "defer work until the current synchronous burst of Enqueue
// calls completes". The default Scheduler defers via a zero-delay timer,
// the nearest Go substitute for a JS microtask. This mirrors thunder's
// batch.Func in structure: a pending group accumulates work under a
// mutex, a trigger fires it once, and every caller waiting on that group
// shares its single result.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/selection"
)

// QueryFunc issues one merged query to the transport for key, returning
// the unfiltered response.
type QueryFunc func(ctx context.Context, key endpoint.Key, merged selection.Selection) (interface{}, error)

// Scheduler defers f until the current synchronous work is believed to
// be done. It exists so tests can flush deterministically instead of
// racing a real timer.
type Scheduler interface {
	Defer(f func())
}

type timerScheduler struct{}

func (timerScheduler) Defer(f func()) {
	time.AfterFunc(0, f)
}

// DefaultScheduler defers via a zero-delay timer.
var DefaultScheduler Scheduler = timerScheduler{}

type waiter struct {
	selection selection.Selection
	resolve   func(interface{})
	reject    func(error)
}

// group is a single pending batched invocation for one endpoint key,
// shaped after thunder's batchGroup (args/doneCh/result/err).
type group struct {
	waiters []*waiter
	merged  selection.Selection
	doneCh  chan struct{}
	result  interface{}
	err     error
}

// Batcher coalesces Enqueue calls per endpoint key.
type Batcher struct {
	mu        sync.Mutex
	pending   map[endpoint.Key]*group
	query     QueryFunc
	scheduler Scheduler
	registry  *endpoint.Registry
}

// New builds a Batcher. registry may be nil; when set, a successful
// flush warms the endpoint's cached data.
func New(query QueryFunc, registry *endpoint.Registry) *Batcher {
	return &Batcher{
		pending:   make(map[endpoint.Key]*group),
		query:     query,
		scheduler: DefaultScheduler,
		registry:  registry,
	}
}

// Enqueue registers a one-shot query for key with sel, returning a
// channel that receives exactly one result once the batch flushes.
// Different keys flush independently; a failure on one key never
// affects waiters on another.
func (b *Batcher) Enqueue(ctx context.Context, key endpoint.Key, sel selection.Selection) <-chan Outcome {
	out := make(chan Outcome, 1)
	w := &waiter{
		selection: sel,
		resolve:   func(v interface{}) { out <- Outcome{Value: v} },
		reject:    func(err error) { out <- Outcome{Err: err} },
	}

	b.mu.Lock()
	g, existed := b.pending[key]
	if !existed {
		g = &group{doneCh: make(chan struct{})}
		b.pending[key] = g
	}
	g.waiters = append(g.waiters, w)
	if existed {
		g.merged = selection.Merge(g.merged, sel)
	} else {
		g.merged = sel
	}
	b.mu.Unlock()

	if !existed {
		b.scheduler.Defer(func() { b.flush(ctx, key, g) })
	}
	return out
}

// Outcome is the filtered result (or error) delivered to one waiter.
type Outcome struct {
	Value interface{}
	Err   error
}

func (b *Batcher) flush(ctx context.Context, key endpoint.Key, g *group) {
	b.mu.Lock()
	if b.pending[key] == g {
		delete(b.pending, key)
	}
	b.mu.Unlock()

	g.result, g.err = b.safeQuery(ctx, key, g.merged)
	close(g.doneCh)

	if g.err != nil {
		for _, w := range g.waiters {
			w.reject(g.err)
		}
		return
	}

	if b.registry != nil {
		if state, ok := b.registry.Lookup(key); ok {
			state.CacheData(g.result)
		}
	}

	for _, w := range g.waiters {
		w.resolve(selection.Filter(g.result, w.selection))
	}
}

// safeQuery recovers a panicking QueryFunc into an error, mirroring
// thunder's batch.safeInvoke defensive wrapping of a user-supplied
// ManyFunc.
func (b *Batcher) safeQuery(ctx context.Context, key endpoint.Key, merged selection.Selection) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("batch: query panicked for %s: %v", key.Path, p)
		}
	}()
	return b.query(ctx, key, merged)
}
