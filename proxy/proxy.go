// Package proxy implements the mirror-tree call surface and QueryResult
// handle.
//
// The original "opaque namespace mirror" — a recursive membrane
// synthesizing accessor nodes on property access — has no equivalent in
// a statically typed language with no dynamic property access. This
// collapses to a tree-of-records parameterized by a (path, core) pair
// and produced lazily by Path: each call to Path extends the dotted path
// by one segment and returns a new, equally opaque Proxy node; Call
// executes dispatch at the accumulated path. The bare-input-vs-
// {input,select} descriptor duality a dynamically typed host would allow
// collapses to the explicit CallDescriptor struct below.
package proxy

import (
	"context"

	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/selection"
)

// Core is everything a Proxy/QueryResult needs from the client; it's
// implemented by the top-level Client so this package stays decoupled
// from dispatch/connect/metadata wiring specifics.
type Core interface {
	// Result resolves path+descriptor to a QueryResult, reusing a cached
	// instance for the same (endpoint key, selection) pair — critical for
	// downstream reactive frameworks that treat identity as a dependency
	// key.
	Result(path string, descriptor CallDescriptor) (*QueryResult, error)
}

// CallDescriptor is what a mirror-tree call site supplies. Optimistic,
// when non-nil, is the mutation's optimistic descriptor: the DSL value
// the optimistic interpreter uses to compute a predicted effect.
type CallDescriptor struct {
	Input      interface{}
	Select     selection.Selection
	Optimistic interface{}
}

// Proxy is one node of the namespace mirror.
type Proxy struct {
	core Core
	path string
}

// New builds the root of the mirror tree over core.
func New(core Core) *Proxy {
	return &Proxy{core: core}
}

// Path extends the mirrored path by one segment, e.g.
// root.Path("user").Path("posts").Path("list") mirrors client.user.posts.list.
func (p *Proxy) Path(segment string) *Proxy {
	next := segment
	if p.path != "" {
		next = p.path + "." + segment
	}
	return &Proxy{core: p.core, path: next}
}

// CurrentPath reports the dotted path accumulated so far.
func (p *Proxy) CurrentPath() string {
	return p.path
}

// Call executes dispatch at this node's path with descriptor, returning
// the QueryResult handle.
func (p *Proxy) Call(descriptor CallDescriptor) (*QueryResult, error) {
	return p.core.Result(p.path, descriptor)
}

// Observer is the caller-facing subscribe form: Next/Error/Complete are
// each optional. A plain function callback is equivalent to an Observer
// with only Next set.
type Observer struct {
	Next     func(interface{})
	Error    func(error)
	Complete func()
}

// NextFunc wraps a bare function as an Observer with only Next set.
func NextFunc(f func(interface{})) Observer {
	return Observer{Next: f}
}

// Subscriber is what QueryResult.Subscribe needs from the client to
// register/unregister an observer against the result's endpoint.
type Subscriber interface {
	AddObserver(key endpoint.Key, path string, input interface{}, sel selection.Selection, obs Observer) func()
}

// Fetcher is what QueryResult.Then needs: force a one-shot fetch of the
// result's filtered data.
type Fetcher interface {
	Fetch(ctx context.Context, key endpoint.Key, path string, input interface{}, sel selection.Selection) (interface{}, error)
}

// Peeker is what QueryResult.Value needs: a synchronous, side-effect-free
// read of the endpoint's currently cached data.
type Peeker interface {
	Peek(key endpoint.Key) interface{}
}

// Selector is what QueryResult.Select needs: derive a sibling handle on
// the same endpoint with a different selection, through the same
// identity cache Core.Result uses.
type Selector interface {
	Result(path string, descriptor CallDescriptor) (*QueryResult, error)
}

// QueryResult is the handle returned to callers. It presents a
// synchronous peek, a subscribe/unsubscribe pair, a select-to-narrow
// operation, and a forced one-shot fetch, expressed as four separate
// methods rather than overloading one thenable/stream object.
type QueryResult struct {
	Key   endpoint.Key
	Path  string
	Input interface{}
	Sel   selection.Selection

	subscriber Subscriber
	fetcher    Fetcher
	peeker     Peeker
	selector   Selector
}

// NewQueryResult builds a QueryResult; called by a Core implementation,
// never directly by application code.
func NewQueryResult(key endpoint.Key, path string, input interface{}, sel selection.Selection, subscriber Subscriber, fetcher Fetcher, peeker Peeker, selector Selector) *QueryResult {
	return &QueryResult{
		Key: key, Path: path, Input: input, Sel: sel,
		subscriber: subscriber, fetcher: fetcher, peeker: peeker, selector: selector,
	}
}

// Value synchronously peeks at the current filtered data, or nil if
// nothing has arrived yet.
func (qr *QueryResult) Value() interface{} {
	data := qr.peeker.Peek(qr.Key)
	if data == nil {
		return nil
	}
	return selection.Filter(data, qr.Sel)
}

// Subscribe registers obs against the result's endpoint and returns an
// unsubscribe function.
func (qr *QueryResult) Subscribe(obs Observer) func() {
	return qr.subscriber.AddObserver(qr.Key, qr.Path, qr.Input, qr.Sel, obs)
}

// Then forces a fetch and resolves to the filtered data.
func (qr *QueryResult) Then(ctx context.Context) (interface{}, error) {
	return qr.fetcher.Fetch(ctx, qr.Key, qr.Path, qr.Input, qr.Sel)
}

// Select derives a QueryResult on the same endpoint with a different
// selection. It goes back through Core.Result so the identity cache is
// shared with direct proxy calls.
func (qr *QueryResult) Select(sel selection.Selection) (*QueryResult, error) {
	return qr.selector.Result(qr.Path, CallDescriptor{Input: qr.Input, Select: sel})
}
