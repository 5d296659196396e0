// Package lensclient wires the reactive dispatch engine's components
// (selection, endpoint, batch, reduce, dispatch, connect, metadata,
// optimistic, transport) into the single Client entry point the mirror
// tree in package proxy calls back into.
package lensclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/sylphxai/lensclient/batch"
	"github.com/sylphxai/lensclient/connect"
	"github.com/sylphxai/lensclient/dispatch"
	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/internal/corelog"
	"github.com/sylphxai/lensclient/internal/inputhash"
	"github.com/sylphxai/lensclient/metadata"
	"github.com/sylphxai/lensclient/optimistic"
	"github.com/sylphxai/lensclient/proxy"
	"github.com/sylphxai/lensclient/reduce"
	"github.com/sylphxai/lensclient/selection"
	"github.com/sylphxai/lensclient/transport"
)

// routerConnector is what a single transport.Router or a transport.Mux
// both satisfy: a handshake plus operation routing.
type routerConnector interface {
	connect.Connector
	dispatch.Router
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger overrides the client's default no-op logger.
func WithLogger(log corelog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithPlugins installs dispatch pipeline plugins, run in the given
// order.
func WithPlugins(plugins ...dispatch.Plugin) Option {
	return func(c *Client) { c.plugins = append(c.plugins, plugins...) }
}

// WithOptimisticInterpreter enables the optimistic mutation hook.
// Without it, mutations carrying an optimistic descriptor still dispatch
// normally but skip the apply/confirm/rollback bracket.
func WithOptimisticInterpreter(interp optimistic.Interpreter) Option {
	return func(c *Client) { c.optimistic = optimistic.New(interp) }
}

// resultCacheKey identifies a cached QueryResult: same endpoint, same
// selection. QueryResult instances are cached by this key so repeated
// calls with the same arguments return the same handle.
type resultCacheKey struct {
	key    endpoint.Key
	selKey string
}

// Client is the reactive dispatch engine's top-level handle: one per
// connected server, owning the endpoint registry, batcher, reducer,
// dispatch engine, and connection manager that back every QueryResult
// the mirror tree produces.
type Client struct {
	conn       *connect.Manager
	router     dispatch.Router
	registry   *endpoint.Registry
	batcher    *batch.Batcher
	reducer    *reduce.Reducer
	engine     *dispatch.Engine
	hashes     *inputhash.Cache
	log        corelog.Logger
	plugins    []dispatch.Plugin
	optimistic *optimistic.Hook

	root *proxy.Proxy

	mu               sync.Mutex
	results          map[resultCacheKey]*proxy.QueryResult
	inputs           map[endpoint.Key]interface{}
	optimisticDescrs map[endpoint.Key]interface{}
}

// New builds a Client over a single transport.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	r, err := transport.NewRouter(t)
	if err != nil {
		return nil, err
	}
	return build(r, opts...)
}

// NewMux builds a Client over several transports composed by path/type,
// multiplexed through a single route transport.
func NewMux(children []transport.Child, opts ...Option) (*Client, error) {
	m, err := transport.NewMux(children...)
	if err != nil {
		return nil, err
	}
	return build(m, opts...)
}

func build(rc routerConnector, opts ...Option) (*Client, error) {
	c := &Client{
		registry:         endpoint.NewRegistry(),
		hashes:           inputhash.NewCache(),
		results:          make(map[resultCacheKey]*proxy.QueryResult),
		inputs:           make(map[endpoint.Key]interface{}),
		optimisticDescrs: make(map[endpoint.Key]interface{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = corelog.Noop()
	}

	c.router = rc
	c.reducer = reduce.New(c.log)
	// Connection manager launches the handshake eagerly in the background;
	// the first call to Ensure/Dispatch awaits it.
	c.conn = connect.New(rc)
	c.engine = dispatch.New(c.conn, rc, c.plugins...)
	c.batcher = batch.New(c.queryFunc, c.registry)
	c.root = proxy.New(c)
	return c, nil
}

// Root returns the root of the mirror-tree call surface:
// client.Root().Path("user").Path("posts").Call(...).
func (c *Client) Root() *proxy.Proxy {
	return c.root
}

// Metadata returns the cached handshake metadata, or nil before the
// handshake completes.
func (c *Client) Metadata() *metadata.Metadata {
	return c.conn.Metadata()
}

func fieldNames(sel selection.Selection) []string {
	if selection.IsAll(sel) {
		return nil
	}
	return selection.SortedKeys(sel)
}

func selKey(sel selection.Selection) string {
	flat := selection.Flatten(sel)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func newOperationID() string {
	return uuid.NewV4().String()
}

// Result implements proxy.Core: resolve path+descriptor to a cached
// QueryResult.
func (c *Client) Result(path string, descriptor proxy.CallDescriptor) (*proxy.QueryResult, error) {
	hash, err := c.hashes.Hash(descriptor.Input)
	if err != nil {
		return nil, fmt.Errorf("lensclient: hashing input for %s: %w", path, err)
	}
	key := endpoint.Key{Path: path, InputHash: hash}
	sel := descriptor.Select

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inputs[key]; !ok {
		c.inputs[key] = descriptor.Input
	}
	if descriptor.Optimistic != nil {
		c.optimisticDescrs[key] = descriptor.Optimistic
	}
	// Creating the endpoint.State up front (rather than only once a
	// subscription starts) means a bare fetch-then-peek sequence sees its
	// own cached result, matching the registry's role as the map from
	// endpoint key to state for the client's whole lifetime.
	c.registry.GetOrCreate(key)

	cacheKey := resultCacheKey{key: key, selKey: selKey(sel)}
	if qr, ok := c.results[cacheKey]; ok {
		return qr, nil
	}
	qr := proxy.NewQueryResult(key, path, descriptor.Input, sel, c, c, c, c)
	c.results[cacheKey] = qr
	return qr, nil
}

// Peek implements proxy.Peeker.
func (c *Client) Peek(key endpoint.Key) interface{} {
	state, ok := c.registry.Lookup(key)
	if !ok {
		return nil
	}
	return state.Data()
}

// Fetch implements proxy.Fetcher: force a one-shot call through the
// batcher for a query, or run a mutation through the optimistic bracket
// directly against the dispatch engine.
func (c *Client) Fetch(ctx context.Context, key endpoint.Key, path string, input interface{}, sel selection.Selection) (interface{}, error) {
	md, err := c.conn.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	resolution := md.Resolve(path, fieldNames(sel))

	if resolution.Kind == envelope.Mutation {
		return c.dispatchMutation(ctx, key, path, input, sel)
	}

	out := c.batcher.Enqueue(ctx, key, sel)
	select {
	case o := <-out:
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) dispatchMutation(ctx context.Context, key endpoint.Key, path string, input interface{}, sel selection.Selection) (interface{}, error) {
	op := envelope.Operation{
		ID:    newOperationID(),
		Path:  path,
		Type:  envelope.Mutation,
		Input: input,
		Meta:  envelope.Meta{Select: sel},
	}

	c.mu.Lock()
	descr := c.optimisticDescrs[key]
	hook := c.optimistic
	c.mu.Unlock()

	if hook == nil || descr == nil {
		result, err := c.engine.Dispatch(ctx, op, false)
		if err != nil {
			return nil, err
		}
		return result.Data, nil
	}

	tx, err := hook.Begin(descr, input)
	if err != nil {
		return nil, err
	}
	result, err := c.engine.Dispatch(ctx, op, false)
	if err != nil {
		if tx != nil {
			hook.Rollback(tx)
		}
		return nil, err
	}
	if tx != nil {
		hook.Confirm(tx, result.Data)
	}
	return result.Data, nil
}

// queryFunc is the batch.QueryFunc backing c.batcher: it resolves the
// operation kind for key.Path and dispatches a single merged query
// through the plugin pipeline.
func (c *Client) queryFunc(ctx context.Context, key endpoint.Key, merged selection.Selection) (interface{}, error) {
	md, err := c.conn.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	resolution := md.Resolve(key.Path, fieldNames(merged))

	c.mu.Lock()
	input := c.inputs[key]
	c.mu.Unlock()

	op := envelope.Operation{
		ID:    newOperationID(),
		Path:  key.Path,
		Type:  resolution.Kind,
		Input: input,
		Meta:  envelope.Meta{Select: merged},
	}
	result, err := c.engine.Dispatch(ctx, op, resolution.RequiresStream)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// AddObserver implements proxy.Subscriber: register obs against key's
// endpoint, starting or restarting the server subscription as the merged
// selection requires, and returns an unsubscribe function.
func (c *Client) AddObserver(key endpoint.Key, path string, input interface{}, sel selection.Selection, obs proxy.Observer) func() {
	c.mu.Lock()
	if _, ok := c.inputs[key]; !ok {
		c.inputs[key] = input
	}
	c.mu.Unlock()

	id := newOperationID()
	entry := &endpoint.Observer{ID: id, Selection: sel, Next: obs.Next, Error: obs.Error, Complete: obs.Complete}
	state := c.registry.GetOrCreate(key)
	res := state.AddObserver(entry)

	if res.StartSubscription || res.Restart {
		if res.Restart && res.OldHandle != nil {
			res.OldHandle.Unsubscribe()
		}
		go c.runSubscription(context.Background(), key, path, input, state)
	}

	return func() { c.removeObserver(key, id) }
}

func (c *Client) removeObserver(key endpoint.Key, id string) {
	state, ok := c.registry.Lookup(key)
	if !ok {
		return
	}
	res := state.RemoveObserver(id)
	if !res.Erased {
		return
	}
	c.registry.Erase(key)
	if res.OldHandle != nil {
		res.OldHandle.Unsubscribe()
	}
	c.evictResults(key)
}

func (c *Client) evictResults(key endpoint.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.results {
		if k.key == key {
			delete(c.results, k)
		}
	}
	delete(c.inputs, key)
	delete(c.optimisticDescrs, key)
}

// runSubscription opens (or reopens, on selection expansion) the server
// subscription for key and feeds every message through the reducer.
func (c *Client) runSubscription(ctx context.Context, key endpoint.Key, path string, input interface{}, state *endpoint.State) {
	md, err := c.conn.Ensure(ctx)
	if err != nil {
		state.DistributeError(err)
		return
	}

	sel := state.MergedSelection()
	resolution := md.Resolve(path, fieldNames(sel))
	op := envelope.Operation{
		ID:    newOperationID(),
		Path:  path,
		Type:  resolution.Kind,
		Input: input,
		Meta:  envelope.Meta{Select: sel},
	}

	handle, err := c.engine.Subscribe(ctx, op, transport.StreamObserver{
		Next: func(r envelope.Result) { c.reducer.Handle(state, key, r) },
		Complete: func() { c.reducer.Complete(state) },
	})
	if err != nil {
		state.DistributeError(err)
		return
	}
	state.SetServerHandle(handle)
}
