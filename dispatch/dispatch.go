// Package dispatch implements the dispatch engine and plugin pipeline:
// ensuring a connection, running before_request / after_response /
// on_error plugin hooks around a routed transport call. The plugin
// chain is adapted from thunder's graphql.MiddlewareFunc/runMiddlewares
// chain (graphql/middleware.go), generalized from GraphQL computation
// middleware to RPC operation dispatch. Unlike an onion, hooks run in
// registration order in both directions: after_response hooks are not
// reversed.
package dispatch

import (
	"context"

	"github.com/samsarahq/go/oops"

	"github.com/sylphxai/lensclient/connect"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/selection"
	"github.com/sylphxai/lensclient/transport"
)

// Router is satisfied by both transport.Router (a single transport) and
// transport.Mux (several composed ones).
type Router interface {
	Route(op envelope.Operation, requiresStream bool) (transport.RoutedCall, error)
}

// RetryFunc lets an on_error plugin re-issue the call it's examining.
type RetryFunc func(ctx context.Context, op envelope.Operation) (envelope.Result, error)

// Plugin is the pipeline hook interface. Any hook may be nil.
type Plugin struct {
	Name string

	BeforeRequest func(ctx context.Context, op envelope.Operation) (envelope.Operation, error)
	AfterResponse func(ctx context.Context, result envelope.Result, op envelope.Operation) (envelope.Result, error)
	OnError       func(ctx context.Context, err error, op envelope.Operation, retry RetryFunc) (envelope.Result, error)
}

// Engine routes operations to a transport through the plugin pipeline.
type Engine struct {
	conn    *connect.Manager
	router  Router
	plugins []Plugin
}

// New builds an Engine. plugins run in registration order in both
// directions.
func New(conn *connect.Manager, router Router, plugins ...Plugin) *Engine {
	return &Engine{conn: conn, router: router, plugins: plugins}
}

// Dispatch runs one operation through the full pipeline: ensure
// connection, before_request chain, transport call, after_response
// chain, and on_error recovery if the result is an error.
func (e *Engine) Dispatch(ctx context.Context, op envelope.Operation, requiresStream bool) (envelope.Result, error) {
	if _, err := e.conn.Ensure(ctx); err != nil {
		return envelope.Result{}, oops.Wrapf(err, "ensuring connection before dispatching %s", op.Path)
	}

	op, err := e.runBeforeRequest(ctx, op)
	if err != nil {
		return envelope.Result{}, oops.Wrapf(err, "before_request plugin rejected %s", op.Path)
	}

	result, callErr := e.call(ctx, op, requiresStream)
	if callErr == nil {
		result = e.runAfterResponse(ctx, result, op)
		if result.Tag == envelope.ResultOps && op.Type == envelope.Mutation {
			return envelope.Result{}, oops.Errorf("protocol error: mutation %s returned an ops envelope", op.Path)
		}
		if result.Tag != envelope.ResultError {
			return result, nil
		}
		callErr = oops.Errorf("%s", result.Err)
	}

	return e.runOnError(ctx, callErr, op, requiresStream)
}

func (e *Engine) runBeforeRequest(ctx context.Context, op envelope.Operation) (envelope.Operation, error) {
	for _, p := range e.plugins {
		if p.BeforeRequest == nil {
			continue
		}
		next, err := p.BeforeRequest(ctx, op)
		if err != nil {
			return op, oops.Wrapf(err, "plugin %s", p.Name)
		}
		op = next
	}
	return op, nil
}

func (e *Engine) runAfterResponse(ctx context.Context, result envelope.Result, op envelope.Operation) envelope.Result {
	for _, p := range e.plugins {
		if p.AfterResponse == nil {
			continue
		}
		next, err := p.AfterResponse(ctx, result, op)
		if err != nil {
			return envelope.Error(err.Error())
		}
		result = next
	}
	return result
}

// runOnError walks on_error plugins in registration order until one
// succeeds or the list is exhausted.
func (e *Engine) runOnError(ctx context.Context, callErr error, op envelope.Operation, requiresStream bool) (envelope.Result, error) {
	retry := func(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
		return e.call(ctx, op, requiresStream)
	}

	for _, p := range e.plugins {
		if p.OnError == nil {
			continue
		}
		result, err := p.OnError(ctx, callErr, op, retry)
		if err == nil {
			return result, nil
		}
		callErr = err
	}
	return envelope.Result{}, callErr
}

func (e *Engine) call(ctx context.Context, op envelope.Operation, requiresStream bool) (envelope.Result, error) {
	routed, err := e.router.Route(op, requiresStream)
	if err != nil {
		return envelope.Result{}, oops.Wrapf(err, "routing %s", op.Path)
	}

	switch routed.Kind {
	case envelope.Mutation:
		if op.Type != envelope.Mutation {
			return envelope.Result{}, oops.Errorf("protocol error: %s routed as mutation but declared %s", op.Path, op.Type)
		}
		return routed.Mutator.Mutation(ctx, op)
	case envelope.Query:
		return routed.Queryer.Query(ctx, op)
	case envelope.Subscription:
		return envelope.Result{}, oops.Errorf("dispatch: %s resolved to a subscription transport; use Subscribe instead of Dispatch", op.Path)
	default:
		return envelope.Result{}, oops.Errorf("dispatch: unroutable operation kind for %s", op.Path)
	}
}

// Subscribe opens a subscription for op, running the before_request
// chain the same as Dispatch and then handing delivery to observer for
// the life of the subscription. after_response and on_error hooks are
// not run on this path. Whether op requires streaming is resolved from
// the handshake metadata. The streaming path never goes through the
// batcher.
func (e *Engine) Subscribe(ctx context.Context, op envelope.Operation, observer transport.StreamObserver) (interface{ Unsubscribe() }, error) {
	md, ensureErr := e.conn.Ensure(ctx)
	if ensureErr != nil {
		return nil, oops.Wrapf(ensureErr, "ensuring connection before subscribing %s", op.Path)
	}

	op, err := e.runBeforeRequest(ctx, op)
	if err != nil {
		return nil, oops.Wrapf(err, "before_request plugin rejected %s", op.Path)
	}

	var fields []string
	if !selection.IsAll(op.Meta.Select) {
		fields = selection.SortedKeys(op.Meta.Select)
	}
	routed, err := e.router.Route(op, md.Resolve(op.Path, fields).RequiresStream)
	if err != nil {
		return nil, oops.Wrapf(err, "routing subscription %s", op.Path)
	}

	switch routed.Kind {
	case envelope.Subscription:
		return routed.Subscriber.Subscribe(ctx, op, observer)
	case envelope.Query:
		// Fallback path for a query-only transport serving a non-streaming
		// subscription: execute once, deliver as a single result, then
		// complete.
		result, err := routed.Queryer.Query(ctx, op)
		if err != nil {
			return noopUnsubscribable{}, oops.Wrapf(err, "fallback query for subscription %s", op.Path)
		}
		observer.Next(result)
		if observer.Complete != nil {
			observer.Complete()
		}
		return noopUnsubscribable{}, nil
	default:
		return nil, oops.Errorf("dispatch: %s did not resolve to a subscription-capable route", op.Path)
	}
}

type noopUnsubscribable struct{}

func (noopUnsubscribable) Unsubscribe() {}
