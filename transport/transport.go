// Package transport defines the core's contract with whatever ships
// bytes, and implements the capability-based transport router: selecting
// which transport serves an operation based on which of
// Query/Mutation/Subscription methods it actually implements.
package transport

import (
	"context"
	"strings"

	"github.com/samsarahq/go/oops"
	"golang.org/x/sync/errgroup"

	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/metadata"
)

// StreamObserver is what a Subscriber transport delivers messages to.
// Next/Complete mirror the exported Observer interface callers see, but
// at the envelope.Result level rather than the filtered, user-facing
// level. There is no separate Error callback: errors arrive through Next
// as an error-tagged Result.
type StreamObserver struct {
	Next     func(envelope.Result)
	Complete func()
}

// Transport is the minimal contract every transport must satisfy: a
// one-shot, awaitable handshake. Query/Mutation/Subscription are
// declared as separate, optional interfaces below; a transport's
// capability set is discovered by type-asserting against them.
type Transport interface {
	Connect(ctx context.Context) (*metadata.Metadata, error)
}

// Queryer is a transport capable of serving one-shot queries.
type Queryer interface {
	Query(ctx context.Context, op envelope.Operation) (envelope.Result, error)
}

// Mutator is a transport capable of serving mutations.
type Mutator interface {
	Mutation(ctx context.Context, op envelope.Operation) (envelope.Result, error)
}

// Subscriber is a transport capable of serving subscriptions. Subscribe
// returns a handle the caller uses to tear the subscription down.
type Subscriber interface {
	Subscribe(ctx context.Context, op envelope.Operation, observer StreamObserver) (endpoint.Unsubscribable, error)
}

// Capabilities reports which optional interfaces t implements.
type Capabilities struct {
	Query        bool
	Mutation     bool
	Subscription bool
}

// Discover inspects t for the optional Queryer/Mutator/Subscriber
// interfaces; a usable transport implements at least one of them.
func Discover(t Transport) Capabilities {
	_, q := t.(Queryer)
	_, m := t.(Mutator)
	_, s := t.(Subscriber)
	return Capabilities{Query: q, Mutation: m, Subscription: s}
}

// Router selects which transport serves a given operation. With a
// single transport configured, routing degenerates to a capability
// check; Mux below composes several.
type Router struct {
	transport Transport
	caps      Capabilities
}

// NewRouter builds a Router over a single transport, failing fast at
// construction if it declares no capability at all.
func NewRouter(t Transport) (*Router, error) {
	caps := Discover(t)
	if !caps.Query && !caps.Mutation && !caps.Subscription {
		return nil, oops.Errorf("transport declares no Query, Mutation, or Subscription capability")
	}
	return &Router{transport: t, caps: caps}, nil
}

// Connect delegates to the underlying transport's handshake.
func (r *Router) Connect(ctx context.Context) (*metadata.Metadata, error) {
	return r.transport.Connect(ctx)
}

// Route picks the transport method for op.Type, given whether the
// operation requiresStream. A subscription may fall back to a
// query-only transport's Query method when it does not require
// streaming — it executes once and completes.
func (r *Router) Route(op envelope.Operation, requiresStream bool) (RoutedCall, error) {
	switch op.Type {
	case envelope.Mutation:
		if !r.caps.Mutation {
			return RoutedCall{}, oops.Errorf("transport has no Mutation capability for %s", op.Path)
		}
		return RoutedCall{Kind: envelope.Mutation, Mutator: r.transport.(Mutator)}, nil

	case envelope.Subscription:
		if r.caps.Subscription {
			return RoutedCall{Kind: envelope.Subscription, Subscriber: r.transport.(Subscriber)}, nil
		}
		if !requiresStream && r.caps.Query {
			return RoutedCall{Kind: envelope.Query, Queryer: r.transport.(Queryer), FallbackFromSub: true}, nil
		}
		return RoutedCall{}, oops.Errorf("transport has no Subscription capability for streaming operation %s", op.Path)

	default: // envelope.Query
		if !r.caps.Query {
			return RoutedCall{}, oops.Errorf("transport has no Query capability for %s", op.Path)
		}
		return RoutedCall{Kind: envelope.Query, Queryer: r.transport.(Queryer)}, nil
	}
}

// RoutedCall is the resolved destination for one operation.
type RoutedCall struct {
	Kind            envelope.Kind
	Queryer         Queryer
	Mutator         Mutator
	Subscriber      Subscriber
	FallbackFromSub bool
}

// Child is one branch of a Mux: it serves paths matching Glob (a simple
// "*" suffix glob, e.g. "admin.*") or, when ByType is set, operations of
// Type (Glob is then ignored).
type Child struct {
	Glob      string
	Type      envelope.Kind
	ByType    bool
	Transport Transport
}

func (c Child) matches(op envelope.Operation) bool {
	if c.ByType {
		return op.Type == c.Type
	}
	if strings.HasSuffix(c.Glob, "*") {
		return strings.HasPrefix(op.Path, strings.TrimSuffix(c.Glob, "*"))
	}
	return c.Glob == op.Path
}

// Mux composes several transports by path glob or operation type,
// overlaying their metadata and routing per-operation at dispatch time
// Grounded on thunder's
// federation package, which stitches several GraphQL schemas behind one
// gateway the same way.
type Mux struct {
	children []Child
	routers  map[int]*Router
}

// NewMux builds a Mux from children, in priority order (first match
// wins).
func NewMux(children ...Child) (*Mux, error) {
	routers := make(map[int]*Router, len(children))
	for i, c := range children {
		r, err := NewRouter(c.Transport)
		if err != nil {
			return nil, oops.Wrapf(err, "building router for mux child %d", i)
		}
		routers[i] = r
	}
	return &Mux{children: children, routers: routers}, nil
}

// Connect handshakes every child concurrently (fanned out with
// errgroup, the same pattern schemabuilder/pagination.go uses to
// parallelize independent per-page fetches) and overlays their metadata:
// later children's operations/entities win on key collision, matching a
// last-write overlay merge. Any child's handshake failing cancels the
// rest via the errgroup's shared context and returns the first error.
func (m *Mux) Connect(ctx context.Context) (*metadata.Metadata, error) {
	results := make([]*metadata.Metadata, len(m.children))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.children {
		i, c := i, c
		g.Go(func() error {
			md, err := c.Transport.Connect(gctx)
			if err != nil {
				return oops.Wrapf(err, "connecting mux child %d", i)
			}
			results[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &metadata.Metadata{
		Operations: map[string]metadata.OperationMeta{},
		Entities:   map[string]metadata.Entity{},
	}
	for _, md := range results {
		merged.Version = md.Version
		for k, v := range md.Operations {
			merged.Operations[k] = v
		}
		for k, v := range md.Entities {
			merged.Entities[k] = v
		}
	}
	return merged, nil
}

// Route finds the first child matching op and routes through its
// Router, satisfying the same Route contract as Router itself so the
// dispatch engine can treat a single Transport and a Mux identically.
func (m *Mux) Route(op envelope.Operation, requiresStream bool) (RoutedCall, error) {
	return m.RouteOperation(op, requiresStream)
}

// RouteOperation finds the first child matching op and routes through
// its Router.
func (m *Mux) RouteOperation(op envelope.Operation, requiresStream bool) (RoutedCall, error) {
	for i, c := range m.children {
		if !c.matches(op) {
			continue
		}
		return m.routers[i].Route(op, requiresStream)
	}
	return RoutedCall{}, oops.Errorf("transport: no mux child matches operation %s", op.Path)
}
