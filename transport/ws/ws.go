// Package ws is a reference Transport implementing Query,
// Mutation, and Subscription capability over a single persistent
// WebSocket, grounded on the envelope shape thunder's own
// graphql.ServeJSONSocket speaks server-side
// ({id, type, message} in, {id, type, message} out).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samsarahq/go/oops"
	uuid "github.com/satori/go.uuid"
	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/metadata"
	"github.com/sylphxai/lensclient/transport"
)

type inEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type outEnvelope struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Message interface{} `json:"message,omitempty"`
}

// Dialer opens the underlying socket; separated from Transport so tests
// can substitute an in-memory pipe instead of a real network dial.
type Dialer func(ctx context.Context) (*websocket.Conn, error)

// Transport is the reference WebSocket Transport.
type Transport struct {
	dial Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]pendingCall
	subs    map[string]transport.StreamObserver
}

type pendingCall struct {
	resolve func(envelope.Result)
}

// New builds a ws Transport using dial to open the socket on Connect.
func New(dial Dialer) *Transport {
	return &Transport{
		dial:    dial,
		pending: make(map[string]pendingCall),
		subs:    make(map[string]transport.StreamObserver),
	}
}

// Connect dials the socket and launches the read loop (analogous to
// thunder's ServeJSONSocket, but for the client side of the same wire
// format) before performing the handshake.
func (t *Transport) Connect(ctx context.Context) (*metadata.Metadata, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "dialing transport websocket")
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)

	id := uuid.NewV4().String()
	resultCh := make(chan envelope.Result, 1)
	t.registerPending(id, func(r envelope.Result) { resultCh <- r })

	if err := t.write(outEnvelope{ID: id, Type: "handshake"}); err != nil {
		return nil, oops.Wrapf(err, "writing handshake")
	}

	select {
	case r := <-resultCh:
		if r.Tag == envelope.ResultError {
			return nil, oops.Errorf("handshake failed: %s", r.Err)
		}
		md, ok := r.Data.(*metadata.Metadata)
		if !ok {
			return nil, oops.Errorf("handshake returned unexpected payload type %T", r.Data)
		}
		return md, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Query issues a one-shot query over the socket.
func (t *Transport) Query(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return t.call(ctx, "query", op)
}

// Mutation issues a mutation over the socket.
func (t *Transport) Mutation(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return t.call(ctx, "mutate", op)
}

func (t *Transport) call(ctx context.Context, typ string, op envelope.Operation) (envelope.Result, error) {
	resultCh := make(chan envelope.Result, 1)
	t.registerPending(op.ID, func(r envelope.Result) { resultCh <- r })

	if err := t.write(outEnvelope{ID: op.ID, Type: typ, Message: op}); err != nil {
		return envelope.Result{}, oops.Wrapf(err, "writing %s %s", typ, op.Path)
	}

	select {
	case r := <-resultCh:
		return r, nil
	case <-ctx.Done():
		return envelope.Result{}, ctx.Err()
	}
}

// Subscribe opens a server-side subscription and streams results to
// observer until Unsubscribe is called.
func (t *Transport) Subscribe(ctx context.Context, op envelope.Operation, observer transport.StreamObserver) (endpoint.Unsubscribable, error) {
	t.mu.Lock()
	t.subs[op.ID] = observer
	t.mu.Unlock()

	if err := t.write(outEnvelope{ID: op.ID, Type: "subscribe", Message: op}); err != nil {
		return nil, oops.Wrapf(err, "writing subscribe %s", op.Path)
	}

	return &subHandle{t: t, id: op.ID}, nil
}

type subHandle struct {
	t  *Transport
	id string
}

func (h *subHandle) Unsubscribe() {
	h.t.mu.Lock()
	delete(h.t.subs, h.id)
	h.t.mu.Unlock()
	_ = h.t.write(outEnvelope{ID: h.id, Type: "unsubscribe"})
}

func (t *Transport) registerPending(id string, resolve func(envelope.Result)) {
	t.mu.Lock()
	t.pending[id] = pendingCall{resolve: resolve}
	t.mu.Unlock()
}

func (t *Transport) write(e outEnvelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ws transport: not connected")
	}
	return conn.WriteJSON(e)
}

// readLoop mirrors thunder's server-side ServeJSONSocket read loop, but
// dispatches incoming {id, type, message} envelopes to whichever pending
// call or live subscription they answer.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var e inEnvelope
		if err := conn.ReadJSON(&e); err != nil {
			return
		}

		switch e.Type {
		case "handshake_ok":
			t.mu.Lock()
			pc, ok := t.pending[e.ID]
			delete(t.pending, e.ID)
			t.mu.Unlock()
			if ok {
				md := &metadata.Metadata{}
				_ = json.Unmarshal(e.Message, md)
				pc.resolve(envelope.Snapshot(md))
			}

		case "result":
			t.mu.Lock()
			pc, ok := t.pending[e.ID]
			delete(t.pending, e.ID)
			t.mu.Unlock()
			if ok {
				var data interface{}
				_ = json.Unmarshal(e.Message, &data)
				pc.resolve(envelope.Snapshot(data))
			}

		case "update":
			t.mu.Lock()
			obs, ok := t.subs[e.ID]
			t.mu.Unlock()
			if ok {
				var ops []interface{}
				_ = json.Unmarshal(e.Message, &ops)
				obs.Next(envelope.Ops(ops))
			}

		case "snapshot":
			t.mu.Lock()
			obs, ok := t.subs[e.ID]
			t.mu.Unlock()
			if ok {
				var data interface{}
				_ = json.Unmarshal(e.Message, &data)
				obs.Next(envelope.Snapshot(data))
			}

		case "error":
			var msg string
			_ = json.Unmarshal(e.Message, &msg)

			t.mu.Lock()
			pc, isPending := t.pending[e.ID]
			delete(t.pending, e.ID)
			obs, isSub := t.subs[e.ID]
			t.mu.Unlock()

			if isPending {
				pc.resolve(envelope.Error(msg))
			}
			if isSub {
				obs.Next(envelope.Error(msg))
			}

		case "complete":
			t.mu.Lock()
			obs, ok := t.subs[e.ID]
			delete(t.subs, e.ID)
			t.mu.Unlock()
			if ok && obs.Complete != nil {
				obs.Complete()
			}
		}
	}
}
