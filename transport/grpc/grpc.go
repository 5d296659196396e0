// Package grpc is a reference Transport implementing only Query and
// Mutation capability over a plain gRPC ClientConn — no Subscription
// method, so the capability router falls back to serving non-streaming
// subscriptions through Query and rejects anything that actually
// requiresStream. Grounded on thunder's
// federation package, which dials a plain grpc.ClientConn the same way
// (federation/http.go, federation/executor.go) to reach a sibling
// service.
package grpc

import (
	"context"

	"github.com/samsarahq/go/oops"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/metadata"
)

const (
	handshakeMethod = "/lens.Core/Handshake"
	queryMethod     = "/lens.Core/Query"
	mutationMethod  = "/lens.Core/Mutation"
)

// Transport wraps a grpc.ClientConn that already speaks the lens.Core
// service (handshake/query/mutation unary RPCs carrying structpb.Struct
// payloads).
type Transport struct {
	conn *grpc.ClientConn
}

// New wraps an already-dialed *grpc.ClientConn. Dialing is left to the
// caller so it can supply its own credentials, interceptors and
// keepalive policy.
func New(conn *grpc.ClientConn) *Transport {
	return &Transport{conn: conn}
}

// Connect performs the handshake unary call and decodes the returned
// Struct into Metadata. Only the version field is read; Operations and
// Entities come back empty.
func (t *Transport) Connect(ctx context.Context) (*metadata.Metadata, error) {
	reply := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, handshakeMethod, &structpb.Struct{}, reply); err != nil {
		return nil, oops.Wrapf(err, "grpc handshake")
	}
	return decodeMetadata(reply), nil
}

// Query performs a unary Query RPC.
func (t *Transport) Query(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return t.unary(ctx, queryMethod, op)
}

// Mutation performs a unary Mutation RPC.
func (t *Transport) Mutation(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return t.unary(ctx, mutationMethod, op)
}

func (t *Transport) unary(ctx context.Context, method string, op envelope.Operation) (envelope.Result, error) {
	req, err := encodeOperation(op)
	if err != nil {
		return envelope.Result{}, oops.Wrapf(err, "encoding operation %s", op.Path)
	}

	reply := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, method, req, reply); err != nil {
		return envelope.Result{}, oops.Wrapf(err, "grpc %s %s", method, op.Path)
	}
	return decodeResult(reply), nil
}

func encodeOperation(op envelope.Operation) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":   op.ID,
		"path": op.Path,
	}
	if op.Input != nil {
		fields["input"] = op.Input
	}
	return structpb.NewStruct(fields)
}

func decodeResult(s *structpb.Struct) envelope.Result {
	fields := s.AsMap()
	if errMsg, ok := fields["error"].(string); ok {
		return envelope.Error(errMsg)
	}
	if ops, ok := fields["ops"].([]interface{}); ok {
		return envelope.Ops(ops)
	}
	return envelope.Snapshot(fields["data"])
}

func decodeMetadata(s *structpb.Struct) *metadata.Metadata {
	fields := s.AsMap()
	version, _ := fields["version"].(string)
	return &metadata.Metadata{
		Version:    version,
		Operations: map[string]metadata.OperationMeta{},
		Entities:   map[string]metadata.Entity{},
	}
}
