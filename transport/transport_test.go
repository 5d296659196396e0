package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/metadata"
	"github.com/sylphxai/lensclient/transport"
)

type queryOnlyTransport struct{}

func (queryOnlyTransport) Connect(ctx context.Context) (*metadata.Metadata, error) {
	return &metadata.Metadata{Version: "1"}, nil
}
func (queryOnlyTransport) Query(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return envelope.Snapshot("ok"), nil
}

type fullTransport struct{ queryOnlyTransport }

func (fullTransport) Mutation(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return envelope.Snapshot("mutated"), nil
}
func (fullTransport) Subscribe(ctx context.Context, op envelope.Operation, observer transport.StreamObserver) (endpoint.Unsubscribable, error) {
	return nil, nil
}

func TestDiscoverCapabilities(t *testing.T) {
	caps := transport.Discover(queryOnlyTransport{})
	assert.True(t, caps.Query)
	assert.False(t, caps.Mutation)
	assert.False(t, caps.Subscription)

	caps = transport.Discover(fullTransport{})
	assert.True(t, caps.Query)
	assert.True(t, caps.Mutation)
	assert.True(t, caps.Subscription)
}

func TestRouterSubscriptionFallsBackToQueryWhenNotStreaming(t *testing.T) {
	r, err := transport.NewRouter(queryOnlyTransport{})
	require.NoError(t, err)

	call, err := r.Route(envelope.Operation{Path: "thing.once", Type: envelope.Subscription}, false)
	require.NoError(t, err)
	assert.True(t, call.FallbackFromSub)
	assert.NotNil(t, call.Queryer)
}

func TestRouterSubscriptionRequiringStreamFailsOnQueryOnlyTransport(t *testing.T) {
	r, err := transport.NewRouter(queryOnlyTransport{})
	require.NoError(t, err)

	_, err = r.Route(envelope.Operation{Path: "thing.live", Type: envelope.Subscription}, true)
	assert.Error(t, err)
}

func TestRouterMutationOnQueryOnlyTransportIsConfigError(t *testing.T) {
	r, err := transport.NewRouter(queryOnlyTransport{})
	require.NoError(t, err)

	_, err = r.Route(envelope.Operation{Path: "thing.mutate", Type: envelope.Mutation}, false)
	assert.Error(t, err)
}

func TestNewRouterRejectsCapabilitylessTransport(t *testing.T) {
	_, err := transport.NewRouter(struct {
		transport.Transport
	}{})
	assert.Error(t, err)
}

func TestMuxRoutesByPathGlob(t *testing.T) {
	mux, err := transport.NewMux(
		transport.Child{Glob: "admin.*", Transport: fullTransport{}},
		transport.Child{Glob: "*", Transport: queryOnlyTransport{}},
	)
	require.NoError(t, err)

	call, err := mux.RouteOperation(envelope.Operation{Path: "admin.users.ban", Type: envelope.Mutation}, false)
	require.NoError(t, err)
	assert.NotNil(t, call.Mutator)

	call, err = mux.RouteOperation(envelope.Operation{Path: "public.ping", Type: envelope.Query}, false)
	require.NoError(t, err)
	assert.NotNil(t, call.Queryer)
}

func TestMuxConnectOverlaysMetadata(t *testing.T) {
	mux, err := transport.NewMux(
		transport.Child{Glob: "*", Transport: queryOnlyTransport{}},
	)
	require.NoError(t, err)
	md, err := mux.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", md.Version)
}
