package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylphxai/lensclient/connect"
	"github.com/sylphxai/lensclient/dispatch"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/metadata"
	"github.com/sylphxai/lensclient/transport"
)

type fakeTransport struct {
	queryResult    envelope.Result
	queryErr       error
	mutationResult envelope.Result
}

func (f *fakeTransport) Connect(ctx context.Context) (*metadata.Metadata, error) {
	return &metadata.Metadata{Version: "1"}, nil
}
func (f *fakeTransport) Query(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	if f.queryErr != nil {
		return envelope.Result{}, f.queryErr
	}
	return f.queryResult, nil
}
func (f *fakeTransport) Mutation(ctx context.Context, op envelope.Operation) (envelope.Result, error) {
	return f.mutationResult, nil
}

func newEngine(t *testing.T, ft *fakeTransport, plugins ...dispatch.Plugin) *dispatch.Engine {
	router, err := transport.NewRouter(ft)
	require.NoError(t, err)
	conn := connect.New(ft)
	return dispatch.New(conn, router, plugins...)
}

func TestPluginOrderBeforeAndAfter(t *testing.T) {
	var order []string
	ft := &fakeTransport{queryResult: envelope.Snapshot("ok")}

	makePlugin := func(name string) dispatch.Plugin {
		return dispatch.Plugin{
			Name: name,
			BeforeRequest: func(ctx context.Context, op envelope.Operation) (envelope.Operation, error) {
				order = append(order, "before:"+name)
				return op, nil
			},
			AfterResponse: func(ctx context.Context, r envelope.Result, op envelope.Operation) (envelope.Result, error) {
				order = append(order, "after:"+name)
				return r, nil
			},
		}
	}

	e := newEngine(t, ft, makePlugin("a"), makePlugin("b"))
	res, err := e.Dispatch(context.Background(), envelope.Operation{ID: "1", Path: "thing.get", Type: envelope.Query}, false)
	require.NoError(t, err)
	assert.Equal(t, envelope.ResultSnapshot, res.Tag)
	assert.Equal(t, []string{"before:a", "before:b", "after:a", "after:b"}, order)
}

func TestMutationReturningOpsIsProtocolError(t *testing.T) {
	ft := &fakeTransport{mutationResult: envelope.Ops([]interface{}{"x"})}
	e := newEngine(t, ft)

	_, err := e.Dispatch(context.Background(), envelope.Operation{ID: "1", Path: "thing.mutate", Type: envelope.Mutation}, false)
	assert.Error(t, err)
}

func TestOnErrorPluginCanSubstituteResult(t *testing.T) {
	ft := &fakeTransport{queryErr: errors.New("network down")}
	recovered := dispatch.Plugin{
		Name: "recover",
		OnError: func(ctx context.Context, err error, op envelope.Operation, retry dispatch.RetryFunc) (envelope.Result, error) {
			return envelope.Snapshot("fallback"), nil
		},
	}
	e := newEngine(t, ft, recovered)

	res, err := e.Dispatch(context.Background(), envelope.Operation{ID: "1", Path: "thing.get", Type: envelope.Query}, false)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Data)
}

func TestOnErrorExhaustedPropagatesError(t *testing.T) {
	ft := &fakeTransport{queryErr: errors.New("network down")}
	e := newEngine(t, ft)

	_, err := e.Dispatch(context.Background(), envelope.Operation{ID: "1", Path: "thing.get", Type: envelope.Query}, false)
	assert.Error(t, err)
}

func TestSubscribeFallsBackToQueryOnlyTransport(t *testing.T) {
	ft := &fakeTransport{queryResult: envelope.Snapshot("once")}
	e := newEngine(t, ft)

	var got envelope.Result
	var completed bool
	handle, err := e.Subscribe(context.Background(), envelope.Operation{ID: "1", Path: "thing.watch", Type: envelope.Subscription},
		transport.StreamObserver{
			Next:     func(r envelope.Result) { got = r },
			Complete: func() { completed = true },
		})
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "once", got.Data)
	assert.True(t, completed)
}
