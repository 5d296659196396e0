package connect_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sylphxai/lensclient/connect"
	"github.com/sylphxai/lensclient/metadata"
)

type fakeConnector struct {
	attempts int32
	failN    int32 // fail this many attempts before succeeding
}

func (f *fakeConnector) Connect(ctx context.Context) (*metadata.Metadata, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.failN {
		return nil, errors.New("handshake down")
	}
	return &metadata.Metadata{Version: "1"}, nil
}

func TestEnsureAwaitsEagerHandshake(t *testing.T) {
	c := &fakeConnector{}
	m := connect.New(c)

	md, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", md.Version)
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.attempts))
}

func TestEnsureRetriesExactlyOnceAfterFailure(t *testing.T) {
	c := &fakeConnector{failN: 1}
	m := connect.New(c)

	// Give the eager background attempt a moment to fail.
	time.Sleep(20 * time.Millisecond)

	md, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", md.Version)
	assert.EqualValues(t, 2, atomic.LoadInt32(&c.attempts))
}

func TestMetadataCachedForLifetime(t *testing.T) {
	c := &fakeConnector{}
	m := connect.New(c)

	_, err := m.Ensure(context.Background())
	require.NoError(t, err)

	_, err = m.Ensure(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.attempts))
}
