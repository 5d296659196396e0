// Package connect implements the connection manager: the handshake is
// launched eagerly in the background at client construction but never
// awaited there; the first operation awaits it. Each failed attempt is
// followed by exactly one retry, made by the next operation.
package connect

import (
	"context"
	"sync"

	"github.com/samsarahq/go/oops"
	"golang.org/x/sync/singleflight"

	"github.com/sylphxai/lensclient/metadata"
)

// Connector performs the one-shot handshake.
type Connector interface {
	Connect(ctx context.Context) (*metadata.Metadata, error)
}

// Manager lazily connects and caches metadata for the client's lifetime.
type Manager struct {
	connector Connector
	group     singleflight.Group

	mu           sync.Mutex
	metadata     *metadata.Metadata
	failedOnce   bool
}

// New builds a Manager and immediately launches the handshake in the
// background without waiting on it; construction itself stays
// synchronous. The eager attempt shares the same singleflight key as
// Ensure, so an operation racing the construction-time handshake joins
// it instead of starting a redundant second one.
func New(connector Connector) *Manager {
	m := &Manager{connector: connector}
	go m.ensure(context.Background())
	return m
}

// Metadata returns cached metadata if the handshake already succeeded,
// without blocking.
func (m *Manager) Metadata() *metadata.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata
}

// Ensure awaits the handshake. If no attempt has succeeded yet, it makes
// one new attempt (singleflight-deduplicated across concurrent callers);
// a failed attempt is not retried within the same call, but the next
// Ensure call attempts again.
func (m *Manager) Ensure(ctx context.Context) (*metadata.Metadata, error) {
	return m.ensure(ctx)
}

func (m *Manager) ensure(ctx context.Context) (*metadata.Metadata, error) {
	if md := m.Metadata(); md != nil {
		return md, nil
	}

	v, err, _ := m.group.Do("connect", func() (interface{}, error) {
		if md := m.Metadata(); md != nil {
			return md, nil
		}
		return m.attempt(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.Metadata), nil
}

func (m *Manager) attempt(ctx context.Context) (*metadata.Metadata, error) {
	md, err := m.connector.Connect(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// failedOnce only matters for observability; the metadata field
		// itself stays nil so the next Ensure call retries exactly once.
		m.failedOnce = true
		return nil, oops.Wrapf(err, "connecting transport")
	}
	m.metadata = md
	return md, nil
}
