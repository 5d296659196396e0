// Package endpoint implements the endpoint registry and observer model:
// the map from endpoint key to endpoint state, and the bookkeeping that
// merges observer selections and fans filtered data back out to each one.
package endpoint

import (
	"sync"

	"github.com/sylphxai/lensclient/selection"
)

// Key identifies one server conversation: an operation path plus the
// canonical hash of its input.
type Key struct {
	Path      string
	InputHash string
}

// Unsubscribable is anything that can tear down a live server
// subscription. Transports hand these back from Subscribe calls; the
// registry never otherwise knows what a transport is.
type Unsubscribable interface {
	Unsubscribe()
}

// Observer is a registered consumer of an endpoint's stream. Selection
// is frozen at registration time.
type Observer struct {
	ID        string
	Selection selection.Selection
	Next      func(interface{})
	Error     func(error)
	Complete  func()
}

func (o *Observer) deliver(data interface{}) {
	if o.Next != nil {
		o.Next(selection.Filter(data, o.Selection))
	}
}

func (o *Observer) deliverErr(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o *Observer) deliverComplete() {
	if o.Complete != nil {
		o.Complete()
	}
}

// State is the per-endpoint state: last data, last error, completion,
// registered observers, merged selection, and the live server
// subscription handle, if any.
type State struct {
	mu sync.Mutex

	Key       Key
	data      interface{}
	err       error
	completed bool

	observers       map[string]*Observer
	mergedSelection selection.Selection

	serverHandle Unsubscribable
	isSubscribed bool
}

// Data returns the last full server payload, or nil before the first
// arrival.
func (s *State) Data() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Err returns the last error, or nil.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Completed reports whether the subscription has completed.
func (s *State) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// ObserverCount reports the number of currently registered observers.
func (s *State) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// MergedSelection returns the current union of all observer selections,
// or selection.All if any observer wants everything.
func (s *State) MergedSelection() selection.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedSelection
}

func recomputeMerged(observers map[string]*Observer) selection.Selection {
	sels := make([]selection.Selection, 0, len(observers))
	for _, o := range observers {
		sels = append(sels, o.Selection)
	}
	if len(sels) == 0 {
		return selection.Selection{}
	}
	return selection.MergeAll(sels...)
}

// AddResult reports what the caller (the dispatch/reduce layer) must do
// after AddObserver returns.
type AddResult struct {
	// StartSubscription is true when the endpoint had no server
	// subscription and the caller must start one.
	StartSubscription bool
	// Restart is true when the merged selection expanded past a live
	// subscription; the caller must tear down OldHandle (if non-nil) and
	// start a fresh subscription. No stale data is replayed to the new
	// observer in this case.
	Restart   bool
	OldHandle Unsubscribable
	// Replayed is true when the new observer was synchronously given the
	// endpoint's current cached state (data/error/complete) because the
	// selection did not expand an already-live subscription.
	Replayed bool
}

// AddObserver registers entry on state, recomputes the merged selection,
// and reports what subscription action the caller must take.
func (s *State) AddObserver(entry *Observer) AddResult {
	s.mu.Lock()

	if s.observers == nil {
		s.observers = make(map[string]*Observer)
	}
	prevMerged := s.mergedSelection
	s.observers[entry.ID] = entry
	s.mergedSelection = recomputeMerged(s.observers)

	if !s.isSubscribed {
		s.isSubscribed = true
		s.mu.Unlock()
		return AddResult{StartSubscription: true}
	}

	if selection.Expanded(prevMerged, s.mergedSelection) {
		old := s.serverHandle
		s.serverHandle = nil
		s.mu.Unlock()
		return AddResult{Restart: true, OldHandle: old}
	}

	// Not expanded: replay cached state to this observer only. Snapshot
	// under the lock and deliver after unlocking, same as the Distribute*
	// methods below, so a callback that reads State back through Data/Err
	// doesn't re-lock the non-reentrant mutex.
	data, err, completed := s.data, s.err, s.completed
	s.mu.Unlock()

	if data != nil {
		entry.deliver(data)
	}
	if err != nil {
		entry.deliverErr(err)
	}
	if completed {
		entry.deliverComplete()
	}
	return AddResult{Replayed: true}
}

// RemoveResult reports teardown the caller must perform after the last
// observer leaves.
type RemoveResult struct {
	// Erased is true when this was the last observer: the endpoint is
	// now gone from its registry and OldHandle (if any) must be torn
	// down.
	Erased    bool
	OldHandle Unsubscribable
}

// RemoveObserver deletes the entry for id and recomputes the merged
// selection. It does not itself erase the endpoint from a Registry; the
// caller uses the returned result to do that within the same call, per
// An endpoint is removed from its registry within the same call that
// drops its last observer.
func (s *State) RemoveObserver(id string) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observers, id)
	if len(s.observers) == 0 {
		s.mergedSelection = selection.Selection{}
		old := s.serverHandle
		s.serverHandle = nil
		s.isSubscribed = false
		return RemoveResult{Erased: true, OldHandle: old}
	}
	s.mergedSelection = recomputeMerged(s.observers)
	return RemoveResult{}
}

// SetServerHandle attaches the live subscription handle once a start (or
// restart) completes.
func (s *State) SetServerHandle(h Unsubscribable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverHandle = h
}

// CacheData assigns data and clears the error without notifying any
// observer. Used by the query batcher to warm an endpoint's cache from
// a one-shot query response, so a later subscribe benefits from it
// without a second round trip.
func (s *State) CacheData(data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.err = nil
}

// DistributeData assigns data, clears the error, and delivers the
// filtered projection to every observer.
func (s *State) DistributeData(data interface{}) {
	s.mu.Lock()
	s.data = data
	s.err = nil
	observers := snapshotObservers(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.deliver(data)
	}
}

// DistributeError assigns err and notifies every observer's Error
// handler, without touching data.
func (s *State) DistributeError(err error) {
	s.mu.Lock()
	s.err = err
	observers := snapshotObservers(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.deliverErr(err)
	}
}

// DistributeComplete marks the endpoint completed and notifies every
// observer.
func (s *State) DistributeComplete() {
	s.mu.Lock()
	s.completed = true
	observers := snapshotObservers(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.deliverComplete()
	}
}

func snapshotObservers(m map[string]*Observer) []*Observer {
	out := make([]*Observer, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	return out
}

// Registry maps endpoint Key to State.
type Registry struct {
	mu        sync.Mutex
	endpoints map[Key]*State
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[Key]*State)}
}

// GetOrCreate returns the endpoint for key, creating it (with empty
// observers and nil data) if absent.
func (r *Registry) GetOrCreate(key Key) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.endpoints[key]; ok {
		return s
	}
	s := &State{Key: key, observers: make(map[string]*Observer), mergedSelection: selection.Selection{}}
	r.endpoints[key] = s
	return s
}

// Lookup returns the endpoint for key without creating it.
func (r *Registry) Lookup(key Key) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.endpoints[key]
	return s, ok
}

// Erase removes key from the registry. Called once RemoveObserver
// reports the endpoint is empty.
func (r *Registry) Erase(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, key)
}

// Len reports the number of live endpoints; used by tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}
