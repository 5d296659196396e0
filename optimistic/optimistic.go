// Package optimistic implements the optimistic-mutation hook: it orders
// apply/confirm/rollback around a mutation dispatch, while the actual
// effect interpretation lives entirely in the externally supplied
// Interpreter. The Hook does not notify or refilter any endpoint; its
// only outputs are the Interpreter calls.
package optimistic

import (
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Interpreter is the external collaborator that knows how to apply,
// confirm, and roll back a mutation's predicted effect.
type Interpreter interface {
	Apply(dsl interface{}, input interface{}) (txID string, err error)
	Confirm(txID string, serverData interface{})
	Rollback(txID string)
}

// Hook brackets a mutation dispatch with the interpreter's
// apply/confirm/rollback calls.
type Hook struct {
	interp Interpreter

	mu      sync.Mutex
	pending map[string]struct{}
}

// New builds a Hook over interp. interp may be nil; in that case Begin
// reports a configuration error for any mutation that declares an
// optimistic descriptor.
func New(interp Interpreter) *Hook {
	return &Hook{interp: interp, pending: make(map[string]struct{})}
}

// Transaction is the in-flight bracket around one optimistic mutation.
type Transaction struct {
	ID string

	hook *Hook
}

// Cancel exposes the rollback as a cancellation handle to the caller.
// Safe to call more than once; only the first call has effect.
func (tx *Transaction) Cancel() {
	tx.hook.rollback(tx.ID)
}

// Begin applies dsl/input's predicted effect via the interpreter and
// returns a Transaction. optimisticDescriptor is nil when the operation
// carries no optimistic metadata, in which case Begin returns (nil, nil)
// and the caller should dispatch the mutation with no bracketing at all.
func (h *Hook) Begin(optimisticDescriptor interface{}, input interface{}) (*Transaction, error) {
	if optimisticDescriptor == nil {
		return nil, nil
	}
	if h.interp == nil {
		return nil, errConfigNoInterpreter
	}

	txID, err := h.interp.Apply(optimisticDescriptor, input)
	if err != nil {
		return nil, err
	}
	if txID == "" {
		txID = uuid.NewV4().String()
	}

	h.mu.Lock()
	h.pending[txID] = struct{}{}
	h.mu.Unlock()

	return &Transaction{ID: txID, hook: h}, nil
}

// Confirm forgets the transaction's rollback and tells the interpreter
// the mutation completed successfully with serverData.
func (h *Hook) Confirm(tx *Transaction, serverData interface{}) {
	if tx == nil {
		return
	}
	if !h.forget(tx.ID) {
		return
	}
	h.interp.Confirm(tx.ID, serverData)
}

// Rollback reverts the transaction's predicted effect, on network
// failure or an error result.
func (h *Hook) Rollback(tx *Transaction) {
	if tx == nil {
		return
	}
	h.rollback(tx.ID)
}

func (h *Hook) rollback(txID string) {
	if !h.forget(txID) {
		return
	}
	h.interp.Rollback(txID)
}

// forget removes txID from the pending set, returning whether it was
// still there (idempotency: Cancel/Confirm/Rollback only act once).
func (h *Hook) forget(txID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending[txID]; !ok {
		return false
	}
	delete(h.pending, txID)
	return true
}

type configError string

func (e configError) Error() string { return string(e) }

const errConfigNoInterpreter = configError("optimistic: operation declares an optimistic descriptor but no Interpreter was configured")
