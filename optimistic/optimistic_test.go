package optimistic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sylphxai/lensclient/optimistic"
)

type fakeInterp struct {
	applied    []interface{}
	confirmed  []string
	rolledBack []string
}

func (f *fakeInterp) Apply(dsl interface{}, input interface{}) (string, error) {
	f.applied = append(f.applied, input)
	return "", nil
}
func (f *fakeInterp) Confirm(txID string, serverData interface{}) {
	f.confirmed = append(f.confirmed, txID)
}
func (f *fakeInterp) Rollback(txID string) {
	f.rolledBack = append(f.rolledBack, txID)
}

// TestOptimisticRollback verifies that a failed mutation rolls back its
// predicted optimistic effect.
func TestOptimisticRollback(t *testing.T) {
	interp := &fakeInterp{}
	hook := optimistic.New(interp)

	tx, err := hook.Begin("some-dsl", map[string]interface{}{"id": "1"})
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Len(t, interp.applied, 1)

	// Transport rejects the mutation.
	hook.Rollback(tx)
	assert.Equal(t, []string{tx.ID}, interp.rolledBack)
	assert.Empty(t, interp.confirmed)

	// Rollback/Confirm after the transaction is already settled is a
	// no-op, the same idempotency as unsubscribe-after-teardown.
	hook.Confirm(tx, "whatever")
	assert.Empty(t, interp.confirmed)
}

func TestOptimisticConfirmOnSuccess(t *testing.T) {
	interp := &fakeInterp{}
	hook := optimistic.New(interp)

	tx, err := hook.Begin("dsl", nil)
	require.NoError(t, err)

	hook.Confirm(tx, map[string]interface{}{"ok": true})
	assert.Equal(t, []string{tx.ID}, interp.confirmed)
	assert.Empty(t, interp.rolledBack)
}

func TestNoOptimisticDescriptorSkipsBracketing(t *testing.T) {
	interp := &fakeInterp{}
	hook := optimistic.New(interp)

	tx, err := hook.Begin(nil, map[string]interface{}{})
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.Empty(t, interp.applied)
}

func TestMissingInterpreterIsConfigError(t *testing.T) {
	hook := optimistic.New(nil)
	_, err := hook.Begin("dsl", nil)
	assert.Error(t, err)
}

func TestCancelHandleRollsBack(t *testing.T) {
	interp := &fakeInterp{}
	hook := optimistic.New(interp)

	tx, err := hook.Begin("dsl", nil)
	require.NoError(t, err)

	tx.Cancel()
	assert.Equal(t, []string{tx.ID}, interp.rolledBack)
}
