package reduce_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/reduce"
	"github.com/sylphxai/lensclient/selection"
)

func TestApplyOpsObjectUpdateAndDelete(t *testing.T) {
	baseline := map[string]interface{}{"a": 1, "b": 2, "c": 3}
	ops := []interface{}{
		reduce.Update{"a": 10, "b": reduce.Delete{}, "d": 4},
	}
	out := reduce.ApplyOps(baseline, ops)
	assert.Equal(t, map[string]interface{}{"a": 10, "c": 3, "d": 4}, out)
}

func TestApplyOpsArrayReorderAndPatch(t *testing.T) {
	baseline := []interface{}{"x", "y", "z"}

	delta := reduce.Update{
		"$": []interface{}{2, 0, 1},
		"0": "Z",
	}
	out := reduce.ApplyOps(baseline, []interface{}{delta})
	assert.Equal(t, []interface{}{"Z", "x", "y"}, out)
}

func TestApplyOpsSequential(t *testing.T) {
	baseline := map[string]interface{}{"count": 1}
	ops := []interface{}{
		reduce.Update{"count": 2},
		reduce.Update{"count": 3},
	}
	out := reduce.ApplyOps(baseline, ops)
	assert.Equal(t, map[string]interface{}{"count": 3}, out)
}

// TestOpsBeforeSnapshotIgnored verifies that an ops message arriving
// before any snapshot is ignored and leaves the baseline nil.
func TestOpsBeforeSnapshotIgnored(t *testing.T) {
	reg := endpoint.NewRegistry()
	key := endpoint.Key{Path: "thing", InputHash: "k"}
	state := reg.GetOrCreate(key)
	state.AddObserver(&endpoint.Observer{ID: "A", Selection: selection.All})

	r := reduce.New(nil)
	r.Handle(state, key, envelope.Ops([]interface{}{reduce.Update{"a": 1}}))
	assert.Nil(t, state.Data())

	r.Handle(state, key, envelope.Snapshot(map[string]interface{}{"a": 1}))
	require.NotNil(t, state.Data())
	assert.Equal(t, map[string]interface{}{"a": 1}, state.Data())
}

func TestErrorDoesNotClearData(t *testing.T) {
	reg := endpoint.NewRegistry()
	key := endpoint.Key{Path: "thing", InputHash: "k"}
	state := reg.GetOrCreate(key)

	r := reduce.New(nil)
	r.Handle(state, key, envelope.Snapshot(map[string]interface{}{"a": 1}))
	r.Handle(state, key, envelope.Error("boom"))

	assert.Equal(t, map[string]interface{}{"a": 1}, state.Data())
	require.Error(t, state.Err())
	assert.Equal(t, "boom", state.Err().Error())
}

func TestCompleteMarksEndpoint(t *testing.T) {
	reg := endpoint.NewRegistry()
	key := endpoint.Key{Path: "thing", InputHash: "k"}
	state := reg.GetOrCreate(key)

	var completed bool
	state.AddObserver(&endpoint.Observer{ID: "A", Selection: selection.All, Complete: func() { completed = true }})

	r := reduce.New(nil)
	r.Complete(state)
	assert.True(t, completed)
	assert.True(t, state.Completed())
}
