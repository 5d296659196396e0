// Package reduce implements the stream reducer: applying
// snapshot/ops/error/complete messages to an endpoint's baseline and
// distributing the result to observers.
//
// The op-application algorithm (ApplyOps/Merge) is the inverse of
// thunder's reactive/diff package: thunder computes an Update/Delete
// delta between two full values for pushing over the wire; here we apply
// such a delta, received from the server, back onto our own baseline.
// The delta shape (per-key Update, Delete sentinel, and a "$" reorder key
// for arrays) is carried over unchanged from thunder's diff/merge pair.
package reduce

import (
	"fmt"
	"strconv"

	"github.com/sylphxai/lensclient/endpoint"
	"github.com/sylphxai/lensclient/envelope"
	"github.com/sylphxai/lensclient/internal/corelog"
)

// Delete marks a field as removed by a delta. It mirrors thunder's
// diff.Delete sentinel.
type Delete struct{}

// Update is a delta: a set of per-key changes to apply to a
// map[string]interface{} baseline.
type Update map[string]interface{}

const reorderKey = "$"

func isDelete(v interface{}) bool {
	_, ok := v.(Delete)
	if ok {
		return true
	}
	arr, ok := v.([]interface{})
	return ok && len(arr) == 0
}

// Merge applies a single delta onto prev, returning the new baseline.
// This is the client-side inverse of thunder's diff.Merge.
func Merge(prev interface{}, delta interface{}) interface{} {
	switch d := delta.(type) {
	case Update:
		return mergeUpdate(prev, d)
	case map[string]interface{}:
		return mergeUpdate(prev, Update(d))
	default:
		// A bare replacement value (the field was replaced wholesale,
		// not patched).
		return delta
	}
}

func mergeUpdate(prev interface{}, delta Update) interface{} {
	switch p := prev.(type) {
	case map[string]interface{}:
		return mergeObject(p, delta)
	case []interface{}:
		return mergeArray(p, delta)
	default:
		// No structural baseline to patch into; the delta replaces it
		// wholesale.
		return map[string]interface{}(delta)
	}
}

func mergeObject(prev map[string]interface{}, delta Update) map[string]interface{} {
	out := make(map[string]interface{}, len(prev)+len(delta))
	for k, v := range prev {
		d, ok := delta[k]
		if !ok {
			out[k] = v
			continue
		}
		if isDelete(d) {
			continue
		}
		out[k] = Merge(v, d)
	}
	for k, d := range delta {
		if _, ok := prev[k]; !ok && !isDelete(d) {
			out[k] = Merge(nil, d)
		}
	}
	return out
}

func mergeArray(prev []interface{}, delta Update) []interface{} {
	out := make([]interface{}, len(prev))
	copy(out, prev)

	if reordered, ok := delta[reorderKey]; ok {
		indices := uncompressIndices(reordered)
		next := make([]interface{}, len(indices))
		for i, idx := range indices {
			if idx >= 0 && idx < len(prev) {
				next[i] = prev[idx]
			}
		}
		out = next
	}

	for k, d := range delta {
		if k == reorderKey {
			continue
		}
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(out) {
			continue
		}
		out[idx] = Merge(out[idx], d)
	}
	return out
}

// uncompressIndices expands the compact reorder encoding used for array
// deltas: a plain int is a moved single index, a two-element
// []interface{}{first, count} is a run of consecutive source indices, and
// -1 marks a newly-inserted element.
func uncompressIndices(raw interface{}) []int {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []int
	for _, item := range items {
		switch v := item.(type) {
		case int:
			out = append(out, v)
		case float64:
			out = append(out, int(v))
		case []interface{}:
			if len(v) != 2 {
				continue
			}
			first := toInt(v[0])
			count := toInt(v[1])
			for i := 0; i < count; i++ {
				out = append(out, first+i)
			}
		}
	}
	return out
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// ApplyOps applies a sequence of deltas to baseline in order, returning
// the final value.
func ApplyOps(baseline interface{}, ops []interface{}) interface{} {
	cur := baseline
	for _, op := range ops {
		cur = Merge(cur, op)
	}
	return cur
}

// Reducer sequences transport messages onto one endpoint's state. It
// holds no state of its own beyond the logger; all mutation happens on
// the endpoint.State passed to Handle.
type Reducer struct {
	Log corelog.Logger
}

// New builds a Reducer; a nil logger is replaced with a no-op one.
func New(log corelog.Logger) *Reducer {
	if log == nil {
		log = corelog.Noop()
	}
	return &Reducer{Log: log}
}

// Handle applies one transport message to state.
func (r *Reducer) Handle(state *endpoint.State, key endpoint.Key, result envelope.Result) {
	switch result.Tag {
	case envelope.ResultSnapshot:
		state.DistributeData(result.Data)

	case envelope.ResultOps:
		if state.Data() == nil {
			r.Log.Warn("ops message received before any snapshot; ignoring", "path", key.Path, "inputHash", key.InputHash)
			return
		}
		next := ApplyOps(state.Data(), result.Ops)
		state.DistributeData(next)

	case envelope.ResultError:
		state.DistributeError(fmt.Errorf("%s", result.Err))

	default:
		r.Log.Error("unknown result tag", "path", key.Path, "tag", result.Tag)
	}
}

// Complete marks the endpoint completed, per a transport-level stream
// completion (not part of the tagged Result, since it carries no data).
func (r *Reducer) Complete(state *endpoint.State) {
	state.DistributeComplete()
}
