// Package testutil holds small helpers shared by this module's test
// files, grounded on the internal.AsJSON/internal.ParseJSON helpers the
// retrieval pack's graphql tests lean on for structural comparison
// (e.g. graphql/batch_test.go) rather than testify's plain
// assert.Equal, since map[string]interface{} results built from
// heterogeneous sources rarely compare equal by reflect.DeepEqual on
// numeric types alone.
package testutil

import "encoding/json"

// AsJSON round-trips v through JSON and back into a generic
// interface{}, normalizing numeric and key-ordering differences so two
// structurally equivalent results compare equal.
func AsJSON(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return ParseJSON(b)
}

// ParseJSON unmarshals raw JSON into a generic interface{}.
func ParseJSON(raw []byte) interface{} {
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}
