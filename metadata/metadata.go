// Package metadata implements the metadata oracle: resolving a call
// path to its operation kind and deciding whether it requires a
// streaming transport.
package metadata

import (
	"strings"

	"github.com/sylphxai/lensclient/envelope"
)

// FieldMode is a field's exposure mode on a return entity.
type FieldMode int

const (
	Exposed FieldMode = iota
	Resolve
	Subscribe
	Live
)

// OperationMeta describes one leaf of the operations tree.
type OperationMeta struct {
	Type        envelope.Kind
	ReturnType  string
	Live        bool
	Optimistic  interface{}
}

// Entity maps field name to its FieldMode.
type Entity map[string]FieldMode

// Metadata is the handshake result: the operations, keyed by their full
// dot-joined path, plus an entity table.
type Metadata struct {
	Version    string
	Operations map[string]OperationMeta
	Entities   map[string]Entity
}

// Resolution is what the dispatch engine needs to decide how to route an
// operation.
type Resolution struct {
	Kind            envelope.Kind
	RequiresStream  bool
}

// Resolve looks up path and decides whether dispatching it requires a
// streaming transport. A path absent from Operations is assumed to be a
// query. fieldNames are the top-level field names the caller selects on
// the return entity, used to catch subscribe/live fields under an
// otherwise plain query.
func (m *Metadata) Resolve(path string, fieldNames []string) Resolution {
	op, ok := m.Operations[path]
	if !ok {
		return Resolution{Kind: envelope.Query}
	}

	res := Resolution{Kind: op.Type}
	if op.Type == envelope.Subscription || op.Live {
		res.RequiresStream = true
		return res
	}

	if op.ReturnType != "" && m.entityRequiresStream(op.ReturnType, fieldNames) {
		res.RequiresStream = true
	}
	return res
}

// entityRequiresStream checks whether any of fieldNames is a Subscribe or
// Live field directly on entityName. The entity table records only a
// field's exposure mode, not a nested return type per field, so this
// check does not walk beyond the return entity's own fields.
func (m *Metadata) entityRequiresStream(entityName string, fieldNames []string) bool {
	entity, ok := m.Entities[entityName]
	if !ok {
		return false
	}
	for _, f := range fieldNames {
		switch entity[f] {
		case Subscribe, Live:
			return true
		}
	}
	return false
}

// SplitPath turns a dot-joined path into its segments.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// JoinPath builds a dot-joined path from segments.
func JoinPath(segments ...string) string {
	return strings.Join(segments, ".")
}
