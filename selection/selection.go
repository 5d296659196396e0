// Package selection implements the field-selection algebra used to merge
// overlapping observer requests into a single server subscription and to
// project delivered data back down to each observer's narrower view.
//
// A Selection is a tree: a node is either Leaf (the field's entire
// subtree, opaquely) or a Node carrying its own nested Selection and
// optional per-relation Input. The zero value of Selection (a nil map) is
// the "select everything" selection used when an observer asks for the
// whole endpoint.
package selection

import "sort"

// Leaf marks a field as wanted in its entirety; its subtree is not
// further narrowed.
const Leaf = leaf(true)

type leaf bool

// Node describes a nested field: its own selection plus optional
// per-relation arguments supplied by the caller.
type Node struct {
	Input  interface{}
	Select Selection
}

// Selection maps field name to either Leaf or *Node. A nil Selection means
// "everything" (the coarsest possible selection); it is distinct from an
// empty, non-nil Selection, which selects nothing.
type Selection map[string]interface{}

// All is the selection that wants everything; equivalent to a nil
// Selection but safe to range over.
var All Selection = nil

// IsAll reports whether s is the "select everything" selection.
func IsAll(s Selection) bool {
	return s == nil
}

// Merge computes the pointwise union A ⊔ B. A nil operand (select
// everything) makes the whole merge nil, since INCLUDE/everything is
// always the coarser answer. Where both sides describe the same relation
// with a Node, their Select trees are merged recursively; Input is taken
// from A (the first selection that specifies it) unless A has none.
//
// Conflicting Input values across observers on the same relation are a
// known, unresolved design tension: Merge silently prefers A's Input and
// does not attempt to reconcile them. Callers that care should scope
// inputs per observer endpoint instead of relying on the merge.
func Merge(a, b Selection) Selection {
	if IsAll(a) || IsAll(b) {
		return All
	}

	out := make(Selection, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		av, ok := out[k]
		if !ok {
			out[k] = bv
			continue
		}
		out[k] = mergeField(av, bv)
	}
	return out
}

func mergeField(a, b interface{}) interface{} {
	an, aIsNode := a.(*Node)
	bn, bIsNode := b.(*Node)

	// Leaf ⊔ anything = Leaf: a bare Leaf wants the whole subtree, which
	// is coarser than any narrower Node.
	if !aIsNode || !bIsNode {
		return Leaf
	}

	input := an.Input
	if input == nil {
		input = bn.Input
	}
	return &Node{
		Input:  input,
		Select: Merge(an.Select, bn.Select),
	}
}

// MergeAll merges a sequence of selections left to right. An empty slice
// merges to an empty (non-nil) Selection, which selects nothing — callers
// with no observers should not call this.
func MergeAll(selections ...Selection) Selection {
	var out Selection = Selection{}
	for i, s := range selections {
		if i == 0 {
			out = s
			continue
		}
		out = Merge(out, s)
	}
	return out
}

// Flatten reduces a Selection to the set of dotted leaf paths it
// describes. It is used to test expansion and equality (selection
// equality is defined as flattening to the same set, irrespective of
// tree shape or key order).
func Flatten(s Selection) map[string]bool {
	out := map[string]bool{}
	flattenInto(s, "", out)
	return out
}

func flattenInto(s Selection, prefix string, out map[string]bool) {
	if IsAll(s) {
		out[prefix+"*"] = true
		return
	}
	for k, v := range s {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch v := v.(type) {
		case *Node:
			if IsAll(v.Select) {
				out[path+".*"] = true
			} else if len(v.Select) == 0 {
				out[path] = true
			} else {
				flattenInto(v.Select, path, out)
			}
		default:
			out[path] = true
		}
	}
}

// Equal reports whether two selections flatten to the same set of paths.
func Equal(a, b Selection) bool {
	fa, fb := Flatten(a), Flatten(b)
	if len(fa) != len(fb) {
		return false
	}
	for k := range fa {
		if !fb[k] {
			return false
		}
	}
	return true
}

// Expanded reports whether next contains a leaf path absent from prev —
// i.e. whether a server subscription built against prev would now be
// missing data next wants. Used to decide whether to tear down and
// restart a server subscription.
func Expanded(prev, next Selection) bool {
	if IsAll(prev) {
		return false
	}
	if IsAll(next) {
		return true
	}
	fp := Flatten(prev)
	for path := range Flatten(next) {
		if !fp[path] {
			return true
		}
	}
	return false
}

// alwaysIncluded are field names preserved through any filter so that
// downstream identity caches keep working even when an observer didn't
// explicitly ask for them.
var alwaysIncluded = map[string]bool{"id": true}

// Filter projects data through selection, keeping only the paths listed
// (plus "id" fields, always preserved for identity). Objects project
// keys; arrays map element-wise; scalars and anything selection can't
// see into pass through verbatim under Leaf.
func Filter(data interface{}, sel Selection) interface{} {
	if IsAll(sel) {
		return data
	}

	switch d := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(sel)+1)
		for k, v := range d {
			if alwaysIncluded[k] {
				out[k] = v
				continue
			}
			field, ok := sel[k]
			if !ok {
				continue
			}
			switch f := field.(type) {
			case *Node:
				out[k] = Filter(v, f.Select)
			default:
				// Leaf: pass the subtree through verbatim.
				out[k] = v
			}
		}
		return out

	case []interface{}:
		out := make([]interface{}, len(d))
		for i, v := range d {
			out[i] = Filter(v, sel)
		}
		return out

	default:
		return data
	}
}

// SortedKeys is a small helper used by callers that want deterministic
// diagnostic output over a Selection; ordering is never semantically
// significant.
func SortedKeys(s Selection) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
