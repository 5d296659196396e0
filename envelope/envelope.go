// Package envelope defines the wire-level shapes the dispatch core
// exchanges with a transport: operation kinds, the operation envelope
// sent to a transport, and the discriminated result envelope a transport
// sends back. A closed Kind/Result variant stands in for dynamic
// type-tag dispatch so protocol errors are caught by exhaustive switches
// rather than string comparisons.
package envelope

import "github.com/sylphxai/lensclient/selection"

// Kind is an operation's closed variant.
type Kind int

const (
	Query Kind = iota
	Mutation
	Subscription
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case Mutation:
		return "mutation"
	case Subscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Meta carries the operation-level metadata attached to a dispatched
// call: the selection to send, an optional timeout, and free-form
// headers a plugin may have set.
type Meta struct {
	Select     selection.Selection
	TimeoutMS  int
	Headers    map[string]string
	Additional map[string]interface{}
}

// Operation is what the dispatch engine hands to a transport.
type Operation struct {
	ID    string
	Path  string
	Type  Kind
	Input interface{}
	Meta  Meta
}

// ResultTag discriminates the Result variant.
type ResultTag int

const (
	ResultSnapshot ResultTag = iota
	ResultOps
	ResultError
)

// Result is the discriminated result envelope a transport sends back.
// Exactly one of Data, Ops, or Err is meaningful, selected by Tag.
type Result struct {
	Tag  ResultTag
	Data interface{}
	Ops  []interface{}
	Err  string
}

// Snapshot builds a ResultSnapshot.
func Snapshot(data interface{}) Result { return Result{Tag: ResultSnapshot, Data: data} }

// Ops builds a ResultOps.
func Ops(ops []interface{}) Result { return Result{Tag: ResultOps, Ops: ops} }

// Error builds a ResultError.
func Error(msg string) Result { return Result{Tag: ResultError, Err: msg} }
