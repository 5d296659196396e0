package selection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sylphxai/lensclient/selection"
)

func TestMergeDisjointFields(t *testing.T) {
	a := selection.Selection{"name": selection.Leaf}
	b := selection.Selection{"email": selection.Leaf, "phone": selection.Leaf}

	merged := selection.Merge(a, b)
	assert.True(t, selection.Equal(merged, selection.Selection{
		"name": selection.Leaf, "email": selection.Leaf, "phone": selection.Leaf,
	}))
}

func TestMergeLeafWinsOverNode(t *testing.T) {
	a := selection.Selection{"posts": selection.Leaf}
	b := selection.Selection{"posts": &selection.Node{Select: selection.Selection{"title": selection.Leaf}}}

	merged := selection.Merge(a, b)
	assert.Equal(t, selection.Leaf, merged["posts"])
}

func TestMergeAnyAllMakesAll(t *testing.T) {
	assert.True(t, selection.IsAll(selection.Merge(nil, selection.Selection{"a": selection.Leaf})))
	assert.True(t, selection.IsAll(selection.Merge(selection.Selection{"a": selection.Leaf}, nil)))
}

func TestMergeIdempotentAndCommutative(t *testing.T) {
	s := selection.Selection{"a": selection.Leaf, "b": &selection.Node{Select: selection.Selection{"c": selection.Leaf}}}
	assert.True(t, selection.Equal(selection.Merge(s, s), s))

	other := selection.Selection{"x": selection.Leaf}
	assert.True(t, selection.Equal(selection.Merge(s, other), selection.Merge(other, s)))
}

func TestExpandedDetectsNewLeaf(t *testing.T) {
	prev := selection.Selection{"fieldA": selection.Leaf}
	next := selection.Merge(prev, selection.Selection{"fieldB": selection.Leaf})
	assert.True(t, selection.Expanded(prev, next))
	assert.False(t, selection.Expanded(next, prev))
	assert.False(t, selection.Expanded(prev, prev))
}

func TestExpandedAgainstAll(t *testing.T) {
	narrow := selection.Selection{"a": selection.Leaf}
	assert.True(t, selection.Expanded(narrow, selection.All))
	assert.False(t, selection.Expanded(selection.All, narrow))
}

func TestFilterProjectsObjectKeys(t *testing.T) {
	data := map[string]interface{}{
		"id": "1", "name": "Alice", "email": "a@x", "phone": "555",
	}

	a := selection.Filter(data, selection.Selection{"name": selection.Leaf})
	assert.Equal(t, map[string]interface{}{"id": "1", "name": "Alice"}, a)

	b := selection.Filter(data, selection.Selection{"email": selection.Leaf, "phone": selection.Leaf})
	assert.Equal(t, map[string]interface{}{"id": "1", "email": "a@x", "phone": "555"}, b)
}

func TestFilterAllPassesThrough(t *testing.T) {
	data := map[string]interface{}{"a": 1, "b": 2}
	assert.Equal(t, data, selection.Filter(data, selection.All))
}

func TestFilterArraysMapElementwise(t *testing.T) {
	data := []interface{}{
		map[string]interface{}{"id": "1", "title": "a", "body": "x"},
		map[string]interface{}{"id": "2", "title": "b", "body": "y"},
	}
	out := selection.Filter(data, selection.Selection{"title": selection.Leaf})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": "1", "title": "a"},
		map[string]interface{}{"id": "2", "title": "b"},
	}, out)
}

func TestFilterNestedNode(t *testing.T) {
	data := map[string]interface{}{
		"id": "1",
		"author": map[string]interface{}{
			"id": "2", "name": "Bob", "email": "b@x",
		},
	}
	out := selection.Filter(data, selection.Selection{
		"author": &selection.Node{Select: selection.Selection{"name": selection.Leaf}},
	})
	assert.Equal(t, map[string]interface{}{
		"id": "1",
		"author": map[string]interface{}{
			"id": "2", "name": "Bob",
		},
	}, out)
}

func TestFilterIdempotentOnSubsetSelection(t *testing.T) {
	data := map[string]interface{}{"id": "1", "a": 1, "b": 2, "c": 3}
	s1 := selection.Selection{"a": selection.Leaf, "b": selection.Leaf}
	s2 := selection.Selection{"a": selection.Leaf}

	left := selection.Filter(selection.Filter(data, s1), s2)
	right := selection.Filter(data, s2)
	assert.Equal(t, right, left)
}
