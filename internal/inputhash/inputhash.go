// Package inputhash computes the canonical hash half of an endpoint key.
// Primitive inputs hash to a direct string form; object inputs serialize
// to a stable JSON form.
//
// The goal is a weak-keyed cache from input reference to computed hash,
// so a hash is computed at most once per input object and is reclaimed
// once the input is garbage collected. Go has no weak maps, so this
// collapses to a bounded LRU keyed by the input's identity (its pointer
// address for reference types); value types have no stable identity to
// key on and are simply re-hashed every time, which is cheap since
// they're usually small.
package inputhash

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the number of cached input hashes. Chosen to be
// large enough to cover a busy client's live endpoint set without
// unbounded growth, mirroring the bounded caches used elsewhere in the
// retrieval pack in place of unavailable weak-reference maps.
const DefaultCacheSize = 4096

// Cache memoizes Hash(input) for reference-typed inputs.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewCache builds an input hash cache with DefaultCacheSize capacity.
func NewCache() *Cache {
	c, err := lru.New(DefaultCacheSize)
	if err != nil {
		// lru.New only errors for non-positive size, which DefaultCacheSize
		// never is.
		panic(err)
	}
	return &Cache{lru: c}
}

// Hash returns the canonical hash for input, memoizing by identity when
// input is a reference type (pointer, map, slice, chan, func).
func (c *Cache) Hash(input interface{}) (string, error) {
	key, identifiable := identityKey(input)
	if identifiable {
		c.mu.Lock()
		if v, ok := c.lru.Get(key); ok {
			c.mu.Unlock()
			return v.(string), nil
		}
		c.mu.Unlock()
	}

	h, err := Hash(input)
	if err != nil {
		return "", err
	}

	if identifiable {
		c.mu.Lock()
		c.lru.Add(key, h)
		c.mu.Unlock()
	}
	return h, nil
}

// identityKey returns a comparable key for input's identity, if any.
func identityKey(input interface{}) (interface{}, bool) {
	if input == nil {
		return nil, false
	}
	v := reflect.ValueOf(input)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return nil, false
		}
		return v.Pointer(), true
	default:
		return nil, false
	}
}

// Hash computes the canonical hash of input directly, with no caching.
// Primitive scalars use a direct string form; everything else uses a
// stable JSON serialization (Go's encoding/json already sorts map keys,
// which is what makes this stable across calls with structurally equal
// but differently-ordered inputs).
func Hash(input interface{}) (string, error) {
	switch v := input.(type) {
	case nil:
		return "null", nil
	case string:
		return "s:" + v, nil
	case bool:
		return fmt.Sprintf("b:%t", v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("n:%v", v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("inputhash: marshaling input: %w", err)
		}
		return "j:" + string(b), nil
	}
}
