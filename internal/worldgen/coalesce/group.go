// Package coalesce deduplicates concurrent work per key.
package coalesce

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one fn per key at a time. Callers that arrive while a
// call is in flight wait for it and share its result. Keys are compared by
// their String form. The zero Group is ready to use.
type Group[K fmt.Stringer, V any] struct {
	sf      singleflight.Group
	waiting atomic.Int64
}

// Do runs fn for key unless a call for key is already running. shared is
// true when more than one caller received the result.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	ch := g.sf.DoChan(key.String(), func() (any, error) {
		v, err := fn()
		return v, err
	})
	g.waiting.Add(1)
	res := <-ch
	g.waiting.Add(-1)
	if res.Val != nil {
		v = res.Val.(V)
	}
	return v, res.Err, res.Shared
}

// Waiting reports how many callers are registered with an in-flight call.
func (g *Group[K, V]) Waiting() int {
	return int(g.waiting.Load())
}
