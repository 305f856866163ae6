// Package lazy provides a compute-once cell.
package lazy

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Cell holds a value computed by the first call to Get. Concurrent first
// callers block until that computation finishes and then observe its result.
// The result, including an error, is kept for the cell's lifetime. A panic in
// the computation is kept as an error.
type Cell[T any] struct {
	once sync.Once
	done atomic.Bool
	val  T
	err  error
}

// Get returns the cell's value, running compute if this is the first call.
func (c *Cell[T]) Get(compute func() (T, error)) (T, error) {
	c.once.Do(func() {
		defer c.done.Store(true)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				c.val, c.err = zero, errors.Errorf("panic: %v", r)
			}
		}()
		c.val, c.err = compute()
	})
	return c.val, c.err
}

// Done reports whether the value has been computed.
func (c *Cell[T]) Done() bool {
	return c.done.Load()
}
