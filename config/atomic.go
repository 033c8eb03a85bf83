package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// Container holds a hot-reloadable config safely for concurrent access.
type Container[T any] struct {
	store    atomic.Pointer[T]
	mu       sync.Mutex // serializes writers
	validate *validator.Validate
	onUpdate []func(T)
}

func NewContainer[T any](initial T) *Container[T] {
	c := &Container[T]{validate: validator.New()}
	c.store.Store(&initial)
	return c
}

// Get returns the current snapshot. Lock-free.
func (c *Container[T]) Get() *T {
	return c.store.Load()
}

// OnUpdate registers a callback run after every successful Update.
func (c *Container[T]) OnUpdate(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = append(c.onUpdate, fn)
}

// Update validates and swaps the config. An invalid config leaves the
// current one in place.
func (c *Container[T]) Update(next T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validate.Struct(next); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	c.store.Store(&next)
	for _, fn := range c.onUpdate {
		fn(next)
	}
	return nil
}
