// Package plancache plans compiled queries and caches the plans.
//
// A compiled query is a template struct whose fields are the query's
// parameters. Planning renders the query three times with distinct sentinel values
// in every field and maps each field to the parameter slots that carried its
// sentinel. Executing a plan later only substitutes values into those slots;
// the translator never runs again for the same template type.
//
// Plans are published into an immutable radix tree behind an atomic pointer.
// Readers never lock. Writers copy the tree, insert, and compare-and-swap the
// root; a writer that loses the race for a key adopts the winner's plan.
package plancache

import (
	"log/slog"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// Cache holds plans keyed by template type. It is safe for concurrent use.
type Cache struct {
	root   atomic.Pointer[iradix.Tree[*Plan]]
	logger *slog.Logger
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{logger: logger}
	c.root.Store(iradix.New[*Plan]())
	return c
}

// Get returns the plan published under key.
func (c *Cache) Get(key string) (*Plan, bool) {
	return c.root.Load().Get([]byte(key))
}

// Publish stores p under key unless a plan is already there, and returns the
// plan that ends up cached.
func (c *Cache) Publish(key string, p *Plan) *Plan {
	k := []byte(key)
	for {
		old := c.root.Load()
		if existing, ok := old.Get(k); ok {
			if existing != p {
				c.logger.Debug("plan publish race lost", "key", key)
			}
			return existing
		}
		next, _, _ := old.Insert(k, p)
		if c.root.CompareAndSwap(old, next) {
			c.logger.Debug("plan published", "key", key, "slots", len(p.Slots))
			return p
		}
	}
}

// GetOrPlan returns the plan cached under key, planning it with build on a
// miss. Concurrent misses may all build; exactly one plan is kept.
func (c *Cache) GetOrPlan(key string, build func() (*Plan, error)) (*Plan, error) {
	if p, ok := c.Get(key); ok {
		return p, nil
	}
	p, err := build()
	if err != nil {
		return nil, err
	}
	return c.Publish(key, p), nil
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	return c.root.Load().Len()
}

// Keys returns the cached keys starting with prefix, in order.
func (c *Cache) Keys(prefix string) []string {
	var keys []string
	c.root.Load().Root().WalkPrefix([]byte(prefix), func(k []byte, _ *Plan) bool {
		keys = append(keys, string(k))
		return false
	})
	return keys
}
