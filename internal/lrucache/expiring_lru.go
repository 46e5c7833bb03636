// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package lrucache implements an expiring LRU cache with read-through
// semantics and deduplication of concurrent fetches.
package lrucache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Options controls the cache behavior.
type Options struct {
	// Expiration is how long a fetched value stays valid. Zero or
	// negative means values never expire.
	Expiration time.Duration

	// Capacity is the maximum number of entries kept. Least recently
	// used entries are dropped first once the cache is full.
	Capacity int
}

func (o *Options) fillDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 100
	}
}

// ExpiringLRU is a bounded key-value cache where values are loaded on
// demand. Concurrent Gets for the same key share one fetch.
type ExpiringLRU struct {
	opts Options

	mu    sync.Mutex
	order *list.List // front is most recently used; values are *entry
	index map[interface{}]*list.Element
}

type entry struct {
	key   interface{}
	value interface{}
	err   error

	// done is closed once value, err, and created are set. Readers must
	// observe done before touching the other fields.
	done    chan struct{}
	created time.Time
}

// New constructs an ExpiringLRU with the given options.
func New(opts Options) *ExpiringLRU {
	opts.fillDefaults()
	return &ExpiringLRU{
		opts:  opts,
		order: list.New(),
		index: make(map[interface{}]*list.Element),
	}
}

// Get returns the cached value for key, calling fn to load it on a
// miss. When another Get is already loading the same key, the call
// waits for that load instead of duplicating it, or returns early when
// ctx is done. Errors from fn are returned but never cached.
func (c *ExpiringLRU) Get(ctx context.Context, key interface{}, fn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if elem, ok := c.index[key]; ok {
		ent := elem.Value.(*entry)
		select {
		case <-ent.done:
			if !c.expiredLocked(ent) {
				c.order.MoveToFront(elem)
				c.mu.Unlock()
				return ent.value, nil
			}
			c.removeLocked(elem)
		default:
			c.mu.Unlock()
			select {
			case <-ent.done:
				return ent.value, ent.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	ent := &entry{key: key, done: make(chan struct{})}
	elem := c.order.PushFront(ent)
	c.index[key] = elem
	for c.order.Len() > c.opts.Capacity {
		c.removeLocked(c.order.Back())
	}
	c.mu.Unlock()

	ent.value, ent.err = fn()
	ent.created = time.Now()
	close(ent.done)

	if ent.err != nil {
		c.mu.Lock()
		if cur, ok := c.index[key]; ok && cur == elem {
			c.removeLocked(cur)
		}
		c.mu.Unlock()
		return nil, ent.err
	}
	return ent.value, nil
}

// Num returns the number of entries currently held, including loads
// still in flight.
func (c *ExpiringLRU) Num() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// expiredLocked reports whether a completed entry has outlived the
// configured expiration. The caller must hold c.mu and have observed
// ent.done closed.
func (c *ExpiringLRU) expiredLocked(ent *entry) bool {
	if ent.err != nil {
		return true
	}
	return c.opts.Expiration > 0 && time.Since(ent.created) >= c.opts.Expiration
}

// removeLocked unlinks elem from the order list and the index. The
// caller must hold c.mu.
func (c *ExpiringLRU) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.index, ent.key)
}
