// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package usercache is a read-through, TTL-based cache of user records,
// addressable by user ID or by username. It sits between request
// handlers and the user store so hot profiles are not refetched on every
// request.
package usercache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error wraps all user cache errors.
	Error = errs.Class("usercache")
)

// User is the cached user record.
type User struct {
	ID        string
	Username  string
	Email     string
	Role      string
	CreatedAt time.Time
}

// Source loads user records on cache misses.
type Source interface {
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}

// Config configures the user cache.
type Config struct {
	Expiration time.Duration `user:"true" help:"how long cached users stay valid" default:"5m"`
	Capacity   int           `user:"true" help:"maximum number of cached users" default:"10000"`
}

// Stats is a snapshot of cache effectiveness counters. HitRate and
// MissRate sum to 1 once any request has been served.
type Stats struct {
	TotalRequests int64
	CacheHits     int64
	CacheMisses   int64
	HitRate       float64
	MissRate      float64
	CachedEntries int
}

// Cache is the read-through user cache. Entries are evicted when they
// expire, when either of their keys is invalidated, or least recently
// used first once Capacity is reached.
type Cache struct {
	source Source
	config Config

	mu     sync.Mutex
	order  *list.List // front is most recently used; values are *entry
	byID   map[string]*list.Element
	byName map[string]*list.Element

	hits   int64
	misses int64
}

type entry struct {
	user      *User
	expiresAt time.Time
}

// New constructs a Cache on top of source.
func New(source Source, config Config) *Cache {
	if config.Expiration <= 0 {
		config.Expiration = 5 * time.Minute
	}
	if config.Capacity <= 0 {
		config.Capacity = 10000
	}
	return &Cache{
		source: source,
		config: config,
		order:  list.New(),
		byID:   make(map[string]*list.Element),
		byName: make(map[string]*list.Element),
	}
}

// ByID returns the user with the given id, loading it from the source on
// a miss.
func (c *Cache) ByID(ctx context.Context, id string) (_ *User, err error) {
	defer mon.Task()(&ctx)(&err)

	if user := c.cached(c.byID, id); user != nil {
		return user, nil
	}

	user, err := c.source.UserByID(ctx, id)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	c.store(user)
	return user, nil
}

// ByUsername returns the user with the given username, loading it from
// the source on a miss.
func (c *Cache) ByUsername(ctx context.Context, username string) (_ *User, err error) {
	defer mon.Task()(&ctx)(&err)

	if user := c.cached(c.byName, username); user != nil {
		return user, nil
	}

	user, err := c.source.UserByUsername(ctx, username)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	c.store(user)
	return user, nil
}

// InvalidateID drops the cached user with the given id, if any.
func (c *Cache) InvalidateID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byID[id]; ok {
		c.remove(elem)
	}
}

// InvalidateUsername drops the cached user with the given username, if
// any.
func (c *Cache) InvalidateUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byName[username]; ok {
		c.remove(elem)
	}
}

// Clear drops every cached entry. The hit and miss counters keep their
// values.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.byID = make(map[string]*list.Element)
	c.byName = make(map[string]*list.Element)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		CacheHits:     c.hits,
		CacheMisses:   c.misses,
		TotalRequests: c.hits + c.misses,
		CachedEntries: c.order.Len(),
	}
	if stats.TotalRequests > 0 {
		stats.HitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
		stats.MissRate = float64(stats.CacheMisses) / float64(stats.TotalRequests)
	}
	return stats
}

// cached returns a live entry from the given index and counts the hit or
// miss. Expired entries are removed on access.
func (c *Cache) cached(index map[string]*list.Element, key string) *User {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := index[key]
	if !ok {
		c.misses++
		return nil
	}

	ent := elem.Value.(*entry)
	if !time.Now().Before(ent.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return ent.user
}

// store inserts user under both keys, evicting the least recently used
// entry when the cache is full. A nil user is not cached.
func (c *Cache) store(user *User) {
	if user == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byID[user.ID]; ok {
		c.remove(elem)
	}
	if elem, ok := c.byName[user.Username]; ok {
		c.remove(elem)
	}

	for c.order.Len() >= c.config.Capacity {
		c.remove(c.order.Back())
	}

	elem := c.order.PushFront(&entry{
		user:      user,
		expiresAt: time.Now().Add(c.config.Expiration),
	})
	c.byID[user.ID] = elem
	c.byName[user.Username] = elem
}

// remove unlinks elem from the order list and both indexes. The caller
// must hold c.mu.
func (c *Cache) remove(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.byID, ent.user.ID)
	delete(c.byName, ent.user.Username)
}
