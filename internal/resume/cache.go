// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resume remembers the last playback position per file.
package resume

import (
	"container/list"
)

// MaxCapacity is the hard ceiling for the number of retained entries.
const MaxCapacity = 10000

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 1000

// Entry is one persisted (fingerprint, position) pair.
type Entry struct {
	Fingerprint uint64 `json:"fp"`
	PosMsec     int    `json:"pos_ms"`
}

// Cache is a bounded fingerprint -> position map that evicts the least recently
// touched entry. Salt and capacity are fixed at construction. Not safe for
// concurrent use; the controller serializes access.
type Cache struct {
	capacity int
	salt     uint32
	order    *list.List // front = oldest
	index    map[uint64]*list.Element
}

// NewCache creates a cache. capacity is clamped to [1, MaxCapacity]; zero selects
// DefaultCapacity.
func NewCache(capacity int, salt uint32) *Cache {
	switch {
	case capacity == 0:
		capacity = DefaultCapacity
	case capacity < 1:
		capacity = 1
	case capacity > MaxCapacity:
		capacity = MaxCapacity
	}
	return &Cache{
		capacity: capacity,
		salt:     salt,
		order:    list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

// Salt returns the fingerprint salt this cache was built with.
func (c *Cache) Salt() uint32 { return c.salt }

// Capacity returns the effective cap.
func (c *Cache) Capacity() int { return c.capacity }

// Len returns the number of entries.
func (c *Cache) Len() int { return c.order.Len() }

// Lookup returns the stored position for fp. It does not change eviction order.
func (c *Cache) Lookup(fp uint64) (int, bool) {
	el, ok := c.index[fp&fingerprintMask]
	if !ok {
		return 0, false
	}
	return el.Value.(*Entry).PosMsec, true
}

// Upsert records pos for fp and marks it most recently touched.
func (c *Cache) Upsert(fp uint64, posMsec int) {
	fp &= fingerprintMask
	if posMsec < 0 {
		posMsec = 0
	}
	if el, ok := c.index[fp]; ok {
		el.Value.(*Entry).PosMsec = posMsec
		c.order.MoveToBack(el)
		return
	}
	c.index[fp] = c.order.PushBack(&Entry{Fingerprint: fp, PosMsec: posMsec})
	c.evict()
}

// Remove deletes fp. It reports whether it was present.
func (c *Cache) Remove(fp uint64) bool {
	el, ok := c.index[fp&fingerprintMask]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, fp&fingerprintMask)
	return true
}

func (c *Cache) evict() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*Entry).Fingerprint)
	}
}

// Entries returns all entries, oldest first.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

// Restore replaces the content with entries (oldest first), keeping only the
// newest ones when they exceed the capacity.
func (c *Cache) Restore(entries []Entry) {
	c.order.Init()
	c.index = make(map[uint64]*list.Element, len(entries))
	for _, e := range entries {
		c.Upsert(e.Fingerprint, e.PosMsec)
	}
}

// Snapshot captures the persisted form of the cache.
func (c *Cache) Snapshot() Snapshot {
	return Snapshot{Salt: c.salt, Entries: c.Entries()}
}
