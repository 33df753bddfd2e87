// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist sequences playback over an ordered list of files.
package playlist

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange reports an index outside the playlist.
	ErrOutOfRange = errors.New("playlist index out of range")
	// ErrUnknownRepeat reports an unparseable repeat mode.
	ErrUnknownRepeat = errors.New("unknown repeat mode")
)

// NoOffset marks an item without an explicit start position.
const NoOffset = -1

// Item is one file reference.
type Item struct {
	Path      string `json:"path"`
	StartMsec int    `json:"start_ms"`
}

// NewItem returns an item with no explicit start offset.
func NewItem(path string) Item {
	return Item{Path: path, StartMsec: NoOffset}
}

// Direction selects Advance's step.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Repeat is the repeat policy applied by Advance.
type Repeat int

const (
	RepeatNone Repeat = iota
	RepeatAll
	RepeatSingle
)

func (r Repeat) String() string {
	switch r {
	case RepeatAll:
		return "all"
	case RepeatSingle:
		return "single"
	default:
		return "none"
	}
}

// ParseRepeat accepts "none", "all" and "single"; the empty string is none.
func ParseRepeat(s string) (Repeat, error) {
	switch s {
	case "", "none":
		return RepeatNone, nil
	case "all":
		return RepeatAll, nil
	case "single":
		return RepeatSingle, nil
	}
	return RepeatNone, fmt.Errorf("%w %q (want none, all or single)", ErrUnknownRepeat, s)
}

// Playlist holds items and a cursor that is either -1 (unset) or a valid index.
// Not safe for concurrent use.
type Playlist struct {
	items []Item
	cur   int
}

// New creates a playlist with the cursor unset.
func New(items ...Item) *Playlist {
	p := &Playlist{cur: -1}
	p.items = append(p.items, items...)
	return p
}

// Len returns the number of items.
func (p *Playlist) Len() int { return len(p.items) }

// Items returns a copy of the items.
func (p *Playlist) Items() []Item {
	return append([]Item(nil), p.items...)
}

// Cursor returns the current index or -1.
func (p *Playlist) Cursor() int { return p.cur }

// Current returns the item under the cursor.
func (p *Playlist) Current() (Item, bool) {
	if p.cur < 0 {
		return Item{}, false
	}
	return p.items[p.cur], true
}

// Select moves the cursor to i.
func (p *Playlist) Select(i int) (Item, error) {
	if i < 0 || i >= len(p.items) {
		return Item{}, fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, i, len(p.items))
	}
	p.cur = i
	return p.items[i], nil
}

// Advance steps the cursor. Single repeat returns the current item unchanged;
// otherwise the neighbor in dir is returned, wrapping around only under
// RepeatAll. When the sequence ends the cursor stays put and ok is false.
// From an unset cursor, Forward starts at the first item and Backward at the last.
func (p *Playlist) Advance(dir Direction, policy Repeat) (Item, bool) {
	n := len(p.items)
	if n == 0 {
		return Item{}, false
	}
	if p.cur < 0 {
		if dir == Forward {
			p.cur = 0
		} else {
			p.cur = n - 1
		}
		return p.items[p.cur], true
	}
	if policy == RepeatSingle {
		return p.items[p.cur], true
	}

	next := p.cur + 1
	if dir == Backward {
		next = p.cur - 1
	}
	switch {
	case next >= 0 && next < n:
		p.cur = next
	case policy == RepeatAll && next >= n:
		p.cur = 0
	case policy == RepeatAll && next < 0:
		p.cur = n - 1
	default:
		return Item{}, false
	}
	return p.items[p.cur], true
}

// Add appends items. The cursor is unchanged.
func (p *Playlist) Add(items ...Item) {
	p.items = append(p.items, items...)
}

// Insert places it at index i (clamped to [0, Len]). The cursor keeps pointing
// at the same item.
func (p *Playlist) Insert(i int, it Item) {
	i = min(max(i, 0), len(p.items))
	p.items = append(p.items, Item{})
	copy(p.items[i+1:], p.items[i:])
	p.items[i] = it
	if p.cur >= i {
		p.cur++
	}
}

// Remove deletes the item at i. Removing the current item moves the cursor to
// the item that took its place, or the new last item, or unset when empty.
func (p *Playlist) Remove(i int) error {
	if i < 0 || i >= len(p.items) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, i, len(p.items))
	}
	p.items = append(p.items[:i], p.items[i+1:]...)
	switch {
	case len(p.items) == 0:
		p.cur = -1
	case p.cur > i:
		p.cur--
	case p.cur >= len(p.items):
		p.cur = len(p.items) - 1
	}
	return nil
}

// Move relocates the item at from to index to. The cursor follows the item it
// pointed at.
func (p *Playlist) Move(from, to int) error {
	n := len(p.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d -> %d not in [0,%d)", ErrOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}
	it := p.items[from]
	if from < to {
		copy(p.items[from:to], p.items[from+1:to+1])
	} else {
		copy(p.items[to+1:from+1], p.items[to:from])
	}
	p.items[to] = it

	switch {
	case p.cur == from:
		p.cur = to
	case from < p.cur && p.cur <= to:
		p.cur--
	case to <= p.cur && p.cur < from:
		p.cur++
	}
	return nil
}

// Clear removes every item and unsets the cursor.
func (p *Playlist) Clear() {
	p.items = nil
	p.cur = -1
}

// Replace swaps the content; the cursor is unset.
func (p *Playlist) Replace(items []Item) {
	p.items = append([]Item(nil), items...)
	p.cur = -1
}
