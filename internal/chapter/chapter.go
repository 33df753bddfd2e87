// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chapter holds the time marks of the currently open file.
package chapter

import (
	"sort"
)

// Flag tags a mark with region semantics.
type Flag uint8

const (
	// SkipIn opens a skip region at the mark.
	SkipIn Flag = 1 << iota
	// SkipOut closes the current skip region at the mark.
	SkipOut
)

// Mark is a single chapter point.
type Mark struct {
	Pos   int    `json:"pos_ms"`
	Flags Flag   `json:"flags,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Region is the chapter interval [Start, End) around a position.
type Region struct {
	Start int  `json:"start_ms"`
	End   int  `json:"end_ms"`
	Skip  bool `json:"skip"`
	// Index of the mark opening the region, -1 before the first mark.
	Index int `json:"index"`
}

// Map is an ordered, deduplicated set of marks. It is owned by the controller
// and not safe for concurrent use.
type Map struct {
	marks    []Mark
	duration int
}

// New returns an empty map for a file of the given duration.
func New(durationMsec int) *Map {
	return &Map{duration: max(durationMsec, 0)}
}

// Reset clears all marks and sets a new duration.
func (m *Map) Reset(durationMsec int) {
	m.marks = m.marks[:0]
	m.duration = max(durationMsec, 0)
}

// Duration returns the clamp bound.
func (m *Map) Duration() int { return m.duration }

// SetDuration updates the clamp bound (extend mode) and re-clamps existing marks.
func (m *Map) SetDuration(durationMsec int) {
	m.duration = max(durationMsec, 0)
	if len(m.marks) == 0 || m.marks[len(m.marks)-1].Pos <= m.duration {
		return
	}
	marks := m.marks
	m.marks = nil
	for _, mk := range marks {
		m.Insert(mk)
	}
}

// Len returns the number of marks.
func (m *Map) Len() int { return len(m.marks) }

// Marks returns a copy of the marks in ascending order.
func (m *Map) Marks() []Mark {
	out := make([]Mark, len(m.marks))
	copy(out, m.marks)
	return out
}

func (m *Map) clamp(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos > m.duration {
		return m.duration
	}
	return pos
}

// search returns the first index with marks[i].Pos >= pos.
func (m *Map) search(pos int) int {
	return sort.Search(len(m.marks), func(i int) bool { return m.marks[i].Pos >= pos })
}

// Insert adds mk, clamping its position. A mark already at that position is replaced.
func (m *Map) Insert(mk Mark) Mark {
	mk.Pos = m.clamp(mk.Pos)
	i := m.search(mk.Pos)
	if i < len(m.marks) && m.marks[i].Pos == mk.Pos {
		m.marks[i] = mk
		return mk
	}
	m.marks = append(m.marks, Mark{})
	copy(m.marks[i+1:], m.marks[i:])
	m.marks[i] = mk
	return mk
}

// Delete removes the mark at pos. It reports whether one existed.
func (m *Map) Delete(pos int) bool {
	i := m.search(pos)
	if i >= len(m.marks) || m.marks[i].Pos != pos {
		return false
	}
	m.marks = append(m.marks[:i], m.marks[i+1:]...)
	return true
}

// ReplaceAll discards the current marks and inserts marks.
func (m *Map) ReplaceAll(marks []Mark) {
	m.marks = m.marks[:0]
	for _, mk := range marks {
		m.Insert(mk)
	}
}

// NextFrom returns the nearest mark strictly after pos.
func (m *Map) NextFrom(pos int) (Mark, bool) {
	i := m.search(pos + 1)
	if i >= len(m.marks) {
		return Mark{}, false
	}
	return m.marks[i], true
}

// PrevFrom returns the nearest mark strictly before pos.
func (m *Map) PrevFrom(pos int) (Mark, bool) {
	i := m.search(pos)
	if i == 0 {
		return Mark{}, false
	}
	return m.marks[i-1], true
}

// ChapterAt returns the index of the last mark at or before pos, or -1.
func (m *Map) ChapterAt(pos int) int {
	return m.search(pos+1) - 1
}

// RegionAt returns the chapter containing pos. Skip is true when pos lies between
// a SkipIn mark and the following SkipOut mark (or the end of the file).
func (m *Map) RegionAt(pos int) Region {
	pos = m.clamp(pos)
	idx := m.ChapterAt(pos)
	r := Region{Start: 0, End: m.duration, Index: idx}
	if idx >= 0 {
		r.Start = m.marks[idx].Pos
	}
	if idx+1 < len(m.marks) {
		r.End = m.marks[idx+1].Pos
	}

	inSkip := false
	for i := 0; i <= idx; i++ {
		f := m.marks[i].Flags
		if f&SkipOut != 0 {
			inSkip = false
		}
		if f&SkipIn != 0 {
			inSkip = true
		}
	}
	r.Skip = inSkip
	return r
}

// SkipEnd returns where the skip region containing pos ends: the next SkipOut
// mark after pos, or the duration when none follows.
func (m *Map) SkipEnd(pos int) (int, bool) {
	if !m.RegionAt(pos).Skip {
		return 0, false
	}
	for i := m.search(pos + 1); i < len(m.marks); i++ {
		if m.marks[i].Flags&SkipOut != 0 {
			return m.marks[i].Pos, true
		}
	}
	return m.duration, true
}
