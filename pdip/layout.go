// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "fmt"

// Index is a handle to a segment of a Layout.
type Index int

// Segment describes a named view into a flat buffer.
type Segment struct {
	Name   string
	Offset int
	Len    int
}

// Layout maps named views to (offset, length) descriptors of one contiguous buffer.
// It is computed once and never changes afterwards.
type Layout struct {
	segs  []Segment
	names map[string]Index
	total int
}

// LayoutBuilder accumulates segments in buffer order.
type LayoutBuilder struct {
	segs []Segment
	next int
}

// Add appends a segment of length n and returns its handle.
func (b *LayoutBuilder) Add(name string, n int) Index {
	if n < 0 {
		panic("negative segment length")
	}
	b.segs = append(b.segs, Segment{Name: name, Offset: b.next, Len: n})
	b.next += n
	return Index(len(b.segs) - 1)
}

// Build freezes the layout. The declared total must equal the sum of segment lengths,
// otherwise the caller derived the structure wrongly and Build panics.
func (b *LayoutBuilder) Build(total int) *Layout {
	l := &Layout{
		segs:  append([]Segment(nil), b.segs...),
		names: make(map[string]Index, len(b.segs)),
		total: total,
	}
	for i, s := range l.segs {
		if _, dup := l.names[s.Name]; dup {
			panic(fmt.Sprintf("duplicate segment %q", s.Name))
		}
		l.names[s.Name] = Index(i)
	}
	if err := l.Validate(); err != nil {
		panic(err.Error())
	}
	return l
}

// Validate checks that segments tile [0, total) without gaps or overlap.
func (l *Layout) Validate() error {
	next := 0
	for _, s := range l.segs {
		if s.Offset != next || s.Len < 0 {
			return fmt.Errorf("segment %q at %d breaks contiguity (want %d)", s.Name, s.Offset, next)
		}
		next += s.Len
	}
	if next != l.total {
		return fmt.Errorf("layout length %d does not match declared total %d", next, l.total)
	}
	return nil
}

// Len returns the total buffer length.
func (l *Layout) Len() int { return l.total }

// NumSegments returns the number of segments.
func (l *Layout) NumSegments() int { return len(l.segs) }

// Segment returns the descriptor of handle i.
func (l *Layout) Segment(i Index) Segment { return l.segs[i] }

// Lookup finds a segment by name.
func (l *Layout) Lookup(name string) (Index, bool) {
	i, ok := l.names[name]
	return i, ok
}

// Arena is a flat buffer viewed through a Layout.
type Arena struct {
	layout *Layout
	buf    []float64
}

// NewArena allocates a zeroed buffer for the layout.
func NewArena(l *Layout) *Arena {
	return &Arena{layout: l, buf: make([]float64, l.total)}
}

// WrapArena views an existing buffer through the layout.
func WrapArena(l *Layout, buf []float64) *Arena {
	if len(buf) != l.total {
		panic("arena buffer length not match layout")
	}
	return &Arena{layout: l, buf: buf}
}

// Layout returns the arena layout.
func (a *Arena) Layout() *Layout { return a.layout }

// Raw returns the whole buffer.
func (a *Arena) Raw() []float64 { return a.buf }

// View returns the capped sub-slice of segment i.
func (a *Arena) View(i Index) []float64 {
	s := a.layout.segs[i]
	return a.buf[s.Offset : s.Offset+s.Len : s.Offset+s.Len]
}

// Set copies v into segment i.
func (a *Arena) Set(i Index, v []float64) error {
	s := a.layout.segs[i]
	if len(v) != s.Len {
		return fmt.Errorf("%w: segment %q has length %d, got %d", ErrDimension, s.Name, s.Len, len(v))
	}
	copy(a.buf[s.Offset:], v)
	return nil
}

// SetByName copies v into the named segment.
func (a *Arena) SetByName(name string, v []float64) error {
	i, ok := a.layout.names[name]
	if !ok {
		return fmt.Errorf("%w: unknown segment %q", ErrDimension, name)
	}
	return a.Set(i, v)
}
