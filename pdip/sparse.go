// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"fmt"
	"slices"
)

// Entry is the position of a structural nonzero.
type Entry struct {
	Row, Col int
}

// Pattern is a fixed sparsity pattern compressed to CSR.
// A symmetric pattern stores only the upper triangle (Row ≤ Col).
type Pattern struct {
	rows, cols int
	sym        bool
	rowPtr     []int // rows + 1
	colIdx     []int // nnz
	rowIdx     []int // nnz, row of each slot
	slot       []int // declaration index → storage slot
}

// NewPattern compresses declared entries. Entries must be in range and unique.
func NewPattern(rows, cols int, entries []Entry, sym bool) (*Pattern, error) {
	if rows < 0 || cols < 0 || (sym && rows != cols) {
		return nil, fmt.Errorf("%w: shape %d×%d", ErrPattern, rows, cols)
	}
	order := make([]int, len(entries))
	for k, e := range entries {
		switch {
		case e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols:
			return nil, fmt.Errorf("%w: entry %d (%d,%d) out of %d×%d", ErrPattern, k, e.Row, e.Col, rows, cols)
		case sym && e.Row > e.Col:
			return nil, fmt.Errorf("%w: entry %d (%d,%d) below diagonal", ErrPattern, k, e.Row, e.Col)
		}
		order[k] = k
	}
	slices.SortFunc(order, func(a, b int) int {
		ea, eb := entries[a], entries[b]
		if ea.Row != eb.Row {
			return ea.Row - eb.Row
		}
		return ea.Col - eb.Col
	})

	p := &Pattern{
		rows: rows, cols: cols, sym: sym,
		rowPtr: make([]int, rows+1),
		colIdx: make([]int, len(entries)),
		rowIdx: make([]int, len(entries)),
		slot:   make([]int, len(entries)),
	}
	for s, k := range order {
		e := entries[k]
		if s > 0 && entries[order[s-1]] == e {
			return nil, fmt.Errorf("%w: duplicate entry (%d,%d)", ErrPattern, e.Row, e.Col)
		}
		p.colIdx[s] = e.Col
		p.rowIdx[s] = e.Row
		p.slot[k] = s
		p.rowPtr[e.Row+1]++
	}
	for i := 0; i < rows; i++ {
		p.rowPtr[i+1] += p.rowPtr[i]
	}
	return p, nil
}

// Rows returns the number of rows.
func (p *Pattern) Rows() int { return p.rows }

// Cols returns the number of columns.
func (p *Pattern) Cols() int { return p.cols }

// NNZ returns the number of stored entries.
func (p *Pattern) NNZ() int { return len(p.colIdx) }

// Symmetric reports whether only the upper triangle is stored.
func (p *Pattern) Symmetric() bool { return p.sym }

// Slot returns the storage slot of the k-th declared entry.
func (p *Pattern) Slot(k int) int { return p.slot[k] }

// At returns the position stored in slot s.
func (p *Pattern) At(s int) Entry { return Entry{p.rowIdx[s], p.colIdx[s]} }

// Matrix binds values to a pattern. Val is indexed by storage slot.
type Matrix struct {
	*Pattern
	Val []float64
}

// NewMatrix allocates zero values for p.
func NewMatrix(p *Pattern) Matrix {
	return Matrix{Pattern: p, Val: make([]float64, p.NNZ())}
}

// Mul computes y = M·x. A symmetric matrix is multiplied as if both triangles were stored.
func (m Matrix) Mul(y, x []float64) {
	if len(y) != m.rows || len(x) != m.cols || len(m.Val) != len(m.colIdx) {
		panic("bound check error")
	}
	clear(y)
	rp, ci, v := m.rowPtr, m.colIdx, m.Val
	if !m.sym {
		for i := 0; i < m.rows; i++ {
			sum := zero
			for k := rp[i]; k < rp[i+1]; k++ {
				sum += v[k] * x[ci[k]]
			}
			y[i] = sum
		}
		return
	}
	for i := 0; i < m.rows; i++ {
		xi, sum := x[i], zero
		for k := rp[i]; k < rp[i+1]; k++ {
			j := ci[k]
			sum += v[k] * x[j]
			if j != i {
				y[j] += v[k] * xi
			}
		}
		y[i] += sum
	}
}

// MulT computes y = Mᵀ·x.
func (m Matrix) MulT(y, x []float64) {
	if m.sym {
		m.Mul(y, x)
		return
	}
	if len(y) != m.cols || len(x) != m.rows || len(m.Val) != len(m.colIdx) {
		panic("bound check error")
	}
	clear(y)
	rp, ci, v := m.rowPtr, m.colIdx, m.Val
	for i := 0; i < m.rows; i++ {
		xi := x[i]
		if xi == zero {
			continue
		}
		for k := rp[i]; k < rp[i+1]; k++ {
			y[ci[k]] += v[k] * xi
		}
	}
}

// Operator multiplies by the implicit problem matrices.
// Every method overwrites y and keeps no state between calls.
type Operator interface {
	MulA(y, x []float64)  // y = A·x
	MulAT(y, x []float64) // y = Aᵀ·x
	MulG(y, x []float64)  // y = G·x
	MulGT(y, x []float64) // y = Gᵀ·x
	MulP(y, x []float64)  // y = P·x
}
