// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package ratings

import "fmt"

// Matrix is a dense row-major 2-D float64 container.
// The zero value is an empty 0x0 matrix.
type Matrix struct {
	rows int
	cols int
	data []float64
}

// NewMatrix allocates a zero-filled rows x cols matrix.
// Negative dimensions are treated as zero.
func NewMatrix(rows, cols int) *Matrix {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Matrix{
		rows: rows,
		cols: cols,
		data: make([]float64, rows*cols),
	}
}

// NewMatrixFromRows builds a matrix from a slice of equally sized rows.
func NewMatrixFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return NewMatrix(0, 0), nil
	}
	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)
	for r, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", r, len(row), cols)
		}
		copy(m.data[r*cols:(r+1)*cols], row)
	}
	return m, nil
}

// Shape returns the number of rows and columns.
func (m *Matrix) Shape() (rows, cols int) {
	return m.rows, m.cols
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// InBounds reports whether (r, c) addresses a cell of the matrix.
func (m *Matrix) InBounds(r, c int) bool {
	return r >= 0 && r < m.rows && c >= 0 && c < m.cols
}

// Get returns the value at (r, c). Out-of-range reads return 0.
func (m *Matrix) Get(r, c int) float64 {
	if !m.InBounds(r, c) {
		return 0
	}
	return m.data[r*m.cols+c]
}

// Set stores v at (r, c). Out-of-range writes are ignored.
func (m *Matrix) Set(r, c int, v float64) {
	if !m.InBounds(r, c) {
		return
	}
	m.data[r*m.cols+c] = v
}

// Row returns a copy of row r, or nil when r is out of range.
func (m *Matrix) Row(r int) []float64 {
	if r < 0 || r >= m.rows {
		return nil
	}
	out := make([]float64, m.cols)
	copy(out, m.data[r*m.cols:(r+1)*m.cols])
	return out
}

// RowView returns row r without copying. Callers must not modify it.
func (m *Matrix) RowView(r int) []float64 {
	if r < 0 || r >= m.rows {
		return nil
	}
	return m.data[r*m.cols : (r+1)*m.cols : (r+1)*m.cols]
}

// Transpose returns a new cols x rows matrix.
func (m *Matrix) Transpose() *Matrix {
	t := NewMatrix(m.cols, m.rows)
	for r := 0; r < m.rows; r++ {
		for c := 0; c < m.cols; c++ {
			t.data[c*m.rows+r] = m.data[r*m.cols+c]
		}
	}
	return t
}

// Clone returns a deep copy of the matrix.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{rows: m.rows, cols: m.cols, data: make([]float64, len(m.data))}
	copy(c.data, m.data)
	return c
}

// CountNonZero returns the number of cells whose value is not exactly zero.
func (m *Matrix) CountNonZero() int {
	n := 0
	for _, v := range m.data {
		if v != 0 {
			n++
		}
	}
	return n
}
