// Package tilegrid implements the pure Conway's Game of Life (B3/S23)
// stepping function a tile worker owns, including the border-strip
// exchange it needs from up to eight neighbors.
package tilegrid

import (
	"github.com/BasicAcid/tileworld/internal/direction"
	"github.com/BasicAcid/tileworld/internal/tileerrors"
)

// Grid is a rectangular array of cell states, row-major. A non-zero value
// is alive; Iterate never mutates a Grid in place — it returns a new one.
type Grid struct {
	rows int
	cols int
	cell [][]int
}

// New builds a Grid from cells, rejecting an empty or jagged matrix.
func New(cells [][]int) (*Grid, error) {
	rows := len(cells)
	if rows == 0 {
		return nil, tileerrors.Wrap(tileerrors.ErrContract, "grid has no rows")
	}
	cols := len(cells[0])
	if cols == 0 {
		return nil, tileerrors.Wrap(tileerrors.ErrContract, "grid has no columns")
	}
	cell := make([][]int, rows)
	for r, row := range cells {
		if len(row) != cols {
			return nil, tileerrors.Wrapf(tileerrors.ErrContract,
				"jagged grid: row 0 has %d columns, row %d has %d", cols, r, len(row))
		}
		cell[r] = append([]int(nil), row...)
	}
	return &Grid{rows: rows, cols: cols, cell: cell}, nil
}

// RowCount returns the number of rows, invariant across Iterate.
func (g *Grid) RowCount() int { return g.rows }

// ColCount returns the number of columns, invariant across Iterate.
func (g *Grid) ColCount() int { return g.cols }

// Snapshot returns a copy of the grid in [row][column] form.
func (g *Grid) Snapshot() [][]int {
	out := make([][]int, g.rows)
	for r := range out {
		out[r] = append([]int(nil), g.cell[r]...)
	}
	return out
}

// BorderAt returns the border strip for d: a full row/column for the four
// edge directions, a single-cell slice for the four corners.
func (g *Grid) BorderAt(d direction.Direction) []int {
	switch d {
	case direction.UP:
		return append([]int(nil), g.cell[0]...)
	case direction.DOWN:
		return append([]int(nil), g.cell[g.rows-1]...)
	case direction.LEFT:
		return column(g.cell, 0)
	case direction.RIGHT:
		return column(g.cell, g.cols-1)
	case direction.UPLEFT:
		return []int{g.cell[0][0]}
	case direction.UPRIGHT:
		return []int{g.cell[0][g.cols-1]}
	case direction.DOWNLEFT:
		return []int{g.cell[g.rows-1][0]}
	case direction.DOWNRIGHT:
		return []int{g.cell[g.rows-1][g.cols-1]}
	default:
		return nil
	}
}

func column(cell [][]int, c int) []int {
	out := make([]int, len(cell))
	for r, row := range cell {
		out[r] = row[c]
	}
	return out
}

// expectedBorderLength returns the required strip length for d given this
// grid's dimensions.
func (g *Grid) expectedBorderLength(d direction.Direction) int {
	switch d {
	case direction.UP, direction.DOWN:
		return g.cols
	case direction.LEFT, direction.RIGHT:
		return g.rows
	default:
		return 1
	}
}

// Iterate advances one generation using the B3/S23 rule, returning a fresh
// Grid. neighborBorders supplies the strips received from wired neighbors
// for this round; a direction missing from the map is treated as an
// all-zero border of the appropriate length. A supplied strip of the
// wrong length is a contract violation.
func (g *Grid) Iterate(neighborBorders map[direction.Direction][]int) (*Grid, error) {
	borders := make(map[direction.Direction][]int, 8)
	for _, d := range direction.All {
		strip, ok := neighborBorders[d]
		if !ok {
			borders[d] = make([]int, g.expectedBorderLength(d))
			continue
		}
		if len(strip) != g.expectedBorderLength(d) {
			return nil, tileerrors.Wrapf(tileerrors.ErrContract,
				"border %s has length %d, want %d", d, len(strip), g.expectedBorderLength(d))
		}
		borders[d] = strip
	}

	extended := g.extend(borders)

	next := make([][]int, g.rows)
	for r := 0; r < g.rows; r++ {
		next[r] = make([]int, g.cols)
		for c := 0; c < g.cols; c++ {
			// extended is offset by one row/column relative to g.
			n := liveNeighbors(extended, r+1, c+1)
			current := g.cell[r][c]
			switch {
			case n < 2 || n > 3:
				next[r][c] = 0
			case n == 3:
				next[r][c] = 1
			default:
				next[r][c] = current
			}
		}
	}

	return &Grid{rows: g.rows, cols: g.cols, cell: next}, nil
}

// extend builds a (rows+2)x(cols+2) matrix: g's cells surrounded by the
// supplied border strips, corners filled from the corner directions.
// Mirrors original_source/dgol/cells.py's _extend_with_neighboring_border_cells.
func (g *Grid) extend(borders map[direction.Direction][]int) [][]int {
	extended := make([][]int, g.rows+2)

	up := borders[direction.UP]
	down := borders[direction.DOWN]
	left := borders[direction.LEFT]
	right := borders[direction.RIGHT]

	extended[0] = make([]int, g.cols+2)
	extended[0][0] = borders[direction.UPLEFT][0]
	copy(extended[0][1:g.cols+1], up)
	extended[0][g.cols+1] = borders[direction.UPRIGHT][0]

	for r := 0; r < g.rows; r++ {
		row := make([]int, g.cols+2)
		row[0] = left[r]
		copy(row[1:g.cols+1], g.cell[r])
		row[g.cols+1] = right[r]
		extended[r+1] = row
	}

	extended[g.rows+1] = make([]int, g.cols+2)
	extended[g.rows+1][0] = borders[direction.DOWNLEFT][0]
	copy(extended[g.rows+1][1:g.cols+1], down)
	extended[g.rows+1][g.cols+1] = borders[direction.DOWNRIGHT][0]

	return extended
}

// liveNeighbors sums the 8 Moore neighbors of (row, col) within extended.
// Must only be called for interior cells of a border-extended matrix.
func liveNeighbors(extended [][]int, row, col int) int {
	sum := 0
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			sum += extended[row+dr][col+dc]
		}
	}
	return sum
}
