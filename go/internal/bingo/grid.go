package bingo

import (
	"errors"
	"fmt"
)

const (
	// Size is the width and height of a grid.
	Size = 5
	// MaxNumber is the highest drawable number.
	MaxNumber = 75
	// Free is the value of the center cell.
	Free = 0

	columnSpan = MaxNumber / Size
	center     = Size / 2
)

// Rand is the random source used for grids and draws.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Grid is a 5x5 card indexed [row][col].
type Grid [Size][Size]int

var ErrInvalidGrid = errors.New("invalid grid")

// NewGrid builds a grid where column c holds distinct numbers from
// [15c+1, 15c+15] and the center cell is free.
func NewGrid(r Rand) Grid {
	var g Grid
	for col := 0; col < Size; col++ {
		base := col*columnSpan + 1
		pool := make([]int, columnSpan)
		for i := range pool {
			pool[i] = base + i
		}
		// partial Fisher-Yates, only the first Size slots are needed
		for row := 0; row < Size; row++ {
			j := row + r.Intn(len(pool)-row)
			pool[row], pool[j] = pool[j], pool[row]
			g[row][col] = pool[row]
		}
	}
	g[center][center] = Free
	return g
}

// Validate checks column ranges, uniqueness and the free center.
func (g Grid) Validate() error {
	seen := make(map[int]bool, Size*Size)
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			v := g[row][col]
			if row == center && col == center {
				if v != Free {
					return fmt.Errorf("%w: center is %d", ErrInvalidGrid, v)
				}
				continue
			}
			lo, hi := col*columnSpan+1, (col+1)*columnSpan
			if v < lo || v > hi {
				return fmt.Errorf("%w: %d outside column %d range", ErrInvalidGrid, v, col)
			}
			if seen[v] {
				return fmt.Errorf("%w: duplicate %d", ErrInvalidGrid, v)
			}
			seen[v] = true
		}
	}
	return nil
}

// Contains reports whether n appears on the grid.
func (g Grid) Contains(n int) bool {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if g[row][col] == n {
				return true
			}
		}
	}
	return false
}

// Cells returns the grid as a flat row-major slice.
func (g Grid) Cells() []int {
	out := make([]int, 0, Size*Size)
	for row := 0; row < Size; row++ {
		out = append(out, g[row][:]...)
	}
	return out
}
