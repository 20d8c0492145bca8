package bingo

import (
	"github.com/mcdev12/bingolive/go/internal/models"
)

type cell [2]int

// Marks is the set of grid values a player has toggled on.
// The free value is always considered marked.
type Marks map[int]bool

// Has reports whether v counts as marked.
func (m Marks) Has(v int) bool {
	return v == Free || m[v]
}

// Values returns the marked values excluding the free cell.
func (m Marks) Values() []int {
	out := make([]int, 0, len(m))
	for v, on := range m {
		if on && v != Free {
			out = append(out, v)
		}
	}
	return out
}

var (
	cornerCells = []cell{{0, 0}, {0, Size - 1}, {Size - 1, 0}, {Size - 1, Size - 1}}
	lines       = buildLines()
	diagonals   = lines[2*Size:]
	allCells    = buildAllCells()
)

// buildLines returns rows, then columns, then the two diagonals.
func buildLines() [][]cell {
	var out [][]cell
	for row := 0; row < Size; row++ {
		var l []cell
		for col := 0; col < Size; col++ {
			l = append(l, cell{row, col})
		}
		out = append(out, l)
	}
	for col := 0; col < Size; col++ {
		var l []cell
		for row := 0; row < Size; row++ {
			l = append(l, cell{row, col})
		}
		out = append(out, l)
	}
	var d1, d2 []cell
	for i := 0; i < Size; i++ {
		d1 = append(d1, cell{i, i})
		d2 = append(d2, cell{i, Size - 1 - i})
	}
	return append(out, d1, d2)
}

func buildAllCells() []cell {
	var out []cell
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			out = append(out, cell{row, col})
		}
	}
	return out
}

func covered(g Grid, m Marks, cells []cell) bool {
	for _, c := range cells {
		if !m.Has(g[c[0]][c[1]]) {
			return false
		}
	}
	return true
}

func values(g Grid, cells []cell) []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range cells {
		v := g[c[0]][c[1]]
		if v == Free || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Match evaluates one pattern and returns the numbers that form it.
func Match(p models.Pattern, g Grid, m Marks) ([]int, bool) {
	switch p {
	case models.PatternFullCard:
		if covered(g, m, allCells) {
			return values(g, allCells), true
		}
	case models.PatternFiveInRow:
		for _, l := range lines {
			if covered(g, m, l) {
				return values(g, l), true
			}
		}
	case models.PatternCorners:
		if covered(g, m, cornerCells) {
			return values(g, cornerCells), true
		}
	case models.PatternCross:
		cross := append(append([]cell{}, diagonals[0]...), diagonals[1]...)
		if covered(g, m, cross) {
			return values(g, cross), true
		}
	}
	return nil, false
}

// Detect returns the highest precedence enabled pattern the marks satisfy.
func Detect(g Grid, m Marks, enabled models.WinningPatterns) (models.Pattern, []int, bool) {
	for _, p := range models.Patterns {
		if !enabled.Enabled(p) {
			continue
		}
		if nums, ok := Match(p, g, m); ok {
			return p, nums, true
		}
	}
	return "", nil, false
}
