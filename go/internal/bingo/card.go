package bingo

import (
	"errors"
	"fmt"
)

var (
	ErrNotOnGrid = errors.New("number is not on the grid")
	ErrNotDrawn  = errors.New("number has not been drawn")
)

// Card is a player's grid together with its marks.
type Card struct {
	Grid  Grid  `json:"grid"`
	Marks Marks `json:"marks"`
}

// NewCard wraps a grid with an empty mark set.
func NewCard(g Grid) *Card {
	return &Card{Grid: g, Marks: Marks{}}
}

// Toggle flips the mark on n. Only the free cell or drawn numbers may be
// marked; unmarking is always allowed except for the free cell.
func (c *Card) Toggle(n int, drawn []int) (bool, error) {
	if c.Marks == nil {
		c.Marks = Marks{}
	}
	if n == Free {
		return true, nil
	}
	if !c.Grid.Contains(n) {
		return false, fmt.Errorf("%w: %d", ErrNotOnGrid, n)
	}
	if c.Marks[n] {
		delete(c.Marks, n)
		return false, nil
	}
	if !contains(drawn, n) {
		return false, fmt.Errorf("%w: %d", ErrNotDrawn, n)
	}
	c.Marks[n] = true
	return true, nil
}

// ValidateMarks checks every marked value against the grid and the draw history.
func ValidateMarks(g Grid, m Marks, drawn []int) error {
	for _, v := range m.Values() {
		if !g.Contains(v) {
			return fmt.Errorf("%w: %d", ErrNotOnGrid, v)
		}
		if !contains(drawn, v) {
			return fmt.Errorf("%w: %d", ErrNotDrawn, v)
		}
	}
	return nil
}

func contains(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
