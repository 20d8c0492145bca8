package bingo

import "github.com/mcdev12/bingolive/go/internal/models"

// Pool returns the numbers in [1, MaxNumber] not yet drawn, ascending.
func Pool(drawn []int) []int {
	seen := make(map[int]bool, len(drawn))
	for _, n := range drawn {
		seen[n] = true
	}
	var pool []int
	for n := 1; n <= MaxNumber; n++ {
		if !seen[n] {
			pool = append(pool, n)
		}
	}
	return pool
}

// Drawn keeps the values of drawn that are valid draws: in [1, MaxNumber]
// and not repeated. Order is preserved.
func Drawn(drawn []int) []int {
	seen := make(map[int]bool, len(drawn))
	out := make([]int, 0, len(drawn))
	for _, n := range drawn {
		if n < 1 || n > MaxNumber || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Next picks a uniformly random undrawn number. ok is false once all
// numbers are out.
func Next(r Rand, drawn []int) (n int, ok bool) {
	pool := Pool(drawn)
	if len(pool) == 0 {
		return 0, false
	}
	return pool[r.Intn(len(pool))], true
}

const (
	fullCardShare  = 70
	secondaryShare = 30

	fullCardReward  = 35
	secondaryReward = 10
)

// PrizeFor returns the award for p out of pool, rounded down.
func PrizeFor(p models.Pattern, pool int64) int64 {
	if pool <= 0 {
		return 0
	}
	if p == models.PatternFullCard {
		return pool * fullCardShare / 100
	}
	return pool * secondaryShare / 100
}

// RewardFor returns the profile score bonus for winning with p.
func RewardFor(p models.Pattern) int64 {
	if p == models.PatternFullCard {
		return fullCardReward
	}
	return secondaryReward
}
