package tree

import (
	"math"
	"slices"
)

// RankSpacing is the gap left between consecutive sibling ranks.
// Appends and renumbering both use it, so a freshly numbered list can take
// sixteen midpoint insertions between any two neighbours before it has to be
// renumbered again.
const RankSpacing int64 = 1 << 16

// Between returns the midpoint of lo and hi when there is room for one
func Between(lo, hi int64) (int64, bool) {
	if hi-lo < 2 {
		return 0, false
	}
	return lo + (hi-lo)/2, true
}

// Spaced returns n evenly spaced ranks starting at RankSpacing
func Spaced(n int) []int64 {
	ranks := make([]int64, n)
	for i := range ranks {
		ranks[i] = int64(i+1) * RankSpacing
	}
	return ranks
}

// PlaceAt computes the rank for an entry inserted at position idx of a
// sibling list whose ranks are strictly increasing (the entry itself must not
// be in ranks). idx == len(ranks) appends.
//
// When the neighbours leave no gap, renumbered holds replacement ranks for
// every existing sibling (same length and order as ranks) and rank fits
// between the renumbered neighbours. Otherwise renumbered is nil.
func PlaceAt(ranks []int64, idx int) (rank int64, renumbered []int64) {
	if idx < 0 || idx > len(ranks) {
		idx = len(ranks)
	}
	if r, ok := rankAt(ranks, idx); ok {
		return r, nil
	}
	renumbered = Spaced(len(ranks))
	r, _ := rankAt(renumbered, idx)
	return r, renumbered
}

func rankAt(ranks []int64, idx int) (int64, bool) {
	if idx == len(ranks) {
		var last int64
		if len(ranks) > 0 {
			last = ranks[len(ranks)-1]
		}
		if last < 0 || last > math.MaxInt64-RankSpacing {
			return 0, false
		}
		return last + RankSpacing, true
	}
	var lo int64
	if idx > 0 {
		lo = ranks[idx-1]
	}
	return Between(lo, ranks[idx])
}

// StrictlyIncreasing reports whether ranks form a total order with no ties
func StrictlyIncreasing(ranks []int64) bool {
	for i := 1; i < len(ranks); i++ {
		if ranks[i] <= ranks[i-1] {
			return false
		}
	}
	return true
}

// SortByOrder sorts siblings by rank, breaking ties by id so that a listing
// loaded from a store with duplicate ranks is still deterministic
func SortByOrder(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		}
		return compareStrings(a.ID, b.ID)
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
