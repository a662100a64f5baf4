package note

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInsufficientFunds is returned when no subset of spendable notes covers
// the requested amount within the input slot limit. It is reported before
// any proof work is attempted.
var ErrInsufficientFunds = errors.New("insufficient shielded funds")

// selectionCandidates caps the number of notes considered by the exhaustive
// subset search. The largest notes always cover at least as much as any
// subset of the discarded smaller ones of the same size, so the cap never
// turns a solvable selection into ErrInsufficientFunds.
const selectionCandidates = 64

// Selection is the result of a successful spend selection.
type Selection struct {
	Notes []*Note
	Sum   uint64
}

// Change returns the remainder above the target amount.
func (sel *Selection) Change(target uint64) uint64 {
	return sel.Sum - target
}

// SelectForAmount picks up to maxInputs unspent notes whose amounts sum to
// at least target, minimizing the note count first and the excess second.
// It never partially fills: when no covering subset of size <= maxInputs
// exists it returns ErrInsufficientFunds.
func SelectForAmount(spendable []*Note, target uint64, maxInputs int) (*Selection, error) {
	if maxInputs <= 0 {
		return nil, fmt.Errorf("invalid max inputs %d", maxInputs)
	}
	if target == 0 {
		return nil, fmt.Errorf("zero target amount")
	}
	candidates := make([]*Note, len(spendable))
	copy(candidates, spendable)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Amount != candidates[j].Amount {
			return candidates[i].Amount > candidates[j].Amount
		}
		return candidates[i].LeafIndex < candidates[j].LeafIndex
	})
	if len(candidates) > selectionCandidates {
		candidates = candidates[:selectionCandidates]
	}

	for k := 1; k <= maxInputs && k <= len(candidates); k++ {
		if best := bestOfSize(candidates, target, k); best != nil {
			return best, nil
		}
	}
	return nil, fmt.Errorf("%w: need %d", ErrInsufficientFunds, target)
}

// bestOfSize searches every subset of exactly k candidates and returns the
// covering one with minimal excess, or nil when none covers the target.
// Candidates are sorted descending, which allows pruning branches whose
// remaining maximum cannot reach the target.
func bestOfSize(candidates []*Note, target uint64, k int) *Selection {
	var best *Selection
	subset := make([]*Note, 0, k)

	var walk func(start int, sum uint64)
	walk = func(start int, sum uint64) {
		if len(subset) == k {
			if sum >= target && (best == nil || sum < best.Sum) {
				picked := make([]*Note, k)
				copy(picked, subset)
				best = &Selection{Notes: picked, Sum: sum}
			}
			return
		}
		remaining := k - len(subset)
		for i := start; i <= len(candidates)-remaining; i++ {
			// even the largest remaining notes cannot cover: prune
			maxReachable := sum
			for j := 0; j < remaining; j++ {
				maxReachable += candidates[i+j].Amount
			}
			if maxReachable < target {
				return
			}
			subset = append(subset, candidates[i])
			walk(i+1, sum+candidates[i].Amount)
			subset = subset[:len(subset)-1]
			// an exact match cannot be improved
			if best != nil && best.Sum == target {
				return
			}
		}
	}
	walk(0, 0)
	return best
}
