package note

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func notesWithAmounts(amounts ...uint64) []*Note {
	notes := make([]*Note, len(amounts))
	for i, a := range amounts {
		notes[i] = &Note{Amount: a, LeafIndex: uint64(i)}
	}
	return notes
}

func selectionAmounts(sel *Selection) []uint64 {
	amounts := make([]uint64, len(sel.Notes))
	for i, n := range sel.Notes {
		amounts[i] = n.Amount
	}
	return amounts
}

func TestSelectSingleNoteCovers(t *testing.T) {
	c := qt.New(t)
	sel, err := SelectForAmount(notesWithAmounts(10, 50, 30), 25, 4)
	c.Assert(err, qt.IsNil)
	// one note beats any pair, and 30 has less excess than 50
	c.Assert(selectionAmounts(sel), qt.DeepEquals, []uint64{30})
	c.Assert(sel.Sum, qt.Equals, uint64(30))
	c.Assert(sel.Change(25), qt.Equals, uint64(5))
}

func TestSelectExactMatch(t *testing.T) {
	c := qt.New(t)
	// no single note covers 60; the exact pair beats the larger one
	sel, err := SelectForAmount(notesWithAmounts(10, 50, 30), 60, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Sum, qt.Equals, uint64(60))
	c.Assert(selectionAmounts(sel), qt.DeepEquals, []uint64{50, 10})
}

func TestSelectMinimizesCountBeforeExcess(t *testing.T) {
	c := qt.New(t)
	// the pair 30+10 would be exact, but the single 50 wins on note count
	sel, err := SelectForAmount(notesWithAmounts(10, 30, 50), 40, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(selectionAmounts(sel), qt.DeepEquals, []uint64{50})
}

func TestSelectRespectsMaxInputs(t *testing.T) {
	c := qt.New(t)
	notes := notesWithAmounts(10, 10, 10, 10, 10)
	sel, err := SelectForAmount(notes, 40, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Notes, qt.HasLen, 4)
	c.Assert(sel.Sum, qt.Equals, uint64(40))

	_, err = SelectForAmount(notes, 45, 4)
	c.Assert(err, qt.ErrorIs, ErrInsufficientFunds)
}

func TestSelectInsufficientFunds(t *testing.T) {
	c := qt.New(t)
	_, err := SelectForAmount(notesWithAmounts(1, 2, 3), 100, 4)
	c.Assert(err, qt.ErrorIs, ErrInsufficientFunds)

	_, err = SelectForAmount(nil, 1, 4)
	c.Assert(err, qt.ErrorIs, ErrInsufficientFunds)
}

func TestSelectZeroTarget(t *testing.T) {
	c := qt.New(t)
	_, err := SelectForAmount(notesWithAmounts(5), 0, 4)
	c.Assert(err, qt.IsNotNil)
	_, err = SelectForAmount(notesWithAmounts(5), 5, 0)
	c.Assert(err, qt.IsNotNil)
}

func TestSelectManyCandidates(t *testing.T) {
	c := qt.New(t)
	// more notes than the candidate cap; the largest ones still cover
	amounts := make([]uint64, 100)
	for i := range amounts {
		amounts[i] = uint64(i + 1)
	}
	sel, err := SelectForAmount(notesWithAmounts(amounts...), 350, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(len(sel.Notes) <= 4, qt.IsTrue)
	c.Assert(sel.Sum >= 350, qt.IsTrue)
}
