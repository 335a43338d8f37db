package addr

import (
	"strings"

	"github.com/google/btree"
)

// RangeSet is a set of disjoint address ranges stored in ascending order.
// Inserting merges overlapping and adjacent ranges; removing trims or
// splits the ranges it intersects.
type RangeSet struct {
	tree *btree.BTreeG[Range]
}

// NewRangeSet returns an empty set.
func NewRangeSet() *RangeSet {
	return &RangeSet{
		tree: btree.NewG[Range](8, func(a, b Range) bool {
			return a.Start.Less(b.Start)
		}),
	}
}

// Empty reports whether the set holds no ranges.
func (s *RangeSet) Empty() bool { return s.tree.Len() == 0 }

// Len returns the number of disjoint ranges.
func (s *RangeSet) Len() int { return s.tree.Len() }

// Get returns the range enclosing a, if any.
func (s *RangeSet) Get(a Address) (Range, bool) {
	if !a.Defined() {
		return Range{}, false
	}
	var found Range
	ok := false
	s.tree.DescendLessOrEqual(Range{Start: a}, func(r Range) bool {
		if r.Contains(a) {
			found, ok = r, true
		}
		return false
	})
	return found, ok
}

// Insert adds r to the set, merging with any overlapping or adjacent ranges.
func (s *RangeSet) Insert(r Range) {
	start, end := r.Start, r.End

	// Absorb a range ending just before or overlapping from the left.
	s.tree.DescendLessOrEqual(Range{Start: start}, func(e Range) bool {
		if !e.End.Add(1).Less(start) {
			s.tree.Delete(e)
			start = e.Start
			if end.Less(e.End) {
				end = e.End
			}
		}
		return false
	})

	// Absorb everything starting inside or just after [start, end].
	var absorb []Range
	s.tree.AscendGreaterOrEqual(Range{Start: start}, func(e Range) bool {
		if end.Add(1).Less(e.Start) {
			return false
		}
		absorb = append(absorb, e)
		return true
	})
	for _, e := range absorb {
		s.tree.Delete(e)
		if end.Less(e.End) {
			end = e.End
		}
	}

	s.tree.ReplaceOrInsert(Range{Start: start, End: end})
}

// Remove deletes r from the set. Ranges fully covered disappear, ranges
// overlapped at one end are trimmed, and a range strictly containing r is
// split in two.
func (s *RangeSet) Remove(r Range) {
	var hit []Range
	s.tree.DescendLessOrEqual(Range{Start: r.End}, func(e Range) bool {
		if e.End.Less(r.Start) {
			return false
		}
		hit = append(hit, e)
		return true
	})

	for _, e := range hit {
		s.tree.Delete(e)
		if e.Start.Less(r.Start) {
			s.tree.ReplaceOrInsert(Range{Start: e.Start, End: r.Start.Sub(1)})
		}
		if r.End.Less(e.End) {
			s.tree.ReplaceOrInsert(Range{Start: r.End.Add(1), End: e.End})
		}
	}
}

// Ranges returns the ranges in ascending order.
func (s *RangeSet) Ranges() []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (s *RangeSet) String() string {
	var b strings.Builder
	for i, r := range s.Ranges() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	return b.String()
}
