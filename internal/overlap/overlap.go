package overlap

import (
	"errors"
	"sort"
	"time"

	"github.com/rdleal/intervalst/interval"

	appLog "chronogrid/internal/log"
	"chronogrid/internal/model"
)

var errUnusableTimes = errors.New("unusable start/end")

// Slot is one timed appointment segment on a single weekday, with concrete
// date-times. All-day entries never reach the resolver; they render in a
// separate fixed-height row unconditionally.
type Slot struct {
	Start       time.Time
	End         time.Time
	Appointment *model.Appointment
}

// Group is the column layout of one weekday's slots.
//
// Invariants: no two slots within the same column overlap in time, and a
// FullWidth slot overlaps no other slot considered in the batch.
type Group struct {
	Columns   [][]Slot
	FullWidth []Slot
}

// TotalColumns returns the number of columns opened for the group.
func (g Group) TotalColumns() int {
	return len(g.Columns)
}

// overlaps is the strict temporal-conflict predicate: touching endpoints do
// not count as a conflict.
func overlaps(a, b Slot) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Resolve partitions one weekday's slots into non-overlapping columns plus
// a full-width bucket, by greedy first-fit packing:
//
//  1. Slots are sorted by start time ascending (stable, ties keep their
//     original order).
//  2. Each slot goes into the first existing column none of whose members
//     conflict with it.
//  3. A slot no column accepts either becomes full-width (when it conflicts
//     with nothing in the whole batch and no column was opened yet) or
//     opens a new column.
//
// Slots with unusable times are skipped with a warning; the rest of the
// batch is unaffected. Conflict candidates are looked up through an
// interval search tree; the strict predicate above is re-applied on the
// candidates because the tree treats touching intervals as intersecting.
func Resolve(slots []Slot) Group {
	valid := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Start.IsZero() || s.End.IsZero() || s.End.Before(s.Start) {
			appLog.Error("overlap: skipping slot with unusable times", errUnusableTimes,
				"start", s.Start, "end", s.End, "title", slotTitle(s))
			continue
		}
		valid = append(valid, s)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	// Index every slot for conflict-candidate lookups. Degenerate
	// zero-length slots cannot be inserted into the tree and are checked
	// linearly instead.
	tree := interval.NewMultiValueSearchTree[int](func(x, y time.Time) int { return x.Compare(y) })
	var degenerate []int
	for i, s := range valid {
		if err := tree.Insert(s.Start, s.End, i); err != nil {
			degenerate = append(degenerate, i)
		}
	}

	var g Group
	for i, s := range valid {
		if placed := placeInColumns(&g, s); placed {
			continue
		}
		if !conflictsAny(tree, degenerate, valid, i) && len(g.Columns) == 0 {
			g.FullWidth = append(g.FullWidth, s)
			continue
		}
		g.Columns = append(g.Columns, []Slot{s})
	}

	return g
}

// placeInColumns appends s to the first column that has room for it.
func placeInColumns(g *Group, s Slot) bool {
	for ci, col := range g.Columns {
		fits := true
		for _, member := range col {
			if overlaps(s, member) {
				fits = false
				break
			}
		}
		if fits {
			g.Columns[ci] = append(col, s)
			return true
		}
	}
	return false
}

// conflictsAny reports whether valid[i] overlaps any other slot in the batch.
func conflictsAny(tree *interval.MultiValueSearchTree[int, time.Time], degenerate []int, valid []Slot, i int) bool {
	s := valid[i]
	if candidates, ok := tree.AllIntersections(s.Start, s.End); ok {
		for _, j := range candidates {
			if j != i && overlaps(s, valid[j]) {
				return true
			}
		}
	}
	for _, j := range degenerate {
		if j != i && overlaps(s, valid[j]) {
			return true
		}
	}
	return false
}

// Width returns the rendering width, in percent, for slot s sitting in
// column col. When no slot in a later column overlaps s, the slot extends
// rightwards over the unused space; otherwise every column gets an equal
// share of (100 - gapPercent).
func (g Group) Width(col int, s Slot, gapPercent float64) float64 {
	total := len(g.Columns)
	if total == 0 {
		return 100 - gapPercent
	}
	share := (100 - gapPercent) / float64(total)

	for ci := col + 1; ci < total; ci++ {
		for _, member := range g.Columns[ci] {
			if overlaps(s, member) {
				return share
			}
		}
	}
	return (100 - gapPercent) - float64(col)*share
}

// Left returns the left offset, in percent, of the given column.
func (g Group) Left(col int, gapPercent float64) float64 {
	total := len(g.Columns)
	if total == 0 {
		return 0
	}
	return float64(col) * (100 - gapPercent) / float64(total)
}

func slotTitle(s Slot) string {
	if s.Appointment == nil {
		return ""
	}
	return s.Appointment.Title
}
