// Package sorter orders a filtered note set by likes, creation instant or
// title.
package sorter

import (
	"cmp"
	"slices"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
)

type Sorter struct {
	collator *discovery.Collator
}

// New returns a Sorter that compares titles with coll, or with English
// collation when coll is nil.
func New(coll *discovery.Collator) *Sorter {
	if coll == nil {
		coll = discovery.DefaultCollator()
	}
	return &Sorter{collator: coll}
}

// Compare orders a and b ascending on key.
func (s *Sorter) Compare(a, b notes.Note, key discovery.SortKey) int {
	switch key {
	case discovery.SortLikes:
		return cmp.Compare(a.TotalLikes, b.TotalLikes)
	case discovery.SortCreatedDate:
		return a.CreatedDate.Compare(b.CreatedDate)
	case discovery.SortTitle:
		return s.collator.Compare(a.Title, b.Title)
	}
	panic("sorter: unvalidated sort key " + string(key))
}

// Sort returns a sorted copy of in. Desc negates the comparator, and notes
// with equal keys keep their input order in either direction.
func (s *Sorter) Sort(in []notes.Note, spec discovery.SortSpec) []notes.Note {
	out := slices.Clone(in)
	if out == nil {
		out = []notes.Note{}
	}
	sign := 1
	if spec.Order == discovery.Desc {
		sign = -1
	}
	slices.SortStableFunc(out, func(a, b notes.Note) int {
		return sign * s.Compare(a, b, spec.Key)
	})
	return out
}
