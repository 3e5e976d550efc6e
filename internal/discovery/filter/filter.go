// Package filter narrows a candidate set to the notes matching the user's
// facet selection. Everything here is pure and safe to re-run on every
// selection change.
package filter

import (
	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
)

// Predicate reports whether a note is kept.
type Predicate func(n notes.Note) bool

// Predicates builds one predicate per active, enabled selection field.
func Predicates(sections discovery.Sections, sel discovery.FilterSelection, enabled discovery.PredicateSet) []Predicate {
	var preds []Predicate
	if enabled.Tags && len(sel.Tags) > 0 {
		want := append([]string(nil), sel.Tags...)
		preds = append(preds, func(n notes.Note) bool {
			for _, t := range want {
				if !n.HasTag(t) {
					return false
				}
			}
			return true
		})
	}
	if enabled.Section && sel.Section != "" {
		number := sel.Section
		preds = append(preds, func(n notes.Note) bool {
			sec, ok := sections.Lookup(n.Section)
			return ok && sec.Number == number
		})
	}
	if enabled.Professor && sel.Professor != "" {
		professor := sel.Professor
		preds = append(preds, func(n notes.Note) bool {
			sec, ok := sections.Lookup(n.Section)
			if !ok {
				return false
			}
			primary := sec.PrimaryProfessor()
			return primary != notes.TBA && primary == professor
		})
	}
	if enabled.School && sel.School != "" {
		school := sel.School
		preds = append(preds, func(n notes.Note) bool {
			return n.School == school
		})
	}
	if enabled.Major && sel.Major != "" {
		major := sel.Major
		preds = append(preds, func(n notes.Note) bool {
			return n.Major == major
		})
	}
	return preds
}

// Apply returns, in candidate order, the notes satisfying every predicate
// built from sel. The result never aliases candidates.
func Apply(candidates []notes.Note, sections discovery.Sections, sel discovery.FilterSelection, enabled discovery.PredicateSet) []notes.Note {
	preds := Predicates(sections, sel, enabled)
	out := make([]notes.Note, 0, len(candidates))
	for _, n := range candidates {
		if keep(n, preds) {
			out = append(out, n)
		}
	}
	return out
}

func keep(n notes.Note, preds []Predicate) bool {
	for _, p := range preds {
		if !p(n) {
			return false
		}
	}
	return true
}
