package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
)

var sections = discovery.Sections{
	"S1": {ID: "S1", Number: "01", Professors: []string{"Smith, J", "TBA"}},
	"S2": {ID: "S2", Number: "02", Professors: []string{"TBA"}},
	"S3": {ID: "S3", Number: "03", Professors: []string{"Lee"}},
}

var candidates = []notes.Note{
	{ID: "1", Section: "S1", Tags: []string{"a", "b"}, School: "sch1", Major: "cs"},
	{ID: "2", Section: "S2", Tags: []string{"a"}, School: "sch1", Major: "math"},
	{ID: "3", Section: "S3", Tags: []string{"b", "c"}, School: "sch2", Major: "cs"},
	{ID: "4", Section: "S1", Tags: nil, School: "sch2"},
	{ID: "5", Section: "unknown", Tags: []string{"a", "b", "c"}, School: "sch1", Major: "cs"},
}

func ids(ns []notes.Note) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestEmptySelectionKeepsEverything(t *testing.T) {
	got := Apply(candidates, sections, discovery.FilterSelection{}, discovery.AllPredicates)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(got))
}

func TestTagSubset(t *testing.T) {
	note := []notes.Note{{ID: "x", Tags: []string{"a", "b"}}}
	for _, tc := range []struct {
		tags []string
		kept bool
	}{
		{[]string{"a"}, true},
		{[]string{"a", "b"}, true},
		{[]string{"a", "c"}, false},
		{[]string{"c"}, false},
	} {
		got := Apply(note, nil, discovery.FilterSelection{Tags: tc.tags}, discovery.AllPredicates)
		assert.Equal(t, tc.kept, len(got) == 1, "tags %v", tc.tags)
	}
}

func TestProfessorExcludesTBA(t *testing.T) {
	got := Apply(candidates, sections, discovery.FilterSelection{Professor: "Smith"}, discovery.AllPredicates)
	assert.Equal(t, []string{"1", "4"}, ids(got))

	got = Apply(candidates, sections, discovery.FilterSelection{Professor: "TBA"}, discovery.AllPredicates)
	assert.Empty(t, got)
}

func TestSectionExcludesUnknown(t *testing.T) {
	got := Apply(candidates, sections, discovery.FilterSelection{Section: "01"}, discovery.AllPredicates)
	assert.Equal(t, []string{"1", "4"}, ids(got))

	got = Apply(candidates, sections, discovery.FilterSelection{Tags: []string{"c"}}, discovery.AllPredicates)
	assert.Equal(t, []string{"3", "5"}, ids(got), "unknown section stays when no section predicate is active")
}

func TestSchoolAndMajor(t *testing.T) {
	got := Apply(candidates, sections, discovery.FilterSelection{School: "sch1", Major: "cs"}, discovery.AllPredicates)
	assert.Equal(t, []string{"1", "5"}, ids(got))
}

func TestDisabledPredicatesIgnored(t *testing.T) {
	sel := discovery.FilterSelection{School: "sch2", Tags: []string{"b"}}
	got := Apply(candidates, sections, sel, discovery.DefaultPredicates(discovery.KindSection))
	assert.Equal(t, []string{"1", "3", "5"}, ids(got))
}

func TestConjunctionEqualsIntersection(t *testing.T) {
	selections := []discovery.FilterSelection{
		{Tags: []string{"a"}, Section: "01"},
		{Tags: []string{"b"}, School: "sch1", Major: "cs"},
		{Professor: "Lee", Tags: []string{"c"}},
		{Section: "02", Professor: "Smith"},
		{Tags: []string{"a", "b"}, School: "sch1", Section: "01", Professor: "Smith", Major: "cs"},
	}
	for _, sel := range selections {
		combined := ids(Apply(candidates, sections, sel, discovery.AllPredicates))

		singles := []discovery.FilterSelection{
			{Tags: sel.Tags}, {Section: sel.Section}, {Professor: sel.Professor},
			{School: sel.School}, {Major: sel.Major},
		}
		want := ids(candidates)
		for _, single := range singles {
			want = intersect(want, ids(Apply(candidates, sections, single, discovery.AllPredicates)))
		}
		assert.Equal(t, want, combined, "selection %+v", sel)
	}
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	out := make([]string, 0)
	for _, v := range a {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

func TestApplyIsIdempotent(t *testing.T) {
	sel := discovery.FilterSelection{Tags: []string{"a"}, School: "sch1"}
	first := Apply(candidates, sections, sel, discovery.AllPredicates)
	second := Apply(candidates, sections, sel, discovery.AllPredicates)
	assert.Equal(t, first, second)

	first[0].ID = "mutated"
	assert.Equal(t, "1", candidates[0].ID)
}
