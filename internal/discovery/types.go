// Package discovery holds the values that flow through a discovery pass:
// the context a pass is about, the user's sort and filter choices, the facets
// derived from enrichment, and the snapshot handed to presentation.
package discovery

import (
	"fmt"
	"strings"

	apperrors "github.com/pucknotes/note-discovery/pkg/errors"

	"github.com/pucknotes/note-discovery/internal/notes"
)

// ContextKind names what a discovery pass lists notes for.
type ContextKind string

const (
	KindQuery   ContextKind = "query"
	KindCourse  ContextKind = "course"
	KindSection ContextKind = "section"
)

// Context is one of a free-text query, a course within a semester, or a
// single section.
type Context struct {
	Kind       ContextKind `json:"kind"`
	Query      string      `json:"query,omitempty"`
	CourseID   string      `json:"courseId,omitempty"`
	SemesterID string      `json:"semesterId,omitempty"`
	SectionID  string      `json:"sectionId,omitempty"`
}

func QueryContext(q string) Context { return Context{Kind: KindQuery, Query: q} }

func CourseContext(courseID, semesterID string) Context {
	return Context{Kind: KindCourse, CourseID: courseID, SemesterID: semesterID}
}

func SectionContext(sectionID string) Context {
	return Context{Kind: KindSection, SectionID: sectionID}
}

// Validate checks that the fields the kind needs are present. A blank query
// is valid; it simply lists nothing.
func (c Context) Validate() error {
	switch c.Kind {
	case KindQuery:
		return nil
	case KindCourse:
		if c.CourseID == "" || c.SemesterID == "" {
			return apperrors.Invalid("course context requires courseId and semesterId")
		}
	case KindSection:
		if c.SectionID == "" {
			return apperrors.Invalid("section context requires sectionId")
		}
	default:
		return apperrors.Invalid("unknown context kind %q", c.Kind)
	}
	return nil
}

// IsBlankQuery reports whether c is a query context with nothing to search.
func (c Context) IsBlankQuery() bool {
	return c.Kind == KindQuery && strings.TrimSpace(c.Query) == ""
}

// References reports whether notes listed for c could belong to the given
// course or section. Query contexts may contain any note.
func (c Context) References(courseID, sectionID string) bool {
	switch c.Kind {
	case KindQuery:
		return true
	case KindCourse:
		return courseID != "" && courseID == c.CourseID
	case KindSection:
		return sectionID != "" && sectionID == c.SectionID
	}
	return false
}

func (c Context) String() string {
	switch c.Kind {
	case KindQuery:
		return fmt.Sprintf("query:%q", c.Query)
	case KindCourse:
		return fmt.Sprintf("course:%s/%s", c.CourseID, c.SemesterID)
	case KindSection:
		return "section:" + c.SectionID
	}
	return string(c.Kind)
}

type SortKey string

const (
	SortLikes       SortKey = "likes"
	SortCreatedDate SortKey = "createdDate"
	SortTitle       SortKey = "title"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type SortSpec struct {
	Key   SortKey   `json:"key"`
	Order SortOrder `json:"order"`
}

// DefaultSort is the ordering a fresh session and ClearFilters start from.
var DefaultSort = SortSpec{Key: SortLikes, Order: Desc}

// ParseSortSpec validates wire values. An empty key or order takes the
// default for that field.
func ParseSortSpec(key, order string) (SortSpec, error) {
	spec := DefaultSort
	if key != "" {
		spec.Key = SortKey(key)
	}
	if order != "" {
		spec.Order = SortOrder(strings.ToLower(order))
	}
	return spec, spec.Validate()
}

func (s SortSpec) Validate() error {
	switch s.Key {
	case SortLikes, SortCreatedDate, SortTitle:
	default:
		return apperrors.Invalid("unknown sort key %q", s.Key)
	}
	switch s.Order {
	case Asc, Desc:
	default:
		return apperrors.Invalid("unknown sort order %q", s.Order)
	}
	return nil
}

// BackendKey is the sort parameter the notes backend understands for s.
func (s SortSpec) BackendKey() string {
	switch s.Key {
	case SortCreatedDate:
		return "date"
	default:
		return string(s.Key)
	}
}

// FilterSelection is the user's current predicate state. Empty fields impose
// no constraint.
type FilterSelection struct {
	Tags      []string `json:"tags,omitempty"`
	Section   string   `json:"section,omitempty"`
	Professor string   `json:"professor,omitempty"`
	School    string   `json:"school,omitempty"`
	Major     string   `json:"major,omitempty"`
}

func (f FilterSelection) IsEmpty() bool {
	return len(f.Tags) == 0 && f.Section == "" && f.Professor == "" && f.School == "" && f.Major == ""
}

// Clone returns a copy that shares no memory with f.
func (f FilterSelection) Clone() FilterSelection {
	out := f
	if f.Tags != nil {
		out.Tags = append([]string(nil), f.Tags...)
	}
	return out
}

// PredicateSet says which predicates a session honours. A selection on a
// disabled predicate is ignored.
type PredicateSet struct {
	Tags      bool `json:"tags"`
	Section   bool `json:"section"`
	Professor bool `json:"professor"`
	School    bool `json:"school"`
	Major     bool `json:"major"`
}

var AllPredicates = PredicateSet{Tags: true, Section: true, Professor: true, School: true, Major: true}

// DefaultPredicates returns the predicates offered for kind. School and major
// only make sense across courses, so only query contexts get them.
func DefaultPredicates(kind ContextKind) PredicateSet {
	if kind == KindQuery {
		return AllPredicates
	}
	return PredicateSet{Tags: true, Section: true, Professor: true}
}

// FacetSet lists the values the filter options are populated from.
type FacetSet struct {
	Professors []string `json:"availableProfessors"`
	Sections   []string `json:"availableSections"`
	Tags       []string `json:"availableTags"`
}

// Sections is the per-session section cache as seen by filtering: a
// read-only view keyed by section id.
type Sections map[string]notes.Section

func (s Sections) Lookup(id string) (notes.Section, bool) {
	sec, ok := s[id]
	return sec, ok
}

// State is the snapshot a ViewModel publishes after every change.
type State struct {
	Seq             uint64          `json:"seq"`
	Context         Context         `json:"context"`
	Sort            SortSpec        `json:"sort"`
	Filters         FilterSelection `json:"filters"`
	Predicates      PredicateSet    `json:"predicates"`
	RefreshEpoch    uint64          `json:"refreshEpoch"`
	Candidates      []notes.Note    `json:"candidates"`
	Facets          FacetSet        `json:"facets"`
	Filtered        []notes.Note    `json:"filtered"`
	Loading         bool            `json:"loading"`
	Error           string          `json:"error,omitempty"`
	PartialFailures int             `json:"partialFailures"`
}
