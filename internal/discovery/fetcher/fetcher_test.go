package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
)

type stubLister struct {
	calls int
	got   discovery.Context
	notes []notes.Note
	err   error
}

func (s *stubLister) ListNotes(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error) {
	s.calls++
	s.got = dc
	return s.notes, s.err
}

func TestBlankQueryMakesNoCall(t *testing.T) {
	lister := &stubLister{}
	got, err := New(lister).Fetch(context.Background(), discovery.QueryContext("  "), discovery.DefaultSort)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, lister.calls)
}

func TestFetchReturnsCandidates(t *testing.T) {
	lister := &stubLister{notes: []notes.Note{{ID: "1"}, {ID: "2"}}}
	got, err := New(lister).Fetch(context.Background(), discovery.SectionContext("s1"), discovery.DefaultSort)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, "s1", lister.got.SectionID)
}

func TestFetchInvalidContext(t *testing.T) {
	lister := &stubLister{}
	_, err := New(lister).Fetch(context.Background(), discovery.CourseContext("c1", ""), discovery.DefaultSort)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, lister.calls)
}

func TestFetchFailureIsFetchFailed(t *testing.T) {
	lister := &stubLister{err: errors.New("connection reset")}
	_, err := New(lister).Fetch(context.Background(), discovery.QueryContext("graphs"), discovery.DefaultSort)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
	assert.Contains(t, err.Error(), "connection reset")
}
