package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/enricher"
	"github.com/pucknotes/note-discovery/internal/discovery/fetcher"
	"github.com/pucknotes/note-discovery/internal/discovery/viewmodel"
	"github.com/pucknotes/note-discovery/internal/notes"
	"github.com/pucknotes/note-discovery/pkg/config"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
	"github.com/pucknotes/note-discovery/pkg/metrics"
)

type countingBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	courses map[string]string
}

func (b *countingBackend) ListNotes(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[dc.String()]++
	section := "S1"
	if dc.Kind == discovery.KindSection {
		section = dc.SectionID
	}
	return []notes.Note{{ID: "n1", Section: section}}, nil
}

func (b *countingBackend) GetSection(ctx context.Context, id string) (notes.Section, error) {
	return notes.Section{ID: id, Number: "01", Course: b.courses[id]}, nil
}

func (b *countingBackend) count(dc discovery.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[dc.String()]
}

func newRegistry(t *testing.T, cfg config.DiscoveryConfig) (*Registry, *countingBackend) {
	t.Helper()
	b := &countingBackend{calls: make(map[string]int)}
	m := metrics.Nop()
	r := NewRegistry(viewmodel.Deps{
		Fetcher:  fetcher.New(b),
		Enricher: enricher.New(b, m, enricher.Options{}),
		Metrics:  m,
	}, cfg, m)
	t.Cleanup(r.Close)
	return r, b
}

func TestCreateGetDelete(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{})
	s, err := r.Create(Options{Context: discovery.QueryContext("graphs")})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	s.VM.Wait()

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, got.VM.State().Filtered, 1)

	require.NoError(t, r.Delete(s.ID))
	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(s.ID), apperrors.ErrSessionNotFound)
}

func TestCreateRejectsInvalidContext(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{})
	_, err := r.Create(Options{Context: discovery.SectionContext("")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, r.Len())
}

func TestSessionLimit(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{MaxSessions: 1})
	_, err := r.Create(Options{Context: discovery.QueryContext("a")})
	require.NoError(t, err)
	_, err = r.Create(Options{Context: discovery.QueryContext("b")})
	assert.ErrorIs(t, err, apperrors.ErrTooManySessions)
	assert.Equal(t, 429, apperrors.HTTPStatusCode(err))
}

func TestIdleEviction(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{SessionIdleTTL: time.Minute})
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	old, err := r.Create(Options{Context: discovery.QueryContext("old")})
	require.NoError(t, err)
	clock = clock.Add(45 * time.Second)
	fresh, err := r.Create(Options{Context: discovery.QueryContext("fresh")})
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	assert.Equal(t, 1, r.Evict())
	_, err = r.Get(old.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	_, err = r.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestBumpRefreshFor(t *testing.T) {
	r, b := newRegistry(t, config.DiscoveryConfig{})
	course := discovery.CourseContext("c1", "f24")
	section := discovery.SectionContext("s9")
	other := discovery.SectionContext("s2")
	query := discovery.QueryContext("anything")

	var sessions []*Session
	for _, dc := range []discovery.Context{course, section, other, query} {
		s, err := r.Create(Options{Context: dc})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		s.VM.Wait()
	}

	assert.Equal(t, 3, r.BumpRefreshFor("c1", "s9"))
	for _, s := range sessions {
		s.VM.Wait()
	}
	assert.Equal(t, 2, b.count(course))
	assert.Equal(t, 2, b.count(section))
	assert.Equal(t, 1, b.count(other))
	assert.Equal(t, 2, b.count(query))

	assert.Equal(t, 4, r.BumpRefresh())
}

func TestBumpRefreshForSingleID(t *testing.T) {
	r, b := newRegistry(t, config.DiscoveryConfig{})
	b.courses = map[string]string{"S1": "c1", "s2": "c2"}
	section := discovery.SectionContext("S1")
	course := discovery.CourseContext("c1", "f24")
	other := discovery.SectionContext("s2")

	var sessions []*Session
	for _, dc := range []discovery.Context{section, course, other} {
		s, err := r.Create(Options{Context: dc})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	wait := func() {
		for _, s := range sessions {
			s.VM.Wait()
		}
	}
	wait()

	assert.Equal(t, 2, r.BumpRefreshFor("c1", ""), "course event reaches sections of that course")
	wait()
	assert.Equal(t, 2, b.count(section))
	assert.Equal(t, 2, b.count(course))
	assert.Equal(t, 1, b.count(other))

	assert.Equal(t, 2, r.BumpRefreshFor("", "S1"), "section event reaches courses listing it")
	wait()
	assert.Equal(t, 3, b.count(section))
	assert.Equal(t, 3, b.count(course))
	assert.Equal(t, 1, b.count(other))
}

func TestTouchKeepsStreamedSessionAlive(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{SessionIdleTTL: time.Minute})
	clock := time.Now().Add(-time.Hour)
	r.now = func() time.Time { return clock }

	streamed, err := r.Create(Options{Context: discovery.QueryContext("streamed")})
	require.NoError(t, err)
	idle, err := r.Create(Options{Context: discovery.QueryContext("idle")})
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	streamed.Touch()
	assert.Equal(t, 1, r.Evict())
	assert.Equal(t, 1, r.Len())
	assert.Same(t, streamed, mustGet(t, r, streamed.ID))
	_, err = r.Get(idle.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func mustGet(t *testing.T, r *Registry, id string) *Session {
	t.Helper()
	s, err := r.Get(id)
	require.NoError(t, err)
	return s
}

func TestRunClosesOnShutdown(t *testing.T) {
	r, _ := newRegistry(t, config.DiscoveryConfig{})
	_, err := r.Create(Options{Context: discovery.QueryContext("q")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done
	assert.Zero(t, r.Len())
}
