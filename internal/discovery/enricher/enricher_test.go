package enricher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	"github.com/pucknotes/note-discovery/pkg/metrics"
)

type fakeGetter struct {
	mu       sync.Mutex
	sections map[string]notes.Section
	fail     map[string]bool
	calls    map[string]int
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeGetter(sections ...notes.Section) *fakeGetter {
	g := &fakeGetter{
		sections: make(map[string]notes.Section),
		fail:     make(map[string]bool),
		calls:    make(map[string]int),
	}
	for _, s := range sections {
		g.sections[s.ID] = s
	}
	return g
}

func (g *fakeGetter) GetSection(ctx context.Context, id string) (notes.Section, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[id]++
	if g.fail[id] {
		return notes.Section{}, errors.New("backend returned 500")
	}
	sec, ok := g.sections[id]
	if !ok {
		return notes.Section{}, errors.New("section not found")
	}
	return sec, nil
}

func (g *fakeGetter) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, c := range g.calls {
		total += c
	}
	return total
}

var (
	s1 = notes.Section{ID: "S1", Number: "01", Professors: []string{"Smith, J", "TBA"}}
	s2 = notes.Section{ID: "S2", Number: "02", Professors: []string{"TBA"}}
)

func TestFacetsSkipTBAAndKeepTagOrder(t *testing.T) {
	e := New(newFakeGetter(s1, s2), metrics.Nop(), Options{})
	candidates := []notes.Note{
		{ID: "1", Section: "S1", Tags: []string{"lecture", "week1"}},
		{ID: "2", Section: "S2", Tags: []string{"exam", "lecture"}},
	}

	res, err := e.Enrich(context.Background(), NewCache(), candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"Smith"}, res.Facets.Professors)
	assert.Equal(t, []string{"01", "02"}, res.Facets.Sections)
	assert.Equal(t, []string{"lecture", "week1", "exam"}, res.Facets.Tags)
	assert.Empty(t, res.Failed)
}

func TestFetchesEachSectionOnce(t *testing.T) {
	g := newFakeGetter(s1, s2)
	e := New(g, metrics.Nop(), Options{})
	candidates := []notes.Note{
		{ID: "1", Section: "S1"},
		{ID: "2", Section: "S2"},
		{ID: "3", Section: "S1"},
	}

	res, err := e.Enrich(context.Background(), NewCache(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, g.totalCalls())
	assert.Equal(t, 2, res.Fetched)
	assert.Len(t, res.Sections, 2)
}

func TestCacheReusedAcrossPasses(t *testing.T) {
	g := newFakeGetter(s1, s2)
	e := New(g, metrics.Nop(), Options{})
	cache := NewCache()

	_, err := e.Enrich(context.Background(), cache, []notes.Note{{ID: "1", Section: "S1"}})
	require.NoError(t, err)
	res, err := e.Enrich(context.Background(), cache, []notes.Note{{ID: "1", Section: "S1"}, {ID: "2", Section: "S2"}})
	require.NoError(t, err)

	assert.Equal(t, 2, g.totalCalls())
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 2, cache.Len())
}

func TestPartialFailureDegradesFacets(t *testing.T) {
	g := newFakeGetter(s1, s2)
	g.fail["S2"] = true
	e := New(g, metrics.Nop(), Options{})
	cache := NewCache()

	res, err := e.Enrich(context.Background(), cache, []notes.Note{
		{ID: "1", Section: "S1"},
		{ID: "2", Section: "S2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, res.Failed)
	assert.Equal(t, []string{"01"}, res.Facets.Sections)
	_, known := cache.Lookup("S2")
	assert.False(t, known)

	g.fail["S2"] = false
	res, err = e.Enrich(context.Background(), cache, []notes.Note{{ID: "2", Section: "S2"}})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"02"}, res.Facets.Sections)
}

func TestFanOutIsBounded(t *testing.T) {
	var sections []notes.Section
	var candidates []notes.Note
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		sections = append(sections, notes.Section{ID: id, Number: id})
		candidates = append(candidates, notes.Note{ID: "n-" + id, Section: id})
	}
	g := newFakeGetter(sections...)
	g.delay = 10 * time.Millisecond
	e := New(g, metrics.Nop(), Options{MaxConcurrent: 2})

	res, err := e.Enrich(context.Background(), NewCache(), candidates)
	require.NoError(t, err)
	assert.Len(t, res.Sections, 6)
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
}

func TestCancelledPassFails(t *testing.T) {
	e := New(newFakeGetter(s1), metrics.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Enrich(ctx, NewCache(), []notes.Note{{ID: "1", Section: "S1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

type mapShared struct {
	mu   sync.Mutex
	data map[string]notes.Section
}

func (m *mapShared) Get(ctx context.Context, id string) (notes.Section, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.data[id]
	return sec, ok
}

func (m *mapShared) Set(ctx context.Context, sec notes.Section) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sec.ID] = sec
}

func TestSharedTierServesOtherSessions(t *testing.T) {
	g := newFakeGetter(s1)
	shared := &mapShared{data: make(map[string]notes.Section)}
	e := New(g, metrics.Nop(), Options{Shared: shared})

	_, err := e.Enrich(context.Background(), NewCache(), []notes.Note{{ID: "1", Section: "S1"}})
	require.NoError(t, err)
	res, err := e.Enrich(context.Background(), NewCache(), []notes.Note{{ID: "1", Section: "S1"}})
	require.NoError(t, err)

	assert.Equal(t, 1, g.totalCalls())
	assert.Zero(t, res.Fetched)
	assert.Equal(t, []string{"Smith"}, res.Facets.Professors)
}

func TestCacheKeepsFirstValue(t *testing.T) {
	c := NewCache()
	c.put(notes.Section{ID: "S1", Number: "01"})
	c.put(notes.Section{ID: "S1", Number: "99"})
	sec, ok := c.Lookup("S1")
	require.True(t, ok)
	assert.Equal(t, "01", sec.Number)
}

func TestDeriveFacetsCollates(t *testing.T) {
	sections := discovery.Sections{
		"A": {ID: "A", Number: "10", Professors: []string{"zhou"}},
		"B": {ID: "B", Number: "2", Professors: []string{"Álvarez, M"}},
		"C": {ID: "C", Number: "", Professors: []string{""}},
	}
	f := DeriveFacets([]notes.Note{{Section: "A"}, {Section: "B"}, {Section: "C"}, {Section: "missing"}}, sections, discovery.DefaultCollator())
	assert.Equal(t, []string{"Álvarez", "zhou"}, f.Professors)
	assert.Equal(t, []string{"10", "2"}, f.Sections)
	assert.NotNil(t, f.Tags)
}
