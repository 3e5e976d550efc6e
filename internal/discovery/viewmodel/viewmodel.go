// Package viewmodel keeps one session's discovery state consistent while
// passes complete out of order. Inputs are the discovery context, sort,
// filter selection, refresh epoch and caller identity; every change
// re-derives the published State.
package viewmodel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pucknotes/note-discovery/internal/backend"
	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/enricher"
	"github.com/pucknotes/note-discovery/internal/discovery/filter"
	"github.com/pucknotes/note-discovery/internal/discovery/sorter"
	"github.com/pucknotes/note-discovery/internal/notes"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
	"github.com/pucknotes/note-discovery/pkg/logger"
	"github.com/pucknotes/note-discovery/pkg/metrics"
	"github.com/pucknotes/note-discovery/pkg/tracing"
)

type Fetcher interface {
	Fetch(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error)
}

type Enricher interface {
	Enrich(ctx context.Context, cache *enricher.Cache, candidates []notes.Note) (enricher.Result, error)
}

// PassReport describes a finished pass, including ones discarded as stale.
type PassReport struct {
	SessionID      string
	Seq            uint64
	Context        discovery.Context
	Candidates     int
	Visible        int
	SectionFetches int
	CacheHits      int
	PartialFailed  int
	Latency        time.Duration
	Stale          bool
	Err            error
}

// Observer is told about every finished pass. It is called without the
// ViewModel lock held and must not block.
type Observer interface {
	PassFinished(PassReport)
}

type Deps struct {
	Fetcher  Fetcher
	Enricher Enricher
	Sorter   *sorter.Sorter
	Metrics  *metrics.Metrics
	Observer Observer

	// TracePasses logs each pass's span tree at debug level.
	TracePasses bool
}

// Config seeds a ViewModel. Zero Sort means DefaultSort and zero
// Predicates means the defaults for the context kind.
type Config struct {
	SessionID  string
	Context    discovery.Context
	Sort       discovery.SortSpec
	Filters    discovery.FilterSelection
	Predicates *discovery.PredicateSet
	Identity   string
}

type inputs struct {
	context  discovery.Context
	sort     discovery.SortSpec
	filters  discovery.FilterSelection
	epoch    uint64
	identity string
}

type ViewModel struct {
	id         string
	deps       Deps
	predicates discovery.PredicateSet
	cache      *enricher.Cache
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	passes  sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	in         inputs
	latest     uint64
	candidates []notes.Note
	sections   discovery.Sections
	state      discovery.State
	subs       map[int]chan discovery.State
	nextSub    int
}

// New builds a ViewModel and starts its first pass.
func New(deps Deps, cfg Config) (*ViewModel, error) {
	if err := cfg.Context.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sort == (discovery.SortSpec{}) {
		cfg.Sort = discovery.DefaultSort
	}
	if err := cfg.Sort.Validate(); err != nil {
		return nil, err
	}
	preds := discovery.DefaultPredicates(cfg.Context.Kind)
	if cfg.Predicates != nil {
		preds = *cfg.Predicates
	}
	if deps.Sorter == nil {
		deps.Sorter = sorter.New(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}

	ctx, cancel := context.WithCancel(logger.WithSessionID(context.Background(), cfg.SessionID))
	vm := &ViewModel{
		id:         cfg.SessionID,
		deps:       deps,
		predicates: preds,
		cache:      enricher.NewCache(),
		logger:     slog.Default().With("component", "viewmodel", "session_id", cfg.SessionID),
		baseCtx:    ctx,
		cancel:     cancel,
		in: inputs{
			context:  cfg.Context,
			sort:     cfg.Sort,
			filters:  cfg.Filters.Clone(),
			identity: cfg.Identity,
		},
		sections: discovery.Sections{},
		subs:     make(map[int]chan discovery.State),
	}
	vm.state = discovery.State{
		Candidates: []notes.Note{},
		Filtered:   []notes.Note{},
		Facets:     emptyFacets(),
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.startPass()
	return vm, nil
}

func (vm *ViewModel) ID() string { return vm.id }

// SetContext switches to a new discovery context and starts a full pass.
func (vm *ViewModel) SetContext(dc discovery.Context) error {
	if err := dc.Validate(); err != nil {
		return err
	}
	return vm.update(func() bool {
		vm.in.context = dc
		return true
	})
}

// SetSort changes the ordering. The backend sorts too, so this runs a full
// pass.
func (vm *ViewModel) SetSort(spec discovery.SortSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	return vm.update(func() bool {
		vm.in.sort = spec
		return true
	})
}

// SetFilters re-filters the current candidates synchronously.
func (vm *ViewModel) SetFilters(sel discovery.FilterSelection) error {
	return vm.update(func() bool {
		vm.in.filters = sel.Clone()
		return false
	})
}

// ClearFilters resets the selection and sort to their defaults and
// re-derives the view from the candidates already held.
func (vm *ViewModel) ClearFilters() error {
	return vm.update(func() bool {
		vm.in.filters = discovery.FilterSelection{}
		vm.in.sort = discovery.DefaultSort
		return false
	})
}

// Refresh bumps the refresh epoch, re-running the pass for the same inputs.
func (vm *ViewModel) Refresh() error {
	return vm.update(func() bool {
		vm.in.epoch++
		return true
	})
}

// SetIdentity changes the caller identity the backend sees. A different
// identity may see different notes, so it starts a pass.
func (vm *ViewModel) SetIdentity(token string) error {
	return vm.update(func() bool {
		if vm.in.identity == token {
			return false
		}
		vm.in.identity = token
		return true
	})
}

func (vm *ViewModel) update(apply func() (fullPass bool)) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return apperrors.Newf(apperrors.ErrSessionNotFound, http.StatusNotFound, "session %s is closed", vm.id)
	}
	if apply() {
		vm.startPass()
		return nil
	}
	vm.rederive()
	vm.publish()
	return nil
}

// Context returns the current discovery context.
func (vm *ViewModel) Context() discovery.Context {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.in.context
}

// References reports whether a change to notes of the given course or
// section could alter what this session lists. Beyond the context ids it
// consults the section cache, so a course event reaches section sessions of
// that course and a section event reaches course sessions listing it.
func (vm *ViewModel) References(courseID, sectionID string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	dc := vm.in.context
	if dc.References(courseID, sectionID) {
		return true
	}
	switch dc.Kind {
	case discovery.KindCourse:
		if sectionID == "" {
			return false
		}
		_, ok := vm.sections.Lookup(sectionID)
		return ok
	case discovery.KindSection:
		if courseID == "" {
			return false
		}
		if sec, ok := vm.sections.Lookup(dc.SectionID); ok {
			return sec.Course == courseID
		}
		for _, sec := range vm.sections {
			if sec.Course == courseID {
				return true
			}
		}
	}
	return false
}

// State returns the latest published snapshot.
func (vm *ViewModel) State() discovery.State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.snapshot()
}

// Subscribe returns a channel that always holds the newest State; a slow
// reader skips intermediate snapshots. The channel is closed by cancel or
// by Close.
func (vm *ViewModel) Subscribe() (<-chan discovery.State, func()) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	ch := make(chan discovery.State, 1)
	if vm.closed {
		close(ch)
		return ch, func() {}
	}
	id := vm.nextSub
	vm.nextSub++
	vm.subs[id] = ch
	ch <- vm.snapshot()
	return ch, func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if c, ok := vm.subs[id]; ok {
			delete(vm.subs, id)
			close(c)
		}
	}
}

// Wait blocks until every started pass has finished.
func (vm *ViewModel) Wait() {
	vm.passes.Wait()
}

// Close stops publishing. Passes still in flight finish and are discarded.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	vm.closed = true
	vm.cancel()
	for id, ch := range vm.subs {
		delete(vm.subs, id)
		close(ch)
	}
}

// startPass must be called with vm.mu held.
func (vm *ViewModel) startPass() {
	vm.latest++
	seq := vm.latest
	in := vm.in
	in.filters = in.filters.Clone()

	vm.state.Loading = true
	vm.state.Error = ""
	vm.publish()

	vm.passes.Add(1)
	go vm.runPass(seq, in)
}

func (vm *ViewModel) runPass(seq uint64, in inputs) {
	defer vm.passes.Done()
	start := time.Now()
	ctx := backend.WithIdentity(vm.baseCtx, in.identity)
	ctx, span := tracing.StartSpan(ctx, "discovery.pass", fmt.Sprintf("%s/%d", vm.id, seq))
	span.SetAttr("context", in.context.String())

	var (
		candidates []notes.Note
		enriched   enricher.Result
	)
	err := tracing.Stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		candidates, err = vm.deps.Fetcher.Fetch(ctx, in.context, in.sort)
		return err
	})
	if err == nil {
		err = tracing.Stage(ctx, "enrich", func(ctx context.Context) error {
			var err error
			enriched, err = vm.deps.Enricher.Enrich(ctx, vm.cache, candidates)
			return err
		})
	}

	report := PassReport{
		SessionID:      vm.id,
		Seq:            seq,
		Context:        in.context,
		Candidates:     len(candidates),
		SectionFetches: enriched.Fetched,
		CacheHits:      enriched.CacheHits,
		PartialFailed:  len(enriched.Failed),
		Err:            err,
	}

	vm.mu.Lock()
	switch {
	case vm.closed || seq != vm.latest:
		report.Stale = true
		vm.deps.Metrics.PassesTotal.WithLabelValues("stale").Inc()
	case err != nil:
		vm.candidates = []notes.Note{}
		vm.state.Candidates = []notes.Note{}
		vm.state.Filtered = []notes.Note{}
		vm.state.Facets = emptyFacets()
		vm.state.PartialFailures = 0
		vm.state.Error = apperrors.Message(err)
		vm.state.Loading = false
		vm.deps.Metrics.PassesTotal.WithLabelValues(outcome(err)).Inc()
		vm.publish()
	default:
		vm.candidates = candidates
		vm.sections = enriched.Sections
		vm.state.Candidates = candidates
		vm.state.Facets = enriched.Facets
		vm.state.PartialFailures = len(enriched.Failed)
		_ = tracing.Stage(ctx, "filter+sort", func(context.Context) error {
			vm.rederive()
			return nil
		})
		vm.state.Loading = false
		report.Visible = len(vm.state.Filtered)
		if in.context.IsBlankQuery() {
			vm.deps.Metrics.PassesTotal.WithLabelValues("empty_query").Inc()
		} else {
			vm.deps.Metrics.PassesTotal.WithLabelValues("ok").Inc()
		}
		vm.publish()
	}
	vm.mu.Unlock()

	report.Latency = time.Since(start)
	span.SetAttr("stale", report.Stale)
	span.End()
	if vm.deps.TracePasses {
		span.Log(vm.logger)
	}
	vm.deps.Metrics.PassLatency.WithLabelValues(string(in.context.Kind)).Observe(report.Latency.Seconds())
	if !report.Stale && err == nil {
		vm.deps.Metrics.CandidatesCount.Observe(float64(len(candidates)))
	}
	if report.Stale {
		vm.logger.Debug("stale pass discarded", "seq", seq, "context", in.context.String())
	} else if err != nil {
		vm.logger.Warn("discovery pass failed", "seq", seq, "context", in.context.String(), "error", err)
	}
	if vm.deps.Observer != nil {
		vm.deps.Observer.PassFinished(report)
	}
}

func outcome(err error) string {
	if apperrors.Is(err, apperrors.ErrFetchFailed) {
		return "fetch_failed"
	}
	return "error"
}

// rederive runs filtering and sorting over the held candidates. Must be
// called with vm.mu held.
func (vm *ViewModel) rederive() {
	if vm.state.Error != "" {
		vm.state.Filtered = []notes.Note{}
		return
	}
	visible := filter.Apply(vm.candidates, vm.sections, vm.in.filters, vm.predicates)
	vm.state.Filtered = vm.deps.Sorter.Sort(visible, vm.in.sort)
}

// snapshot must be called with vm.mu held.
func (vm *ViewModel) snapshot() discovery.State {
	s := vm.state
	s.Seq = vm.latest
	s.Context = vm.in.context
	s.Sort = vm.in.sort
	s.Filters = vm.in.filters.Clone()
	s.Predicates = vm.predicates
	s.RefreshEpoch = vm.in.epoch
	return s
}

// publish must be called with vm.mu held.
func (vm *ViewModel) publish() {
	snap := vm.snapshot()
	for _, ch := range vm.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func emptyFacets() discovery.FacetSet {
	return discovery.FacetSet{Professors: []string{}, Sections: []string{}, Tags: []string{}}
}
