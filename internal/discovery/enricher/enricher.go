// Package enricher resolves the sections referenced by a candidate set and
// derives the filter facets from them.
package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	"github.com/pucknotes/note-discovery/pkg/logger"
	"github.com/pucknotes/note-discovery/pkg/metrics"
)

type SectionGetter interface {
	GetSection(ctx context.Context, id string) (notes.Section, error)
}

// Result is the outcome of one enrichment pass.
type Result struct {
	Sections  discovery.Sections
	Facets    discovery.FacetSet
	Fetched   int
	CacheHits int
	Failed    []string
}

// Enricher is shared by every session. Each session brings its own Cache;
// the singleflight group and the optional shared tier span sessions.
type Enricher struct {
	getter   SectionGetter
	shared   SharedCache
	group    singleflight.Group
	limit    int
	collator *discovery.Collator
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Options struct {
	MaxConcurrent int
	Shared        SharedCache
	Collator      *discovery.Collator
}

func New(getter SectionGetter, m *metrics.Metrics, opts Options) *Enricher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Collator == nil {
		opts.Collator = discovery.DefaultCollator()
	}
	return &Enricher{
		getter:   getter,
		shared:   opts.Shared,
		limit:    opts.MaxConcurrent,
		collator: opts.Collator,
		metrics:  m,
		logger:   slog.Default().With("component", "facet-enricher"),
	}
}

// Enrich fetches every section referenced by candidates that cache does not
// already hold, waits for all of them to settle, and derives facets from the
// result. A section that cannot be fetched is left out of the cache and
// listed in Failed; that alone never fails the pass.
func (e *Enricher) Enrich(ctx context.Context, cache *Cache, candidates []notes.Note) (Result, error) {
	var res Result
	missing := make([]string, 0)
	for _, id := range distinctSections(candidates) {
		if _, ok := cache.Lookup(id); ok {
			res.CacheHits++
			e.metrics.SectionCacheTotal.WithLabelValues("session", "hit").Inc()
			continue
		}
		e.metrics.SectionCacheTotal.WithLabelValues("session", "miss").Inc()
		missing = append(missing, id)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.limit)
	for _, id := range missing {
		g.Go(func() error {
			sec, fetched, err := e.resolve(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if fetched {
				res.Fetched++
			}
			if err != nil {
				res.Failed = append(res.Failed, id)
				logger.FromContext(ctx).Warn("section unavailable", "section", id, "error", err)
				return nil
			}
			cache.put(sec)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("enrichment interrupted: %w", err)
	}

	sort.Strings(res.Failed)
	res.Sections = cache.Snapshot()
	res.Facets = DeriveFacets(candidates, res.Sections, e.collator)
	return res, nil
}

type resolved struct {
	sec     notes.Section
	network bool
}

// resolve returns one section, joining any fetch for the same id already in
// flight from another session. The shared fetch outlives the caller's
// cancellation so followers are not failed by a departing leader.
func (e *Enricher) resolve(ctx context.Context, id string) (notes.Section, bool, error) {
	v, err, _ := e.group.Do(id, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if e.shared != nil {
			if sec, ok := e.shared.Get(fetchCtx, id); ok {
				e.metrics.SectionCacheTotal.WithLabelValues("shared", "hit").Inc()
				return resolved{sec: sec}, nil
			}
			e.metrics.SectionCacheTotal.WithLabelValues("shared", "miss").Inc()
		}
		sec, err := e.getter.GetSection(fetchCtx, id)
		if err != nil {
			e.metrics.SectionFetchesTotal.WithLabelValues("failed").Inc()
			return resolved{network: true}, err
		}
		e.metrics.SectionFetchesTotal.WithLabelValues("ok").Inc()
		if e.shared != nil {
			e.shared.Set(fetchCtx, sec)
		}
		return resolved{sec: sec, network: true}, nil
	})
	r, _ := v.(resolved)
	return r.sec, r.network, err
}

func distinctSections(candidates []notes.Note) []string {
	seen := make(map[string]struct{}, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, n := range candidates {
		if n.Section == "" {
			continue
		}
		if _, ok := seen[n.Section]; ok {
			continue
		}
		seen[n.Section] = struct{}{}
		ids = append(ids, n.Section)
	}
	return ids
}

// DeriveFacets computes the filter options for candidates. Professors and
// section numbers come from known sections only and are collated; TBA and
// empty primaries are dropped. Tags keep first-seen order.
func DeriveFacets(candidates []notes.Note, sections discovery.Sections, coll *discovery.Collator) discovery.FacetSet {
	professors := make(map[string]struct{})
	numbers := make(map[string]struct{})
	tags := make([]string, 0)
	seenTags := make(map[string]struct{})
	seenSections := make(map[string]struct{})

	for _, n := range candidates {
		for _, t := range n.Tags {
			if _, ok := seenTags[t]; ok || t == "" {
				continue
			}
			seenTags[t] = struct{}{}
			tags = append(tags, t)
		}
		if _, ok := seenSections[n.Section]; ok {
			continue
		}
		seenSections[n.Section] = struct{}{}
		sec, ok := sections.Lookup(n.Section)
		if !ok {
			continue
		}
		if p := sec.PrimaryProfessor(); p != "" && p != notes.TBA {
			professors[p] = struct{}{}
		}
		if sec.Number != "" {
			numbers[sec.Number] = struct{}{}
		}
	}
	return discovery.FacetSet{
		Professors: collated(professors, coll),
		Sections:   collated(numbers, coll),
		Tags:       tags,
	}
}

func collated(set map[string]struct{}, coll *discovery.Collator) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	coll.Sort(out)
	return out
}
