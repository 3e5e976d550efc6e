// Package session tracks live discovery sessions, evicts idle ones, and
// fans refresh signals out to the sessions they concern.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/viewmodel"
	"github.com/pucknotes/note-discovery/pkg/config"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
	"github.com/pucknotes/note-discovery/pkg/metrics"
)

// Session is one page visit's worth of discovery state.
type Session struct {
	ID       string
	Created  time.Time
	VM       *viewmodel.ViewModel
	lastSeen atomic.Int64
}

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// Touch marks the session as in use by a client that holds it open without
// issuing requests, such as a state stream.
func (s *Session) Touch() { s.touch(time.Now()) }

// LastSeen is the last time the session was read or driven.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Options describe a session to create.
type Options struct {
	Context    discovery.Context
	Sort       discovery.SortSpec
	Filters    discovery.FilterSelection
	Predicates *discovery.PredicateSet
	Identity   string
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     viewmodel.Deps
	idleTTL  time.Duration
	max      int
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistry(deps viewmodel.Deps, cfg config.DiscoveryConfig, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		deps:     deps,
		idleTTL:  cfg.SessionIdleTTL,
		max:      cfg.MaxSessions,
		metrics:  m,
		logger:   slog.Default().With("component", "session-registry"),
		now:      time.Now,
	}
}

// Create starts a session and its first discovery pass.
func (r *Registry) Create(opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.evictLocked(r.now())
		if len(r.sessions) >= r.max {
			return nil, apperrors.Newf(apperrors.ErrTooManySessions, http.StatusTooManyRequests,
				"session limit of %d reached", r.max)
		}
	}

	id := uuid.NewString()
	vm, err := viewmodel.New(r.deps, viewmodel.Config{
		SessionID:  id,
		Context:    opts.Context,
		Sort:       opts.Sort,
		Filters:    opts.Filters,
		Predicates: opts.Predicates,
		Identity:   opts.Identity,
	})
	if err != nil {
		return nil, err
	}
	now := r.now()
	s := &Session{ID: id, Created: now, VM: vm}
	s.touch(now)
	r.sessions[id] = s
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.logger.Info("session created", "session_id", id, "context", opts.Context.String())
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrSessionNotFound, http.StatusNotFound, "session %s not found", id)
	}
	s.touch(r.now())
	return s, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.ErrSessionNotFound, http.StatusNotFound, "session %s not found", id)
	}
	s.VM.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BumpRefresh re-runs the discovery pass of every live session.
func (r *Registry) BumpRefresh() int {
	return r.bump(func(*Session) bool { return true })
}

// BumpRefreshFor re-runs only sessions that could list notes of the given
// course or section.
func (r *Registry) BumpRefreshFor(courseID, sectionID string) int {
	return r.bump(func(s *Session) bool {
		return s.VM.References(courseID, sectionID)
	})
}

func (r *Registry) bump(match func(*Session) bool) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if match(s) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	bumped := 0
	for _, s := range targets {
		if err := s.VM.Refresh(); err != nil {
			continue
		}
		bumped++
	}
	if bumped > 0 {
		r.logger.Debug("refresh bumped", "sessions", bumped)
	}
	return bumped
}

// Evict closes sessions idle for longer than the configured TTL.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(r.now())
}

func (r *Registry) evictLocked(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)
	evicted := 0
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			s.VM.Close()
			evicted++
		}
	}
	if evicted > 0 {
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
		r.logger.Info("idle sessions evicted", "count", evicted, "remaining", len(r.sessions))
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done, then closes
// everything that is left.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		delete(r.sessions, id)
		s.VM.Close()
	}
	r.metrics.ActiveSessions.Set(0)
}
