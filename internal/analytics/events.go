package analytics

import (
	"time"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/viewmodel"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
)

type EventType string

const (
	EventPassCompleted EventType = "pass_completed"
	EventPassFailed    EventType = "pass_failed"
	EventPassStale     EventType = "pass_stale"
)

// PassEvent is what the discovery service publishes for every finished
// pass, stale ones included.
type PassEvent struct {
	Type           EventType             `json:"type"`
	SessionID      string                `json:"session_id"`
	Seq            uint64                `json:"seq"`
	ContextKind    discovery.ContextKind `json:"context_kind"`
	Query          string                `json:"query,omitempty"`
	CourseID       string                `json:"course_id,omitempty"`
	SectionID      string                `json:"section_id,omitempty"`
	Candidates     int                   `json:"candidates"`
	Visible        int                   `json:"visible"`
	SectionFetches int                   `json:"section_fetches"`
	CacheHits      int                   `json:"cache_hits"`
	PartialFailed  int                   `json:"partial_failed"`
	LatencyMs      int64                 `json:"latency_ms"`
	Error          string                `json:"error,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

func NewPassEvent(r viewmodel.PassReport, at time.Time) PassEvent {
	ev := PassEvent{
		Type:           EventPassCompleted,
		SessionID:      r.SessionID,
		Seq:            r.Seq,
		ContextKind:    r.Context.Kind,
		Query:          r.Context.Query,
		CourseID:       r.Context.CourseID,
		SectionID:      r.Context.SectionID,
		Candidates:     r.Candidates,
		Visible:        r.Visible,
		SectionFetches: r.SectionFetches,
		CacheHits:      r.CacheHits,
		PartialFailed:  r.PartialFailed,
		LatencyMs:      r.Latency.Milliseconds(),
		Timestamp:      at.UTC(),
	}
	switch {
	case r.Stale:
		ev.Type = EventPassStale
	case r.Err != nil:
		ev.Type = EventPassFailed
		ev.Error = apperrors.Message(r.Err)
	}
	return ev
}
