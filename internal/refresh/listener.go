// Package refresh turns note-change events into refresh signals for the
// discovery sessions they affect.
package refresh

import (
	"context"
	"log/slog"

	"github.com/pucknotes/note-discovery/pkg/kafka"
)

// Event types emitted by the notes backend when a note is written.
const (
	NoteCreated = "note.created"
	NoteUpdated = "note.updated"
	NoteDeleted = "note.deleted"
	NoteLiked   = "note.liked"
)

// NoteChanged is the payload on the note-changes topic. Any of the ids may
// be empty.
type NoteChanged struct {
	Type      string `json:"type"`
	NoteID    string `json:"noteId"`
	SectionID string `json:"sectionId"`
	CourseID  string `json:"courseId"`
}

// Refresher is satisfied by the session registry.
type Refresher interface {
	BumpRefresh() int
	BumpRefreshFor(courseID, sectionID string) int
}

type Listener struct {
	sessions Refresher
	logger   *slog.Logger
}

func NewListener(sessions Refresher) *Listener {
	return &Listener{
		sessions: sessions,
		logger:   slog.Default().With("component", "refresh-listener"),
	}
}

// Apply bumps the sessions an event concerns and reports how many were
// bumped. An event without a course or section refreshes every session,
// since search results can contain any note.
func (l *Listener) Apply(ev NoteChanged) int {
	var n int
	if ev.CourseID == "" && ev.SectionID == "" {
		n = l.sessions.BumpRefresh()
	} else {
		n = l.sessions.BumpRefreshFor(ev.CourseID, ev.SectionID)
	}
	l.logger.Debug("note change applied",
		"type", ev.Type,
		"note_id", ev.NoteID,
		"course_id", ev.CourseID,
		"section_id", ev.SectionID,
		"sessions", n,
	)
	return n
}

// Handler adapts Apply to a Kafka consumer. Undecodable messages are logged
// and skipped so a bad payload cannot wedge the partition.
func (l *Listener) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[NoteChanged](value)
		if err != nil {
			l.logger.Warn("skipping malformed note change", "key", string(key), "error", err)
			return nil
		}
		l.Apply(ev)
		return nil
	}
}
