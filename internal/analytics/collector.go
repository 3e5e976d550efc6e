package analytics

import (
	"time"

	"github.com/pucknotes/note-discovery/internal/discovery/viewmodel"
)

// Tracker is the sink pass events are handed to.
type Tracker interface {
	Track(key string, value any)
}

// Collector turns finished passes into PassEvents. It implements
// viewmodel.Observer and never blocks the pass that reports to it.
type Collector struct {
	sink Tracker
	now  func() time.Time
}

func NewCollector(sink Tracker) *Collector {
	return &Collector{sink: sink, now: time.Now}
}

// PassFinished keys events by session so one session's passes stay ordered
// within a partition.
func (c *Collector) PassFinished(r viewmodel.PassReport) {
	c.sink.Track(r.SessionID, NewPassEvent(r, c.now()))
}
