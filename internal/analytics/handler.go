package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// SnapshotLister reads persisted snapshots. It is optional; without one the
// handler only serves live stats.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

type Handler struct {
	aggregator *Aggregator
	snapshots  SnapshotLister
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator, snapshots SnapshotLister) *Handler {
	return &Handler{
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

type envelope struct {
	Good  bool   `json:"good"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, envelope{Good: true, Data: h.aggregator.Stats()})
}

// Snapshots serves the newest persisted snapshots, ?limit= capped at 100.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.write(w, http.StatusNotFound, envelope{Error: "snapshot store not configured"})
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.write(w, http.StatusBadRequest, envelope{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, 100)
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snaps, err := h.snapshots.ListSnapshots(ctx, limit)
	if err != nil {
		h.logger.Error("listing snapshots", "error", err)
		h.write(w, http.StatusInternalServerError, envelope{Error: "failed to load snapshots"})
		return
	}
	h.write(w, http.StatusOK, envelope{Good: true, Data: snaps})
}

func (h *Handler) write(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
