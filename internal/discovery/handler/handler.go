// Package handler exposes discovery sessions over HTTP and streams their
// snapshots over WebSocket.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pucknotes/note-discovery/internal/backend"
	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/session"
	"github.com/pucknotes/note-discovery/internal/notes"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
	"github.com/pucknotes/note-discovery/pkg/logger"
)

const (
	maxBodyBytes = 1 << 20
	identityHdr  = "X-Account-Token"
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Catalog serves the school and major lists used to populate search facets.
type Catalog interface {
	ListSchools(ctx context.Context) ([]notes.School, error)
	ListMajors(ctx context.Context, schoolID string) ([]notes.Major, error)
}

// CacheInvalidator drops the shared section cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

type Handler struct {
	sessions *session.Registry
	catalog  Catalog
	shared   CacheInvalidator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func New(sessions *session.Registry, catalog Catalog, allowOrigins []string) *Handler {
	return &Handler{
		sessions: sessions,
		catalog:  catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowOrigins),
		},
		logger: slog.Default().With("component", "discovery-handler"),
	}
}

// WithSharedCache enables POST /api/v1/cache/invalidate.
func (h *Handler) WithSharedCache(c CacheInvalidator) *Handler {
	h.shared = c
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

type createRequest struct {
	Context    discovery.Context         `json:"context"`
	Sort       *sortRequest              `json:"sort,omitempty"`
	Filters    discovery.FilterSelection `json:"filters"`
	Predicates *discovery.PredicateSet   `json:"predicates,omitempty"`
	Identity   string                    `json:"identity,omitempty"`
}

type sortRequest struct {
	Key   string `json:"key"`
	Order string `json:"order"`
}

func (s *sortRequest) spec() (discovery.SortSpec, error) {
	if s == nil {
		return discovery.DefaultSort, nil
	}
	return discovery.ParseSortSpec(s.Key, s.Order)
}

type sessionResponse struct {
	ID    string          `json:"id"`
	State discovery.State `json:"state"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	spec, err := req.Sort.spec()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Identity == "" {
		req.Identity = r.Header.Get(identityHdr)
	}
	s, err := h.sessions.Create(session.Options{
		Context:    req.Context,
		Sort:       spec,
		Filters:    req.Filters,
		Predicates: req.Predicates,
		Identity:   req.Identity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, http.StatusCreated, sessionResponse{ID: s.ID, State: s.VM.State()})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeOK(w, http.StatusOK, sessionResponse{ID: s.ID, State: s.VM.State()})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) SetContext(w http.ResponseWriter, r *http.Request) {
	var dc discovery.Context
	h.mutate(w, r, &dc, func(s *session.Session) error {
		return s.VM.SetContext(dc)
	})
}

func (h *Handler) SetSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	h.mutate(w, r, &req, func(s *session.Session) error {
		spec, err := req.spec()
		if err != nil {
			return err
		}
		return s.VM.SetSort(spec)
	})
}

func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var sel discovery.FilterSelection
	h.mutate(w, r, &sel, func(s *session.Session) error {
		return s.VM.SetFilters(sel)
	})
}

func (h *Handler) ClearFilters(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(s *session.Session) error {
		return s.VM.ClearFilters()
	})
}

func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(s *session.Session) error {
		return s.VM.Refresh()
	})
}

type refreshRequest struct {
	CourseID  string `json:"courseId"`
	SectionID string `json:"sectionId"`
}

// RefreshAll bumps the refresh epoch of every session, or only of those
// touching the given course or section.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var n int
	if req.CourseID != "" || req.SectionID != "" {
		n = h.sessions.BumpRefreshFor(req.CourseID, req.SectionID)
	} else {
		n = h.sessions.BumpRefresh()
	}
	h.writeOK(w, http.StatusOK, map[string]int{"sessions": n})
}

// InvalidateCache empties the shared section tier. Per-session caches are
// left alone; a session only sees fresh sections after it is recreated.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.shared == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrNotConfigured, http.StatusNotFound, "shared cache not configured"))
		return
	}
	n, err := h.shared.Invalidate(r.Context())
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInternal, http.StatusBadGateway, "invalidating shared cache: %v", err))
		return
	}
	h.logger.Info("shared section cache invalidated", "keys", n)
	h.writeOK(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.catalog.ListSchools(h.backendContext(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, http.StatusOK, schools)
}

func (h *Handler) ListMajors(w http.ResponseWriter, r *http.Request) {
	majors, err := h.catalog.ListMajors(h.backendContext(r), r.URL.Query().Get("schoolId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, http.StatusOK, majors)
}

// Stream upgrades to WebSocket and pushes every snapshot the session
// publishes until either side goes away. Snapshots a slow client cannot
// keep up with are skipped, never queued.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", s.ID, "error", err)
		return
	}
	defer conn.Close()

	states, cancel := s.VM.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			s.Touch()
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read", "session_id", s.ID, "error", err)
				}
				return
			}
			s.Touch()
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case st, open := <-states:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(sessionResponse{ID: s.ID, State: st}); err != nil {
				h.logger.Debug("websocket write", "session_id", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			s.Touch()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// mutate decodes an optional body into into, applies fn to the session and
// answers with the resulting snapshot.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, into any, fn func(*session.Session) error) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if into != nil {
		if err := decode(r, into); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := fn(s); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, http.StatusOK, sessionResponse{ID: s.ID, State: s.VM.State()})
}

// lookup resolves the {id} path value and applies a changed account token.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if tok := r.Header.Get(identityHdr); tok != "" {
		if err := s.VM.SetIdentity(tok); err != nil {
			h.writeError(w, r, err)
			return nil, false
		}
	}
	return s, true
}

func (h *Handler) backendContext(r *http.Request) context.Context {
	return backend.WithIdentity(r.Context(), r.Header.Get(identityHdr))
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperrors.Invalid("malformed request body: %v", err)
	}
	return nil
}

type envelope struct {
	Good  bool   `json:"good"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) writeOK(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, envelope{Good: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, envelope{Good: false, Error: apperrors.Message(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
