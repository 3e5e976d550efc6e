// Package backend is the typed HTTP client for the notes REST backend. Every
// call runs behind a per-operation circuit breaker, bounded retry, an
// attempt timeout and a shared outbound rate limit.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	"github.com/pucknotes/note-discovery/pkg/config"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
	"github.com/pucknotes/note-discovery/pkg/logger"
	"github.com/pucknotes/note-discovery/pkg/metrics"
	"github.com/pucknotes/note-discovery/pkg/resilience"
)

const maxBodyBytes = 8 << 20

const (
	opListNotes   = "list_notes"
	opGetSection  = "get_section"
	opListSchools = "list_schools"
	opListMajors  = "list_majors"
)

// statusError is a 5xx answer; those are worth retrying.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("backend returned %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("backend returned %d", e.code)
}

type identityKey struct{}

// WithIdentity attaches the caller's account token; the client forwards it
// as a bearer token without interpreting it.
func WithIdentity(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, token)
}

func identity(ctx context.Context) string {
	tok, _ := ctx.Value(identityKey{}).(string)
	return tok
}

type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	breakers map[string]*resilience.CircuitBreaker
	retry    resilience.RetryConfig
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(cfg config.BackendConfig, m *metrics.Metrics, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     2 * time.Second,
			Retryable:    retryable,
		},
		timeout: cfg.RequestTimeout,
		metrics: m,
		logger:  slog.Default().With("component", "backend-client"),
	}
	c.breakers = make(map[string]*resilience.CircuitBreaker)
	for _, op := range []string{opListNotes, opGetSection, opListSchools, opListMajors} {
		c.breakers[op] = resilience.NewCircuitBreaker("backend."+op, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			IsFailure:        retryable,
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable is true for transport failures, attempt timeouts and 5xx
// answers. Cancellation by the caller is final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// ListNotes lists notes for dc, asking the backend to sort by spec.
func (c *Client) ListNotes(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error) {
	q := url.Values{}
	switch dc.Kind {
	case discovery.KindQuery:
		q.Set("query", dc.Query)
	case discovery.KindCourse:
		q.Set("courseID", dc.CourseID)
		q.Set("semesterID", dc.SemesterID)
	case discovery.KindSection:
		q.Set("sectionID", dc.SectionID)
	default:
		return nil, apperrors.Invalid("unknown context kind %q", dc.Kind)
	}
	q.Set("return", "object")
	q.Set("sort", spec.BackendKey())
	q.Set("order", string(spec.Order))

	list, err := fetch[[]notes.Note](ctx, c, opListNotes, "/api/note", q)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []notes.Note{}
	}
	return list, nil
}

func (c *Client) GetSection(ctx context.Context, id string) (notes.Section, error) {
	sec, err := fetch[notes.Section](ctx, c, opGetSection, "/api/section/"+url.PathEscape(id), nil)
	if err != nil {
		return notes.Section{}, err
	}
	if sec.ID == "" {
		sec.ID = id
	}
	return sec, nil
}

func (c *Client) ListSchools(ctx context.Context) ([]notes.School, error) {
	return fetch[[]notes.School](ctx, c, opListSchools, "/api/school", url.Values{"return": {"object"}})
}

// ListMajors lists majors, limited to one school when schoolID is set.
func (c *Client) ListMajors(ctx context.Context, schoolID string) ([]notes.Major, error) {
	q := url.Values{"return": {"object"}}
	if schoolID != "" {
		q.Set("schoolID", schoolID)
	}
	return fetch[[]notes.Major](ctx, c, opListMajors, "/api/major", q)
}

// Ping makes one unguarded request so readiness reflects the backend itself
// rather than breaker state.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.roundTrip(ctx, "/api/school", url.Values{"return": {"object"}})
	if err != nil {
		return err
	}
	if status >= 500 {
		return &statusError{code: status}
	}
	return nil
}

func fetch[T any](ctx context.Context, c *Client, op, path string, q url.Values) (T, error) {
	start := time.Now()
	var res Result[T]
	err := c.breakers[op].Execute(func() error {
		return resilience.Retry(ctx, "backend."+op, c.retry, func() error {
			var (
				status int
				body   []byte
			)
			err := resilience.WithTimeout(ctx, c.timeout, op, func(ctx context.Context) error {
				var err error
				status, body, err = c.roundTrip(ctx, path, q)
				return err
			})
			if err != nil {
				return err
			}
			res = Decode[T](status, body)
			if status >= 500 {
				return &statusError{code: status, msg: res.Message()}
			}
			return nil
		})
	})
	c.metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		outcome := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = "rejected"
		}
		c.metrics.BackendRequests.WithLabelValues(op, outcome).Inc()
		logger.FromContext(ctx).Warn("backend request failed", "operation", op, "path", path, "error", err)
		return zero, apperrors.FetchFailed("%s: %v", op, err)
	}
	if !res.IsOk() {
		c.metrics.BackendRequests.WithLabelValues(op, "refused").Inc()
		c.logger.Debug("backend refused request", "operation", op, "path", path, "message", res.Message())
		return res.Unwrap()
	}
	c.metrics.BackendRequests.WithLabelValues(op, "ok").Inc()
	return res.Unwrap()
}

func (c *Client) roundTrip(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if tok := identity(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}
