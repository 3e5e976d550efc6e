package backend

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
)

// Result is the decoded form of the backend's {good, data, error} envelope:
// either Ok carrying data or Err carrying a message.
type Result[T any] struct {
	value T
	msg   string
	ok    bool
}

func Ok[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

func Err[T any](format string, args ...any) Result[T] {
	return Result[T]{msg: fmt.Sprintf(format, args...)}
}

func (r Result[T]) IsOk() bool { return r.ok }

// Get returns the data and true for Ok, or the zero value and false.
func (r Result[T]) Get() (T, bool) { return r.value, r.ok }

// Message is the failure detail of an Err result.
func (r Result[T]) Message() string { return r.msg }

// Unwrap converts the result to Go's (value, error) convention. Err becomes
// a FetchFailed AppError.
func (r Result[T]) Unwrap() (T, error) {
	if !r.ok {
		var zero T
		return zero, apperrors.FetchFailed("%s", r.msg)
	}
	return r.value, nil
}

type envelope[T any] struct {
	Good  bool   `json:"good"`
	Data  T      `json:"data"`
	Error string `json:"error"`
}

// Decode maps an HTTP status and body onto a Result. Non-2xx statuses,
// good=false and undecodable bodies are all failures; the envelope's error
// text is preferred as the message when there is one.
func Decode[T any](status int, body []byte) Result[T] {
	var env envelope[T]
	decodeErr := json.Unmarshal(body, &env)

	if status < 200 || status >= 300 {
		if decodeErr == nil && env.Error != "" {
			return Err[T]("%s", env.Error)
		}
		return Err[T]("backend returned %d %s", status, http.StatusText(status))
	}
	if decodeErr != nil {
		return Err[T]("malformed response: %v", decodeErr)
	}
	if !env.Good {
		if env.Error == "" {
			return Err[T]("request failed")
		}
		return Err[T]("%s", env.Error)
	}
	return Ok(env.Data)
}
