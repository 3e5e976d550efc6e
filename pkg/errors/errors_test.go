package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorUnwrapsToSentinel(t *testing.T) {
	err := FetchFailed("section %s: status %d", "s1", 500)
	wrapped := fmt.Errorf("enriching: %w", err)

	assert.True(t, Is(wrapped, ErrFetchFailed))
	assert.Equal(t, "section s1: status 500", Message(wrapped))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusCode(wrapped))
}

func TestHTTPStatusCodeFromSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrNotConfigured, http.StatusNotFound},
		{fmt.Errorf("decode: %w", ErrInvalidInput), http.StatusBadRequest},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrTimeout, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}

func TestMessageFallsBackToErrorString(t *testing.T) {
	assert.Equal(t, "plain", Message(fmt.Errorf("plain")))
}
