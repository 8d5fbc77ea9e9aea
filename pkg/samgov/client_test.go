package samgov

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/entity/v1/awardee/ABC123DEF456", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"awardee","data":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	body, err := client.Lookup(context.Background(), EndpointEntity, "awardee", "ABC123DEF456")

	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"awardee","data":{}}`, string(body))
}

func TestLookup_EscapesKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entity/v1/awardee/name:acme/VA", r.URL.Path)
		assert.Equal(t, "/entity/v1/awardee/name:acme%2FVA", r.URL.RawPath)
		_, _ = w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL))
	_, err := client.Lookup(context.Background(), EndpointEntity, "awardee", "name:acme/VA")
	require.NoError(t, err)
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Lookup(context.Background(), EndpointAwards, "modifications", "W91-0001")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLookup_StatusClasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`upstream says no`)) //nolint:errcheck
			}))
			defer srv.Close()

			client := NewClient("k", WithBaseURL(srv.URL))
			_, err := client.Lookup(context.Background(), EndpointOpportunities, "solicitation", "SOL-1")

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.transient, se.Transient())
			assert.Contains(t, err.Error(), "upstream says no")
		})
	}
}

func TestLookup_EmptyKey(t *testing.T) {
	t.Parallel()

	client := NewClient("k", WithBaseURL("http://127.0.0.1:0"))
	_, err := client.Lookup(context.Background(), EndpointEntity, "awardee", "")
	require.Error(t, err)
}

func TestLookup_ContextDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Lookup(ctx, EndpointEntity, "awardee", "X")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
