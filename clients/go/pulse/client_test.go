package pulse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCallerHeader(t *testing.T) {
	var gotCaller, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get(CallerHeader)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotBody = body["content"]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Message{ID: "01A", Content: body["content"]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user-1")
	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "user-1", gotCaller)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "01A", msg.ID)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations/busy/messages":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"temporarily unavailable"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"not allowed"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user-1")

	_, err := c.ListMessages(context.Background(), "busy", 10)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)

	_, err = c.ListMessages(context.Background(), "other", 10)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "not allowed", apiErr.Message)
	assert.False(t, IsRetryable(err))
}

func TestPollerEmitsEachItemOnce(t *testing.T) {
	var mu sync.Mutex
	windows := [][]string{
		{"a", "b"},
		{"a", "b", "c"},
		{"b", "c", "d"},
	}
	call := 0
	fetch := func(ctx context.Context) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		w := windows[len(windows)-1]
		if call < len(windows) {
			w = windows[call]
		}
		call++
		return w, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	p := &Poller[string]{
		Interval: 5 * time.Millisecond,
		Fetch:    fetch,
		Key:      func(s string) string { return s },
	}
	err := p.Run(ctx, func(s string) {
		got = append(got, s)
		if len(got) == 4 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestPollerSkipBacklog(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return []string{"old"}, nil
		}
		return []string{"old", "new"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	p := &Poller[string]{
		Interval:    5 * time.Millisecond,
		Fetch:       fetch,
		Key:         func(s string) string { return s },
		SkipBacklog: true,
	}
	p.Run(ctx, func(s string) {
		got = append(got, s)
		cancel()
	})

	assert.Equal(t, []string{"new"}, got)
}
