package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNewHealth(t *testing.T) {
	h := newHealth(pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), nil)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.Start(ctx, 10*time.Millisecond)
	t.Cleanup(h.Stop)

	r := chi.NewRouter()
	mountProbes(r, h)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	require.Eventually(t, func() bool {
		return get("/readyz").Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	body := get("/readyz").Body.String()
	assert.Contains(t, body, `"postgres":"connection refused"`)
	assert.Contains(t, body, `"kafka":"no kafka brokers configured"`)

	live := get("/livez")
	assert.Equal(t, http.StatusOK, live.Code)
	assert.JSONEq(t, `{"status":"ok"}`, live.Body.String())
}
