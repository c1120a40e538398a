// Package routestest serves the HTTP routes against the in-memory store.
package routestest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/app"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/server"
)

type Harness struct {
	App   *app.App
	Store *memory.Store
	Echo  *echo.Echo
}

// New builds an app on a fresh memory store and registers its services in a
// container unique to the test.
func New(t *testing.T) *Harness {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	logger := logging.Nop()
	store := memory.New()
	a, err := app.New(context.Background(), cfg, logger, app.Options{InMemory: true, Store: store, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	id := "routes-test-" + uuid.NewString()
	_, err = a.Container(id)
	require.NoError(t, err)

	return &Harness{App: a, Store: store, Echo: server.NewEcho(cfg, logger, id, a.Health)}
}

// Do sends body as JSON. actor, when set, goes in the X-Actor header.
func (h *Harness) Do(t *testing.T, method, path string, body any, actor ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if len(actor) > 0 {
		req.Header.Set(middleware.HeaderActor, actor[0])
	}
	rec := httptest.NewRecorder()
	h.Echo.ServeHTTP(rec, req)
	return rec
}

func Decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// Message reads the error body written by the error middleware.
func Message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return Decode[middleware.ErrorResponse](t, rec).Message
}
