package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"roomsync/internal/api"
	"roomsync/internal/exec"
	"roomsync/internal/models"
	"roomsync/internal/registry"
	"roomsync/internal/session"
	"roomsync/internal/store"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, string, models.Language) (exec.Result, error) {
	return exec.Result{}, nil
}

func testHandler() http.Handler {
	reg := registry.New()
	router := session.NewRouter(reg)
	hub := session.NewHub(reg, router, store.NewMemory(), nil, noopDispatcher{}, zap.NewNop(), time.Second)
	return New(api.NewHandlers(zap.NewNop(), hub, reg, router, noopDispatcher{}))
}

func TestHealthEndpoints(t *testing.T) {
	server := httptest.NewServer(testHandler())
	defer server.Close()

	for _, path := range []string{"/api/v1/healthz", "/api/v1/readyz", "/api/v1/languages", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
	}
}
