package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/health"
	"github.com/lingolive/lingolive/internal/resilience"
)

func serve(h *health.Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := health.New(health.Checker{
		Name:  "broken",
		Check: func(context.Context) error { return errors.New("down") },
	})

	w := serve(h, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 regardless of checkers", w.Code)
	}
}

func TestReadyzAllPassing(t *testing.T) {
	h := health.New(
		health.Checker{Name: "a", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)

	w := serve(h, "/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Checks["a"] != "ok" || body.Checks["b"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestReadyzFailingChecker(t *testing.T) {
	h := health.New(
		health.Checker{Name: "database", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	w := serve(h, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("body should carry the failure reason: %s", w.Body.String())
	}
}

func TestCheckerReceivesDeadline(t *testing.T) {
	h := health.New(health.Checker{
		Name: "deadline",
		Check: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline set")
			}
			return nil
		},
	})

	if w := serve(h, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestEngineBreakerChecker(t *testing.T) {
	b := resilience.NewBreaker(resilience.Settings{Threshold: 1, Cooldown: time.Hour})
	chk := health.EngineBreaker(b)

	if err := chk.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker should be ready: %v", err)
	}

	_ = b.Run(func() error { return errors.New("dial failed") })
	if err := chk.Check(context.Background()); err == nil {
		t.Fatal("open breaker should report not ready")
	}
}
