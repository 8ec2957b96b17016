package http

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/habitbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/habitbridge-backend/internal/http/middleware"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/services"
)

type okHealth struct{}

func (okHealth) Check(context.Context) *services.HealthReport {
	return &services.HealthReport{Status: services.HealthOK, Database: services.HealthOK}
}

func TestRouterWiring(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	m := observability.NewMetrics()
	r := NewRouter(RouterConfig{
		Log:           log,
		Metrics:       m,
		AdminAuth:     httpMW.NewAdminAuth(log, "secret"),
		HealthHandler: httpH.NewHealthHandler(okHealth{}),
		AdminHandler:  httpH.NewAdminHandler(log, nil, m),
	})

	routes := map[string]bool{}
	for _, ri := range r.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{"GET /healthcheck", "GET /health", "GET /admin/dead-letters", "POST /admin/dead-letters/:id/replay"} {
		if !routes[want] {
			t.Fatalf("route %s not registered: %v", want, routes)
		}
	}
	if routes["POST /webhooks/legacy"] {
		t.Fatalf("webhook route registered without a handler")
	}

	req := httptest.NewRequest(nethttp.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != nethttp.StatusOK || rec.Header().Get("X-Request-Id") != "req-1" || rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("health: %d headers=%v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/admin/dead-letters", nil))
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("admin without token: %d", rec.Code)
	}
	if m.ApiRequests("GET", "/admin/dead-letters", "401") != 1 {
		t.Fatalf("request metrics not recorded")
	}
}
