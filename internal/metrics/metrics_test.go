package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(decodes.WithLabelValues("sse", "ok"))
	ObserveDecode("sse", "ok")
	if got := testutil.ToFloat64(decodes.WithLabelValues("sse", "ok")); got != before+1 {
		t.Fatalf("expected decode counter %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(matches.WithLabelValues("embedding_failure"))
	ObserveMatch("embedding_failure", 150*time.Millisecond)
	if got := testutil.ToFloat64(matches.WithLabelValues("embedding_failure")); got != before+1 {
		t.Fatalf("expected match counter %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(embedCache.WithLabelValues("hit"))
	ObserveCache("hit")
	if got := testutil.ToFloat64(embedCache.WithLabelValues("hit")); got != before+1 {
		t.Fatalf("expected cache counter %v, got %v", before+1, got)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(Middleware())
	engine.GET("/api/jobs", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/jobs", "200"))
	unmatched := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404"))

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/jobs", "200")); got != before+1 {
		t.Fatalf("expected request counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")); got != unmatched+1 {
		t.Fatalf("expected unmatched counter %v, got %v", unmatched+1, got)
	}
}
