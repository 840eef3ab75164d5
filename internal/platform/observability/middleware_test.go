package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/salles-management/api/internal/platform/requestctx"
)

func TestRequestLoggerReportsActorRecordedDownstream(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(InjectLoggerMiddleware(zap.New(core)))
	r.Use(RequestLoggerMiddleware("sales-test"))
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, req *http.Request) {
		requestctx.RecordActor(req.Context(), "cust_1", "ACHETEUR")
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion log, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["actor_id"] != "cust_1" || fields["actor_role"] != "ACHETEUR" {
		t.Fatalf("expected actor fields, got %v", fields)
	}
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusNoContent) {
		t.Fatalf("expected status 204, got %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sales", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"internal_server_error"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestTraceMiddlewareHonoursCloudTraceHeader(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("sales-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected upstream trace id, got %s", info.TraceID)
	}
	if info.ProjectID != "sales-test" {
		t.Fatalf("expected project id, got %s", info.ProjectID)
	}
}

func TestTraceMiddlewareFallsBackToTraceparent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/pickup/AB12CD34", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %s", info.TraceID)
	}
	if !info.Sampled {
		t.Fatalf("expected sampled flag from traceparent")
	}
	if got := rr.Header().Get("traceparent"); !strings.Contains(got, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Fatalf("expected traceparent echoed, got %q", got)
	}
	if got := rr.Header().Get(cloudTraceHeader); !strings.HasPrefix(got, "4bf92f3577b34da6a3ce929d0e0e4736/") {
		t.Fatalf("expected cloud trace header, got %q", got)
	}
}

func TestParseCloudTraceContextRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "abc", "short/1", "105445aa7843bc8bf206b12000100000/"} {
		if _, _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestMetricsHandlerExposesRequestCounter(t *testing.T) {
	ctx := context.Background()
	metrics, err := SetupMetrics(ctx, "sales-test")
	if err != nil {
		t.Fatalf("SetupMetrics returned error: %v", err)
	}
	t.Cleanup(func() { _ = metrics.Shutdown(ctx) })

	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "http_server_requests") {
		t.Fatalf("expected request counter in exposition:\n%s", body)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	log := ServiceLogger(zap.New(baseCore))

	log(context.Background(), "inventory.reserved", map[string]any{"productId": "prd_1"})
	log(requestctx.WithLogger(context.Background(), zap.New(reqCore)), "order.created", nil)

	if baseLogs.FilterMessage("inventory.reserved").Len() != 1 {
		t.Fatalf("expected base logger to receive event without request logger")
	}
	if reqLogs.FilterMessage("order.created").Len() != 1 {
		t.Fatalf("expected request logger to receive event")
	}
}
