package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("insufficient_stock", "not enough stock\nfor prd_tea", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"product_id": "prd_tea", "available": 2, "error": "ignored"})

	WriteError(context.Background(), rr, err)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" {
		t.Fatalf("reserved key overridden: %v", body["error"])
	}
	if body["message"] != "not enough stock for prd_tea" {
		t.Fatalf("expected sanitised message, got %v", body["message"])
	}
	if body["product_id"] != "prd_tea" || body["available"].(float64) != 2 {
		t.Fatalf("expected details merged, got %v", body)
	}
	if body["request_id"] != "req-1" {
		t.Fatalf("expected request id, got %v", body["request_id"])
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "",
		1500 * time.Millisecond: "2",
		45 * time.Second:        "45",
	}
	for wait, want := range cases {
		rr := httptest.NewRecorder()
		WriteError(context.Background(), rr, NewError("rate_limited", "slow down", http.StatusTooManyRequests).WithRetryAfter(wait))
		if got := rr.Header().Get("Retry-After"); got != want {
			t.Errorf("wait %s: expected Retry-After %q, got %q", wait, want, got)
		}
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("boom", "", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", err.Status)
	}
}
