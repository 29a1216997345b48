package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServeHTTP_Returns200WithEnvironments(t *testing.T) {
	h := New(func() map[string]EnvironmentStatus {
		return map[string]EnvironmentStatus{
			"prod": {Enabled: true, IsProcessing: true, TotalProcessed: 12, TotalFailed: 1, LastPoll: time.Unix(1700000000, 0)},
			"dev":  {Enabled: true, IsProcessing: false, TotalProcessed: 3, TotalFailed: 0},
		}
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.UptimeSec < 0 {
		t.Errorf("uptime should be non-negative, got %v", body.UptimeSec)
	}
	prod, ok := body.Environments["prod"]
	if !ok {
		t.Fatal("expected prod environment in response")
	}
	if !prod.Enabled || !prod.IsProcessing || prod.TotalProcessed != 12 || prod.TotalFailed != 1 {
		t.Errorf("unexpected prod snapshot: %+v", prod)
	}
	if dev, ok := body.Environments["dev"]; !ok || dev.IsProcessing {
		t.Errorf("unexpected dev snapshot: %+v", dev)
	}
}

func TestServeHTTP_ContentType(t *testing.T) {
	h := New(func() map[string]EnvironmentStatus { return nil })
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRegister_UnknownPathIs404(t *testing.T) {
	h := New(func() map[string]EnvironmentStatus { return nil })
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("GET", "/unknown", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegister_HealthRouteWorks(t *testing.T) {
	h := New(func() map[string]EnvironmentStatus { return map[string]EnvironmentStatus{} })
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
