package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/secassist/internal/api/handler"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/llm/local"
	"github.com/Rrens/secassist/internal/service"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	response := decodeEnvelope(t, rec)
	if response["success"] != true {
		t.Error("expected success to be true")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}

	if data["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", data["status"])
	}
}

func TestReadyCheck(t *testing.T) {
	tests := []struct {
		name   string
		ping   error
		status int
	}{
		{name: "storage reachable", status: http.StatusOK},
		{name: "storage down", ping: errors.New("connection refused"), status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.ReadyCheck(pingFunc(func(ctx context.Context) error { return tt.ping }))
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			response := decodeEnvelope(t, rec)
			if (response["success"] == true) != (tt.ping == nil) {
				t.Errorf("unexpected success flag %v", response["success"])
			}
		})
	}
}

func TestListProviders(t *testing.T) {
	router := llm.NewRouter("local")
	router.RegisterProvider(local.NewProvider())

	rec := httptest.NewRecorder()
	handler.ListProviders(router)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	response := decodeEnvelope(t, rec)
	data := response["data"].(map[string]any)
	if data["default_provider"] != "local" {
		t.Errorf("expected default provider 'local', got %v", data["default_provider"])
	}

	providers, ok := data["providers"].([]any)
	if !ok || len(providers) != 1 {
		t.Fatalf("expected one provider, got %v", data["providers"])
	}
	info := providers[0].(map[string]any)
	if info["configured"] != true || info["default"] != true {
		t.Errorf("unexpected provider info %v", info)
	}
}

func TestEventHub_NotifyWithoutSubscribers(t *testing.T) {
	hub := handler.NewEventHub()
	// must not block or panic
	hub.Notify(service.Notice{Level: service.NoticeInfo, Message: "nobody listening"})
}
