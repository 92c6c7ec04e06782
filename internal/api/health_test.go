package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthReportsOKWhenDependenciesRespond(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	handler.Checks = []HealthCheck{{Component: "sessions", Ping: func(context.Context) error { return nil }}}

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != "ok" || len(resp.Components) != 2 {
		t.Fatalf("unexpected health payload %+v", resp)
	}
	if resp.Components[0].Component != "repository" || resp.Components[1].Component != "sessions" {
		t.Fatalf("unexpected component order %+v", resp.Components)
	}
}

func TestHealthDegradesWhenDependencyFails(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	handler.Checks = []HealthCheck{{Component: "sessions", Ping: func(context.Context) error { return errors.New("redis down") }}}

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != "degraded" || resp.Components[1].Error != "redis down" {
		t.Fatalf("unexpected health payload %+v", resp)
	}
}

func TestHealthRejectsWrites(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}
