package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/songs/65f1c0ffee00000000000001", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	expected := `song_catalog_http_requests_total{method="GET",path="/songs/:id",status="418"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected metrics output to contain %q, got %q", expected, body)
	}
}

func TestSetDefaultRoutesPackageHelpers(t *testing.T) {
	original := Default()
	t.Cleanup(func() {
		SetDefault(original)
	})

	recorder := New()
	SetDefault(recorder)

	ObserveRequest("POST", "/songs", http.StatusCreated, 150*time.Millisecond)
	ObserveSongOperation("create_song", "ok")

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	for _, expected := range []string{
		`song_catalog_http_requests_total{method="POST",path="/songs",status="201"} 1`,
		`song_catalog_song_operations_total{operation="create_song",outcome="ok"} 1`,
	} {
		if !strings.Contains(body, expected) {
			t.Fatalf("expected default recorder output to include %q, got %q", expected, body)
		}
	}
}

func TestHTTPMiddlewareFallsBackToDefault(t *testing.T) {
	original := Default()
	t.Cleanup(func() {
		SetDefault(original)
	})
	recorder := New()
	SetDefault(recorder)

	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), `path="/healthz",status="200"} 1`) {
		t.Fatalf("expected default recorder to observe request, got %q", buf.String())
	}
}

func TestResponseRecorderTracksFirstStatusAndBytes(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	rr.WriteHeader(http.StatusNotFound)
	rr.WriteHeader(http.StatusOK)
	if _, err := rr.Write([]byte(`{"message":"Song not found"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if rr.Status() != http.StatusNotFound {
		t.Fatalf("expected first status to stick, got %d", rr.Status())
	}
	if rr.BytesWritten() != int64(len(`{"message":"Song not found"}`)) {
		t.Fatalf("unexpected byte count %d", rr.BytesWritten())
	}
}
