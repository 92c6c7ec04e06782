package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"song-catalog/internal/events"
	"song-catalog/internal/models"
	"song-catalog/internal/observability/metrics"
	"song-catalog/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, evt := range p.events {
		types = append(types, evt.Type)
	}
	return types
}

// failingRepository reports a datastore failure from every operation.
type failingRepository struct {
	err   error
	calls int
}

func (f *failingRepository) fail(op string) error {
	f.calls++
	return &storage.StoreError{Op: op, Err: f.err}
}

func (f *failingRepository) Ping(context.Context) error { return f.fail("ping") }
func (f *failingRepository) ListSongs(context.Context) ([]models.Song, error) {
	return nil, f.fail("list songs")
}
func (f *failingRepository) CreateSong(context.Context, models.Song) (models.Song, error) {
	return models.Song{}, f.fail("create song")
}
func (f *failingRepository) GetSong(context.Context, string) (models.Song, error) {
	return models.Song{}, f.fail("get song")
}
func (f *failingRepository) UpdateSong(context.Context, string, models.Song) (models.Song, error) {
	return models.Song{}, f.fail("update song")
}
func (f *failingRepository) DeleteSong(context.Context, string) error { return f.fail("delete song") }
func (f *failingRepository) Close(context.Context) error              { return nil }

func newTestHandler(t *testing.T) (*Handler, *storage.MemoryRepository, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryRepository()
	publisher := &recordingPublisher{}
	handler := NewHandler(store, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.Metrics = metrics.New()
	return handler, store, publisher
}

func serveSongs(t *testing.T, h *Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	if target == "/songs" {
		h.Songs(rec, req)
	} else {
		h.SongByID(rec, req)
	}
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func fullInput() map[string]string {
	return map[string]string{"title": "A", "artist": "B", "audioUrl": "u", "coverImage": "c"}
}

func TestCreateThenListReturnsSong(t *testing.T) {
	handler, _, publisher := newTestHandler(t)

	rec := serveSongs(t, handler, http.MethodPost, "/songs", fullInput())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[songMutationResponse](t, rec)
	if created.Message != "Song added successfully" {
		t.Fatalf("unexpected message %q", created.Message)
	}
	if created.Song.ID == "" {
		t.Fatalf("expected created song to carry an id")
	}

	rec = serveSongs(t, handler, http.MethodGet, "/songs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	songs := decodeBody[[]models.Song](t, rec)
	if len(songs) != 1 || songs[0] != created.Song {
		t.Fatalf("expected list to contain created song, got %+v", songs)
	}
	if got := publisher.types(); len(got) != 1 || got[0] != events.SongCreated {
		t.Fatalf("expected one song.created event, got %v", got)
	}
}

func TestListEmptyCatalogReturnsEmptyArray(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := serveSongs(t, handler, http.MethodGet, "/songs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty JSON array, got %q", rec.Body.String())
	}
}

func TestCreateRejectsMissingFieldsWithoutWriting(t *testing.T) {
	handler, store, publisher := newTestHandler(t)

	cases := []struct {
		name    string
		body    interface{}
		missing []string
	}{
		{name: "partial", body: map[string]string{"title": "A", "artist": "B"}, missing: []string{"audioUrl", "coverImage"}},
		{name: "empty string", body: map[string]string{"title": "", "artist": "B", "audioUrl": "u", "coverImage": "c"}, missing: []string{"title"}},
		{name: "empty object", body: "{}", missing: []string{"title", "artist", "audioUrl", "coverImage"}},
		{name: "no body", body: nil, missing: []string{"title", "artist", "audioUrl", "coverImage"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveSongs(t, handler, http.MethodPost, "/songs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			resp := decodeBody[errorResponse](t, rec)
			if resp.Message != "All fields are required" {
				t.Fatalf("unexpected message %q", resp.Message)
			}
			if strings.Join(resp.Fields, ",") != strings.Join(tc.missing, ",") {
				t.Fatalf("expected missing %v, got %v", tc.missing, resp.Fields)
			}
		})
	}

	songs, err := store.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("ListSongs: %v", err)
	}
	if len(songs) != 0 {
		t.Fatalf("expected no songs persisted, got %d", len(songs))
	}
	if len(publisher.types()) != 0 {
		t.Fatalf("expected no events for rejected writes")
	}
}

func TestCreateRejectsUndecodableBody(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	for _, body := range []string{
		`{"title": {"name":"A"}, "artist":"B","audioUrl":"u","coverImage":"c"}`,
		`{"title":`,
		`{"title":"A","artist":"B","audioUrl":"u","coverImage":"c"} trailing`,
		`{"title":"A","artist":"B","audioUrl":"u","coverImage":"c"}{"title":"Z"}`,
	} {
		rec := serveSongs(t, handler, http.MethodPost, "/songs", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected status 400, got %d", body, rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Message != "Invalid request body" || resp.Error == nil {
			t.Fatalf("body %q: unexpected response %+v", body, resp)
		}
	}
}

func TestCreateRejectsTrailingDataWithoutWriting(t *testing.T) {
	handler, repo, publisher := newTestHandler(t)

	rec := serveSongs(t, handler, http.MethodPost, "/songs", `{"title":"A","artist":"B","audioUrl":"u","coverImage":"c"} trailing-garbage`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	songs, err := repo.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	if len(songs) != 0 || len(publisher.types()) != 0 {
		t.Fatalf("expected nothing stored or published, got %d songs", len(songs))
	}
}

func TestCreateStoresScalarFieldsAsText(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := serveSongs(t, handler, http.MethodPost, "/songs", `{"title":5,"artist":true,"audioUrl":"u","coverImage":"c"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[songMutationResponse](t, rec)
	if created.Song.Title != "5" || created.Song.Artist != "true" {
		t.Fatalf("expected scalars stored as text, got %+v", created.Song)
	}

	rec = serveSongs(t, handler, http.MethodPost, "/songs", `{"title":0,"artist":false,"audioUrl":"u","coverImage":"c"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected falsy scalars to be missing, got %d", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "All fields are required" || len(resp.Fields) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateIgnoresUnknownFields(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	body := fullInput()
	body["id"] = "client-chosen"
	body["genre"] = "jazz"

	rec := serveSongs(t, handler, http.MethodPost, "/songs", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	created := decodeBody[songMutationResponse](t, rec)
	if created.Song.ID == "client-chosen" {
		t.Fatalf("expected store-assigned id, got client supplied one")
	}
}

func TestGetUnknownSongReturnsNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := serveSongs(t, handler, http.MethodGet, "/songs/65f1c0ffee00000000000001", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if resp := decodeBody[messageResponse](t, rec); resp.Message != "Song not found" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestMalformedIdentifierIsStoreFailure(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	cases := []struct {
		method  string
		body    interface{}
		message string
	}{
		{method: http.MethodGet, message: "Error fetching song"},
		{method: http.MethodPut, body: fullInput(), message: "Error updating song"},
		{method: http.MethodDelete, message: "Error deleting song"},
	}
	for _, tc := range cases {
		rec := serveSongs(t, handler, tc.method, "/songs/not-an-id", tc.body)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected status 500, got %d", tc.method, rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Message != tc.message {
			t.Fatalf("%s: unexpected message %q", tc.method, resp.Message)
		}
		if resp.Error == nil || resp.Error.Message == "" {
			t.Fatalf("%s: expected embedded error detail, got %+v", tc.method, resp)
		}
	}
}

func TestUpdateReplacesAllFields(t *testing.T) {
	handler, _, publisher := newTestHandler(t)
	created := decodeBody[songMutationResponse](t, serveSongs(t, handler, http.MethodPost, "/songs", fullInput()))

	replacement := map[string]string{"title": "X", "artist": "Y", "audioUrl": "v", "coverImage": "d"}
	rec := serveSongs(t, handler, http.MethodPut, "/songs/"+created.Song.ID, replacement)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[songMutationResponse](t, rec)
	want := models.Song{ID: created.Song.ID, Title: "X", Artist: "Y", AudioURL: "v", CoverImage: "d"}
	if updated.Message != "Song updated successfully" || updated.Song != want {
		t.Fatalf("unexpected update response %+v", updated)
	}

	fetched := decodeBody[models.Song](t, serveSongs(t, handler, http.MethodGet, "/songs/"+created.Song.ID, nil))
	if fetched != want {
		t.Fatalf("expected persisted song %+v, got %+v", want, fetched)
	}
	if got := publisher.types(); len(got) != 2 || got[1] != events.SongUpdated {
		t.Fatalf("expected song.updated event, got %v", got)
	}
}

func TestUpdateWithMissingFieldLeavesRecordUnchanged(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	created := decodeBody[songMutationResponse](t, serveSongs(t, handler, http.MethodPost, "/songs", fullInput()))

	rec := serveSongs(t, handler, http.MethodPut, "/songs/"+created.Song.ID, map[string]string{"title": "X"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	fetched := decodeBody[models.Song](t, serveSongs(t, handler, http.MethodGet, "/songs/"+created.Song.ID, nil))
	if fetched != created.Song {
		t.Fatalf("expected record unchanged, got %+v", fetched)
	}
}

func TestUpdateUnknownSongDoesNotInsert(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	rec := serveSongs(t, handler, http.MethodPut, "/songs/65f1c0ffee00000000000001", fullInput())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	songs, err := store.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("ListSongs: %v", err)
	}
	if len(songs) != 0 {
		t.Fatalf("expected update of unknown id to leave catalog empty, got %d songs", len(songs))
	}
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	handler, _, publisher := newTestHandler(t)
	created := decodeBody[songMutationResponse](t, serveSongs(t, handler, http.MethodPost, "/songs", fullInput()))

	rec := serveSongs(t, handler, http.MethodDelete, "/songs/"+created.Song.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if resp := decodeBody[map[string]interface{}](t, rec); resp["message"] != "Song deleted successfully" || len(resp) != 1 {
		t.Fatalf("expected confirmation message only, got %v", resp)
	}

	if rec := serveSongs(t, handler, http.MethodGet, "/songs/"+created.Song.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
	if rec := serveSongs(t, handler, http.MethodDelete, "/songs/"+created.Song.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected repeated delete to return 404, got %d", rec.Code)
	}
	if got := publisher.types(); len(got) != 2 || got[1] != events.SongDeleted {
		t.Fatalf("expected song.deleted event, got %v", got)
	}
}

func TestStoreFailuresReturnServerErrors(t *testing.T) {
	repo := &failingRepository{err: errors.New("connection refused")}
	handler := NewHandler(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.Metrics = metrics.New()

	cases := []struct {
		method  string
		target  string
		body    interface{}
		message string
		op      string
	}{
		{method: http.MethodGet, target: "/songs", message: "Error fetching songs", op: "list songs"},
		{method: http.MethodPost, target: "/songs", body: fullInput(), message: "Error adding song", op: "create song"},
		{method: http.MethodGet, target: "/songs/65f1c0ffee00000000000001", message: "Error fetching song", op: "get song"},
		{method: http.MethodPut, target: "/songs/65f1c0ffee00000000000001", body: fullInput(), message: "Error updating song", op: "update song"},
		{method: http.MethodDelete, target: "/songs/65f1c0ffee00000000000001", message: "Error deleting song", op: "delete song"},
	}
	for _, tc := range cases {
		rec := serveSongs(t, handler, tc.method, tc.target, tc.body)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: expected status 500, got %d", tc.method, tc.target, rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Message != tc.message {
			t.Fatalf("%s %s: unexpected message %q", tc.method, tc.target, resp.Message)
		}
		if resp.Error == nil || resp.Error.Op != tc.op || resp.Error.Message != "connection refused" {
			t.Fatalf("%s %s: unexpected error detail %+v", tc.method, tc.target, resp.Error)
		}
	}

	counts := handler.Metrics.SongOperationCounts()
	if counts[metrics.OperationLabel{Operation: "get_song", Outcome: "error"}] != 1 {
		t.Fatalf("expected get_song error to be counted, got %v", counts)
	}
}

func TestValidationRunsBeforeStore(t *testing.T) {
	repo := &failingRepository{err: errors.New("unreachable")}
	handler := NewHandler(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.Metrics = metrics.New()

	rec := serveSongs(t, handler, http.MethodPost, "/songs", map[string]string{"title": "A"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	rec = serveSongs(t, handler, http.MethodPut, "/songs/65f1c0ffee00000000000001", map[string]string{"title": "A"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if repo.calls != 0 {
		t.Fatalf("expected store untouched, got %d calls", repo.calls)
	}
}

func TestPublishFailureDoesNotChangeResponse(t *testing.T) {
	handler, store, publisher := newTestHandler(t)
	publisher.err = errors.New("broker offline")

	rec := serveSongs(t, handler, http.MethodPost, "/songs", fullInput())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 despite publish failure, got %d", rec.Code)
	}
	songs, err := store.ListSongs(context.Background())
	if err != nil || len(songs) != 1 {
		t.Fatalf("expected song persisted, got %d songs err=%v", len(songs), err)
	}

	var buf bytes.Buffer
	handler.Metrics.Write(&buf)
	if !strings.Contains(buf.String(), `song_catalog_events_published_total{type="song.created",outcome="error"} 1`) {
		t.Fatalf("expected failed publish to be counted, got %s", buf.String())
	}
}

func TestUnsupportedMethodsReturn405(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := serveSongs(t, handler, http.MethodDelete, "/songs", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Fatalf("unexpected Allow header %q", allow)
	}

	rec = serveSongs(t, handler, http.MethodPatch, "/songs/65f1c0ffee00000000000001", fullInput())
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, PUT, DELETE" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func TestTrailingSlashCollectionBehavesLikeSongs(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := serveSongs(t, handler, http.MethodPost, "/songs/", fullInput())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	rec = serveSongs(t, handler, http.MethodGet, "/songs/", nil)
	if songs := decodeBody[[]models.Song](t, rec); len(songs) != 1 {
		t.Fatalf("expected one song, got %d", len(songs))
	}
}

func TestNestedSongPathIsNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := serveSongs(t, handler, http.MethodGet, "/songs/65f1c0ffee00000000000001/extra", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
