package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"song-catalog/internal/events"
	"song-catalog/internal/models"
	"song-catalog/internal/observability/logging"
	"song-catalog/internal/storage"
)

const (
	msgFetchSongsFailed = "Error fetching songs"
	msgFieldsRequired   = "All fields are required"
	msgInvalidBody      = "Invalid request body"
	msgSongAdded        = "Song added successfully"
	msgAddFailed        = "Error adding song"
	msgSongNotFound     = "Song not found"
	msgFetchSongFailed  = "Error fetching song"
	msgSongUpdated      = "Song updated successfully"
	msgUpdateFailed     = "Error updating song"
	msgSongDeleted      = "Song deleted successfully"
	msgDeleteFailed     = "Error deleting song"
)

const (
	opListSongs  = "list_songs"
	opCreateSong = "create_song"
	opGetSong    = "get_song"
	opUpdateSong = "update_song"
	opDeleteSong = "delete_song"
)

const publishTimeout = 5 * time.Second

type songMutationResponse struct {
	Message string      `json:"message"`
	Song    models.Song `json:"song"`
}

// Songs serves the collection endpoint: GET lists every song and POST creates
// one.
func (h *Handler) Songs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSongs(w, r)
	case http.MethodPost:
		h.createSong(w, r)
	default:
		WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// SongByID serves /songs/{id}. An empty id falls through to the collection.
func (h *Handler) SongByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/songs/")
	id = strings.TrimSuffix(id, "/")
	if id == "" {
		h.Songs(w, r)
		return
	}
	if strings.Contains(id, "/") {
		writeMessage(w, http.StatusNotFound, "Route not found")
		return
	}

	r = r.WithContext(logging.ContextWithSongID(r.Context(), id))
	switch r.Method {
	case http.MethodGet:
		h.getSong(w, r, id)
	case http.MethodPut:
		h.updateSong(w, r, id)
	case http.MethodDelete:
		h.deleteSong(w, r, id)
	default:
		WriteMethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (h *Handler) listSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := h.Store.ListSongs(r.Context())
	if err != nil {
		h.writeStoreFailure(w, r, opListSongs, msgFetchSongsFailed, err)
		return
	}
	if songs == nil {
		songs = []models.Song{}
	}
	h.recorder().ObserveSongOperation(opListSongs, "ok")
	writeJSON(w, http.StatusOK, songs)
}

func (h *Handler) createSong(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeSongInput(w, r, opCreateSong)
	if !ok {
		return
	}
	song, err := h.Store.CreateSong(r.Context(), input.Song())
	if err != nil {
		h.writeStoreFailure(w, r, opCreateSong, msgAddFailed, err)
		return
	}
	h.recorder().ObserveSongOperation(opCreateSong, "ok")
	h.publish(r.Context(), events.New(events.SongCreated, song.ID, &song))
	writeJSON(w, http.StatusCreated, songMutationResponse{Message: msgSongAdded, Song: song})
}

func (h *Handler) getSong(w http.ResponseWriter, r *http.Request, id string) {
	song, err := h.Store.GetSong(r.Context(), id)
	if err != nil {
		h.writeLookupFailure(w, r, opGetSong, msgFetchSongFailed, err)
		return
	}
	h.recorder().ObserveSongOperation(opGetSong, "ok")
	writeJSON(w, http.StatusOK, song)
}

func (h *Handler) updateSong(w http.ResponseWriter, r *http.Request, id string) {
	input, ok := h.decodeSongInput(w, r, opUpdateSong)
	if !ok {
		return
	}
	song, err := h.Store.UpdateSong(r.Context(), id, input.Song())
	if err != nil {
		h.writeLookupFailure(w, r, opUpdateSong, msgUpdateFailed, err)
		return
	}
	h.recorder().ObserveSongOperation(opUpdateSong, "ok")
	h.publish(r.Context(), events.New(events.SongUpdated, song.ID, &song))
	writeJSON(w, http.StatusOK, songMutationResponse{Message: msgSongUpdated, Song: song})
}

func (h *Handler) deleteSong(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.Store.DeleteSong(r.Context(), id); err != nil {
		h.writeLookupFailure(w, r, opDeleteSong, msgDeleteFailed, err)
		return
	}
	h.recorder().ObserveSongOperation(opDeleteSong, "ok")
	h.publish(r.Context(), events.New(events.SongDeleted, id, nil))
	writeMessage(w, http.StatusOK, msgSongDeleted)
}

// decodeSongInput reads and validates the request body. It writes the 400
// response itself and reports false when the request must stop.
func (h *Handler) decodeSongInput(w http.ResponseWriter, r *http.Request, op string) (models.SongInput, bool) {
	var input models.SongInput
	if err := decodeJSONAllowUnknown(r, &input); err != nil {
		h.recorder().ObserveSongOperation(op, "invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: msgInvalidBody,
			Error:   &errorDetail{Message: err.Error()},
		})
		return input, false
	}
	if err := input.Validate(); err != nil {
		h.recorder().ObserveSongOperation(op, "invalid")
		response := errorResponse{Message: msgFieldsRequired}
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			response.Fields = validationErr.Missing
		}
		writeJSON(w, http.StatusBadRequest, response)
		return input, false
	}
	return input, true
}

func (h *Handler) writeLookupFailure(w http.ResponseWriter, r *http.Request, op, message string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		h.recorder().ObserveSongOperation(op, "not_found")
		writeMessage(w, http.StatusNotFound, msgSongNotFound)
		return
	}
	h.writeStoreFailure(w, r, op, message, err)
}

func (h *Handler) writeStoreFailure(w http.ResponseWriter, r *http.Request, op, message string, err error) {
	h.recorder().ObserveSongOperation(op, "error")
	h.logger(r.Context()).Error("catalog operation failed", "operation", op, "error", err)

	detail := &errorDetail{Message: err.Error()}
	var storeErr *storage.StoreError
	if errors.As(err, &storeErr) {
		detail.Op = storeErr.Op
		if storeErr.Err != nil {
			detail.Message = storeErr.Err.Error()
		}
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: message, Error: detail})
}

// publish hands evt to the publisher on a context detached from the request so
// a client disconnect after the write does not drop the notification.
func (h *Handler) publish(ctx context.Context, evt events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := h.publisher().Publish(ctx, evt)
	h.recorder().ObserveEventPublished(string(evt.Type), err)
	if err != nil {
		h.logger(ctx).Warn("publish catalog event failed", "type", evt.Type, "song_id", evt.SongID, "error", err)
	}
}
