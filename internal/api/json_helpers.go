package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorDetail struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Message string       `json:"message"`
	Fields  []string     `json:"fields,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSON is an exported helper so sibling routers share response shaping.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	writeJSON(w, status, payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

// WriteMethodNotAllowed advertises the supported methods and replies 405.
func WriteMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
}

var errTrailingData = errors.New("request body must contain a single JSON object")

// decodeJSONAllowUnknown decodes the request body into dest, ignoring fields
// dest does not declare. An absent or empty body leaves dest untouched. The
// body must hold exactly one JSON value.
func decodeJSONAllowUnknown(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// DecodeJSON decodes a single JSON value from the request body into dest.
func DecodeJSON(r *http.Request, dest interface{}) error {
	return decodeJSONAllowUnknown(r, dest)
}
