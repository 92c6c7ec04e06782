package server

import (
	"net/http"

	"song-catalog/internal/api"
)

// writeMiddlewareError shapes middleware rejections like catalog errors.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteJSON(w, status, map[string]string{"message": message})
}
