package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"song-catalog/internal/observability/logging"
)

const maxRequestIDLength = 128

type idGenerator func() string

func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, newRequestID, next)
}

// requestIDMiddlewareWithGenerator tags every catalog call with an
// X-Request-Id. A caller supplied ID is reused when it is printable and short;
// otherwise generator mints one. The request context carries the ID and a
// logger scoped to the API surface the path belongs to.
func requestIDMiddlewareWithGenerator(logger *slog.Logger, generator idGenerator, next http.Handler) http.Handler {
	if generator == nil {
		generator = newRequestID
	}
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if !validRequestID(requestID) {
			requestID = generator()
		}
		w.Header().Set("X-Request-Id", requestID)

		scoped := logger.With("surface", apiSurface(r.URL.Path))
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithLogger(ctx, scoped)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

// apiSurface names the route group a path belongs to.
func apiSurface(path string) string {
	switch {
	case path == "/songs" || strings.HasPrefix(path, "/songs/"):
		return "songs"
	case path == "/user" || strings.HasPrefix(path, "/user/"):
		return "user"
	default:
		return "ops"
	}
}

func newRequestID() string {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err == nil {
		return hex.EncodeToString(buffer[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 16)
}
