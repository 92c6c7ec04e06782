package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"song-catalog/internal/observability/logging"
)

// loggingWithRequest returns a logger annotated with the request ID from the
// context plus the path and resolved client IP.
func loggingWithRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if r == nil {
		return base
	}
	logger := logging.FromContext(r.Context(), base)
	return logger.With("path", r.URL.Path, "remote_ip", extractClientIP(r))
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
