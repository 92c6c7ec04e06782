package api

import (
	"context"
	"log/slog"

	"song-catalog/internal/events"
	"song-catalog/internal/observability/logging"
	"song-catalog/internal/observability/metrics"
	"song-catalog/internal/storage"
)

// HealthCheck is an additional dependency probed by the health endpoint.
type HealthCheck struct {
	Component string
	Ping      func(ctx context.Context) error
}

type Handler struct {
	Store     storage.Repository
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Checks    []HealthCheck
}

func NewHandler(store storage.Repository, publisher events.Publisher, logger *slog.Logger) *Handler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Publisher: publisher,
		Logger:    logging.WithComponent(logger, "api"),
	}
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.Logger)
}

func (h *Handler) publisher() events.Publisher {
	if h.Publisher == nil {
		return events.NoopPublisher{}
	}
	return h.Publisher
}
