package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "songs"

// NATSConfig configures the NATS-backed publisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	Timeout       time.Duration
	Logger        *slog.Logger
}

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// NATSPublisher publishes JSON encoded events to <prefix>.<type>, for example
// songs.song.created.
type NATSPublisher struct {
	conn    natsConn
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSPublisher dials the server named by cfg.URL.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "song-catalog"
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSPublisher(conn, cfg.SubjectPrefix, cfg.Timeout, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, timeout time.Duration, logger *slog.Logger) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NATSPublisher{conn: conn, prefix: prefix, timeout: timeout, logger: logger}
}

// Subject returns the subject an event of the given type is published on.
func (p *NATSPublisher) Subject(kind Type) string {
	return p.prefix + "." + string(kind)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt.Type), payload); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes buffered events and drains the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := p.conn.FlushTimeout(p.timeout); err != nil && p.logger != nil {
		p.logger.Warn("nats flush failed", "error", err)
	}
	return p.conn.Drain()
}
