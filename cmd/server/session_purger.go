package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// sessionPurger drops /user sign-in sessions whose TTL has passed.
type sessionPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }

func (t timeTicker) Stop() { t.ticker.Stop() }

type tickerFactory func(time.Duration) purgeTicker

// startSessionPurgeWorker sweeps expired sign-in sessions until ctx ends and
// returns a func that stops the sweep and waits for it.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	return startSessionPurgeWorkerWithTicker(ctx, logger, sessions, interval, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSessionPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sessions sessionPurger,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("sweep_interval", interval.String())

	sweepCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		sweepSessions(sweepCtx, logger, sessions, ticker)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweepSessions(ctx context.Context, logger *slog.Logger, sessions sessionPurger, ticker purgeTicker) {
	total := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug("session sweep stopped", "sessions_purged_total", total)
			return
		case <-ticker.C():
			purged, err := sessions.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("sign-in session sweep failed", "error", err)
				}
				continue
			}
			total += purged
			if purged > 0 {
				logger.Debug("expired sign-in sessions dropped", "sessions_purged", purged, "sessions_purged_total", total)
			}
		}
	}
}
