package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// OperationLabel identifies a catalog operation and how it ended
// (ok, invalid, not_found, error).
type OperationLabel struct {
	Operation string
	Outcome   string
}

// Recorder aggregates in-memory counters and gauges for HTTP traffic, catalog
// operations, change events, and account sessions.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	songOperations  map[OperationLabel]uint64
	publishedEvents map[OperationLabel]uint64
	authEvents      map[string]uint64
	healthValue     map[string]float64
	healthState     map[string]string
	activeSessions  atomic.Int64
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	r := &Recorder{}
	r.resetLocked()
	return r
}

// Default returns the process-wide Recorder used by the package-level helpers.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. A nil recorder is ignored.
func SetDefault(recorder *Recorder) {
	if recorder == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = recorder
	defaultMu.Unlock()
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveSongOperation counts one catalog operation keyed by its outcome.
func (r *Recorder) ObserveSongOperation(operation, outcome string) {
	label := OperationLabel{Operation: normalizeName(operation), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.songOperations[label]++
	r.mu.Unlock()
}

// ObserveEventPublished counts change event deliveries by event type and
// outcome.
func (r *Recorder) ObserveEventPublished(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	label := OperationLabel{Operation: normalizeName(eventType), Outcome: outcome}
	r.mu.Lock()
	r.publishedEvents[label]++
	r.mu.Unlock()
}

// ObserveAuthEvent counts account events such as signup or signin_failed.
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

func (r *Recorder) SessionOpened() {
	r.activeSessions.Add(1)
}

// SessionClosed decrements the session gauge without letting it go negative.
func (r *Recorder) SessionClosed() {
	r.decrementGauge(&r.activeSessions)
}

func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SetDependencyHealth maps a status string to a numeric value (1 ok, 0
// disabled, -1 anything else) and stores both for export.
func (r *Recorder) SetDependencyHealth(service, status string) {
	normalizedService := normalizeName(service)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := -1.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	}
	r.mu.Lock()
	r.healthValue[normalizedService] = value
	r.healthState[normalizedService] = normalizedStatus
	r.mu.Unlock()
}

// SongOperationCounts returns a copy of the catalog operation counters.
func (r *Recorder) SongOperationCounts() map[OperationLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[OperationLabel]uint64, len(r.songOperations))
	for k, v := range r.songOperations {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.activeSessions.Store(0)
}

func (r *Recorder) resetLocked() {
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.songOperations = make(map[OperationLabel]uint64)
	r.publishedEvents = make(map[OperationLabel]uint64)
	r.authEvents = make(map[string]uint64)
	r.healthValue = make(map[string]float64)
	r.healthState = make(map[string]string)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP song_catalog_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE song_catalog_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "song_catalog_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP song_catalog_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE song_catalog_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "song_catalog_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP song_catalog_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE song_catalog_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "song_catalog_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP song_catalog_song_operations_total Catalog operations by outcome")
	fmt.Fprintln(w, "# TYPE song_catalog_song_operations_total counter")
	for _, label := range sortedOperationLabels(r.songOperations) {
		fmt.Fprintf(w, "song_catalog_song_operations_total{operation=\"%s\",outcome=\"%s\"} %d\n", label.Operation, label.Outcome, r.songOperations[label])
	}

	fmt.Fprintln(w, "# HELP song_catalog_events_published_total Change events handed to the publisher by type and outcome")
	fmt.Fprintln(w, "# TYPE song_catalog_events_published_total counter")
	for _, label := range sortedOperationLabels(r.publishedEvents) {
		fmt.Fprintf(w, "song_catalog_events_published_total{type=\"%s\",outcome=\"%s\"} %d\n", label.Operation, label.Outcome, r.publishedEvents[label])
	}

	fmt.Fprintln(w, "# HELP song_catalog_auth_events_total Account events by type")
	fmt.Fprintln(w, "# TYPE song_catalog_auth_events_total counter")
	for _, event := range sortedKeys(r.authEvents) {
		fmt.Fprintf(w, "song_catalog_auth_events_total{event=\"%s\"} %d\n", event, r.authEvents[event])
	}

	fmt.Fprintln(w, "# HELP song_catalog_active_sessions Current number of issued sessions")
	fmt.Fprintln(w, "# TYPE song_catalog_active_sessions gauge")
	fmt.Fprintf(w, "song_catalog_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP song_catalog_dependency_health Health reported by backing services (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE song_catalog_dependency_health gauge")
	for _, service := range sortedKeys(r.healthValue) {
		fmt.Fprintf(w, "song_catalog_dependency_health{service=\"%s\",status=\"%s\"} %f\n", service, r.healthState[service], r.healthValue[service])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedOperationLabels(counts map[OperationLabel]uint64) []OperationLabel {
	labels := make([]OperationLabel, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Operation != labels[j].Operation {
			return labels[i].Operation < labels[j].Operation
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses identifier-like segments to ":id" so per-song
// routes share one label set.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// ObserveSongOperation records a catalog operation on the default recorder.
func ObserveSongOperation(operation, outcome string) {
	Default().ObserveSongOperation(operation, outcome)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return Default().Handler()
}
