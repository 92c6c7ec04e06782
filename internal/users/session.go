package users

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"song-catalog/internal/observability/metrics"
)

// SessionStore persists sessions keyed by the SHA-256 digest of the bearer
// token so a leaked store never yields usable tokens.
type SessionStore interface {
	Save(ctx context.Context, record SessionRecord) error
	Get(ctx context.Context, tokenHash string) (SessionRecord, bool, error)
	Delete(ctx context.Context, tokenHash string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
}

// SessionRecord is a stored session.
type SessionRecord struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var (
	// ErrInvalidUserID is returned when creating a session without a user.
	ErrInvalidUserID = errors.New("userID is required")
	errTokenRequired = errors.New("session token required")
)

type SessionOption func(*SessionManager)

func WithSessionStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		if store != nil {
			m.store = store
		}
	}
}

func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

func WithSessionMetrics(recorder *metrics.Recorder) SessionOption {
	return func(m *SessionManager) {
		m.metrics = recorder
	}
}

// SessionManager issues and validates opaque bearer tokens.
type SessionManager struct {
	store        SessionStore
	ttl          time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
	now          func() time.Time
	metrics      *metrics.Recorder
}

// NewSessionManager defaults to a 24 hour TTL and an in-memory store.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	manager := &SessionManager{
		ttl:          ttl,
		tokenLength:  32,
		tokenFactory: generateToken,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create issues a new token for userID and returns it with its expiry.
func (m *SessionManager) Create(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := m.now().Add(m.ttl).UTC()
	record := SessionRecord{TokenHash: hashToken(token), UserID: userID, ExpiresAt: expiresAt}
	if err := m.store.Save(ctx, record); err != nil {
		return "", time.Time{}, err
	}
	if m.metrics != nil {
		m.metrics.SessionOpened()
	}
	return token, expiresAt, nil
}

// Validate returns the user bound to token. Expired sessions are deleted and
// reported as invalid.
func (m *SessionManager) Validate(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	tokenHash := hashToken(token)
	record, ok, err := m.store.Get(ctx, tokenHash)
	if err != nil || !ok {
		return "", false, err
	}
	if m.now().After(record.ExpiresAt) {
		if err := m.store.Delete(ctx, tokenHash); err != nil {
			return "", false, err
		}
		m.sessionClosed()
		return "", false, nil
	}
	return record.UserID, true, nil
}

func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return errTokenRequired
	}
	if err := m.store.Delete(ctx, hashToken(token)); err != nil {
		return err
	}
	m.sessionClosed()
	return nil
}

// PurgeExpired removes expired sessions and reports how many were dropped.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := m.store.PurgeExpired(ctx, m.now())
	if m.metrics != nil {
		for i := 0; i < purged; i++ {
			m.metrics.SessionClosed()
		}
	}
	return purged, err
}

func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Ping(ctx)
}

func (m *SessionManager) sessionClosed() {
	if m.metrics != nil {
		m.metrics.SessionClosed()
	}
}

func hashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
