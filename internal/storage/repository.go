package storage

import (
	"context"
	"errors"
	"fmt"

	"song-catalog/internal/models"
)

// ErrNotFound is returned when a well-formed identifier matches no song.
var ErrNotFound = errors.New("song not found")

// StoreError wraps a failure reported by the backing datastore, including
// identifiers the datastore refuses to parse. It is never a not-found result.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: store failure", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StoreError
	if errors.As(err, &existing) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err originated from the datastore.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// Repository exposes the song catalog operations backed by a datastore. Each
// method returns nil, ErrNotFound, or a *StoreError.
type Repository interface {
	Ping(ctx context.Context) error
	ListSongs(ctx context.Context) ([]models.Song, error)
	CreateSong(ctx context.Context, song models.Song) (models.Song, error)
	GetSong(ctx context.Context, id string) (models.Song, error)
	UpdateSong(ctx context.Context, id string, song models.Song) (models.Song, error)
	DeleteSong(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*MongoRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
