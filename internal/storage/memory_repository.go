package storage

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"song-catalog/internal/models"
)

// MemoryRepository keeps songs in process memory. It hands out the same
// ObjectID-style identifiers as the MongoDB repository and rejects identifiers
// MongoDB could not parse, so handlers observe identical outcomes on both.
type MemoryRepository struct {
	mu    sync.RWMutex
	songs map[string]models.Song
	order []string
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{songs: make(map[string]models.Song)}
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) ListSongs(ctx context.Context) ([]models.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("list songs", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	songs := make([]models.Song, 0, len(r.order))
	for _, id := range r.order {
		songs = append(songs, r.songs[id])
	}
	return songs, nil
}

func (r *MemoryRepository) CreateSong(ctx context.Context, song models.Song) (models.Song, error) {
	if err := ctx.Err(); err != nil {
		return models.Song{}, storeError("create song", err)
	}
	song.ID = primitive.NewObjectID().Hex()
	r.mu.Lock()
	r.songs[song.ID] = song
	r.order = append(r.order, song.ID)
	r.mu.Unlock()
	return song, nil
}

func (r *MemoryRepository) GetSong(ctx context.Context, id string) (models.Song, error) {
	if err := checkMemoryID(ctx, "get song", id); err != nil {
		return models.Song{}, err
	}
	r.mu.RLock()
	song, ok := r.songs[id]
	r.mu.RUnlock()
	if !ok {
		return models.Song{}, ErrNotFound
	}
	return song, nil
}

func (r *MemoryRepository) UpdateSong(ctx context.Context, id string, song models.Song) (models.Song, error) {
	if err := checkMemoryID(ctx, "update song", id); err != nil {
		return models.Song{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.songs[id]; !ok {
		return models.Song{}, ErrNotFound
	}
	song.ID = id
	r.songs[id] = song
	return song, nil
}

func (r *MemoryRepository) DeleteSong(ctx context.Context, id string) error {
	if err := checkMemoryID(ctx, "delete song", id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.songs[id]; !ok {
		return ErrNotFound
	}
	delete(r.songs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) Close(context.Context) error {
	return nil
}

func checkMemoryID(ctx context.Context, op, id string) error {
	if err := ctx.Err(); err != nil {
		return storeError(op, err)
	}
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return storeError(op, fmt.Errorf("cast %q to ObjectId: %w", id, err))
	}
	return nil
}
