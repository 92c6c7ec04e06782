package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"song-catalog/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	ApplicationName string
	Timeout         time.Duration
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:            dsn,
		MinConnections: -1,
		Timeout:        defaultOperationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}

const createSongsTable = `CREATE TABLE IF NOT EXISTS songs (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL CHECK (title <> ''),
	artist TEXT NOT NULL CHECK (artist <> ''),
	audio_url TEXT NOT NULL CHECK (audio_url <> ''),
	cover_image TEXT NOT NULL CHECK (cover_image <> ''),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresRepository stores songs as rows in a single songs table. Identifiers
// are UUIDs; text that Postgres cannot cast to a UUID surfaces as a StoreError.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository opens a pool and ensures the songs table exists.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (*PostgresRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if _, err := pool.Exec(setupCtx, createSongsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create songs table: %w", err)
	}

	return &PostgresRepository{pool: pool, timeout: cfg.Timeout}, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) ListSongs(ctx context.Context) ([]models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id::text, title, artist, audio_url, cover_image FROM songs ORDER BY created_at, id`)
	if err != nil {
		return nil, storeError("list songs", err)
	}
	defer rows.Close()

	songs := make([]models.Song, 0)
	for rows.Next() {
		var song models.Song
		if err := rows.Scan(&song.ID, &song.Title, &song.Artist, &song.AudioURL, &song.CoverImage); err != nil {
			return nil, storeError("list songs", err)
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list songs", err)
	}
	return songs, nil
}

func (r *PostgresRepository) CreateSong(ctx context.Context, song models.Song) (models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	song.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO songs (id, title, artist, audio_url, cover_image) VALUES ($1, $2, $3, $4, $5)`,
		song.ID, song.Title, song.Artist, song.AudioURL, song.CoverImage)
	if err != nil {
		return models.Song{}, storeError("create song", err)
	}
	return song, nil
}

func (r *PostgresRepository) GetSong(ctx context.Context, id string) (models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var song models.Song
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, title, artist, audio_url, cover_image FROM songs WHERE id = $1::uuid`, id).
		Scan(&song.ID, &song.Title, &song.Artist, &song.AudioURL, &song.CoverImage)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Song{}, ErrNotFound
	}
	if err != nil {
		return models.Song{}, storeError("get song", err)
	}
	return song, nil
}

func (r *PostgresRepository) UpdateSong(ctx context.Context, id string, song models.Song) (models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var updated models.Song
	err := r.pool.QueryRow(ctx,
		`UPDATE songs SET title = $2, artist = $3, audio_url = $4, cover_image = $5
		 WHERE id = $1::uuid
		 RETURNING id::text, title, artist, audio_url, cover_image`,
		id, song.Title, song.Artist, song.AudioURL, song.CoverImage).
		Scan(&updated.ID, &updated.Title, &updated.Artist, &updated.AudioURL, &updated.CoverImage)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Song{}, ErrNotFound
	}
	if err != nil {
		return models.Song{}, storeError("update song", err)
	}
	return updated, nil
}

func (r *PostgresRepository) DeleteSong(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM songs WHERE id = $1::uuid`, id)
	if err != nil {
		return storeError("delete song", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the pool, giving up when ctx expires first.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
