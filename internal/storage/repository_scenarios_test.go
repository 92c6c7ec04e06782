package storage

import (
	"context"
	"errors"
	"sort"
	"testing"

	"song-catalog/internal/models"
)

// RepositoryFactory constructs a repository for cross-datastore scenario
// assertions. The returned cleanup func may be nil.
type RepositoryFactory func(t *testing.T) (Repository, func(), error)

func runRepository(t *testing.T, factory RepositoryFactory) Repository {
	t.Helper()
	if factory == nil {
		t.Fatal("repository factory is required")
	}
	repo, cleanup, err := factory(t)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil {
		t.Fatal("repository factory returned nil repository")
	}
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return repo
}

func sampleSong(suffix string) models.Song {
	return models.Song{
		Title:      "Title " + suffix,
		Artist:     "Artist " + suffix,
		AudioURL:   "https://cdn.example.com/audio/" + suffix + ".mp3",
		CoverImage: "https://cdn.example.com/covers/" + suffix + ".jpg",
	}
}

func sameFields(a, b models.Song) bool {
	return a.Title == b.Title && a.Artist == b.Artist && a.AudioURL == b.AudioURL && a.CoverImage == b.CoverImage
}

// RunRepositorySongLifecycle creates, reads, replaces, and deletes a song.
func RunRepositorySongLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	created, err := repo.CreateSong(ctx, sampleSong("one"))
	if err != nil {
		t.Fatalf("create song: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected created song to carry an id")
	}
	if !sameFields(created, sampleSong("one")) {
		t.Fatalf("created song fields changed: %+v", created)
	}

	fetched, err := repo.GetSong(ctx, created.ID)
	if err != nil {
		t.Fatalf("get song: %v", err)
	}
	if fetched != created {
		t.Fatalf("expected %+v, got %+v", created, fetched)
	}

	replacement := sampleSong("two")
	updated, err := repo.UpdateSong(ctx, created.ID, replacement)
	if err != nil {
		t.Fatalf("update song: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("update changed id from %s to %s", created.ID, updated.ID)
	}
	if !sameFields(updated, replacement) {
		t.Fatalf("update did not replace fields: %+v", updated)
	}
	fetched, err = repo.GetSong(ctx, created.ID)
	if err != nil {
		t.Fatalf("get updated song: %v", err)
	}
	if fetched != updated {
		t.Fatalf("expected stored song %+v, got %+v", updated, fetched)
	}

	if err := repo.DeleteSong(ctx, created.ID); err != nil {
		t.Fatalf("delete song: %v", err)
	}
	if _, err := repo.GetSong(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.DeleteSong(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report ErrNotFound, got %v", err)
	}
}

// RunRepositoryMissingSongs checks not-found outcomes for an identifier the
// backend accepts but has never issued.
func RunRepositoryMissingSongs(t *testing.T, factory RepositoryFactory, unknownID string) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	if _, err := repo.GetSong(ctx, unknownID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := repo.UpdateSong(ctx, unknownID, sampleSong("ghost")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from update, got %v", err)
	}
	if err := repo.DeleteSong(ctx, unknownID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from delete, got %v", err)
	}

	songs, err := repo.ListSongs(ctx)
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	if len(songs) != 0 {
		t.Fatalf("update of unknown id must not insert, found %d songs", len(songs))
	}
}

// RunRepositoryMalformedIdentifiers checks that identifiers the backend
// cannot parse are reported as store failures rather than not-found.
func RunRepositoryMalformedIdentifiers(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()
	const bad = "not-an-id"

	if _, err := repo.GetSong(ctx, bad); !IsStoreError(err) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected store error from get, got %v", err)
	}
	if _, err := repo.UpdateSong(ctx, bad, sampleSong("x")); !IsStoreError(err) {
		t.Fatalf("expected store error from update, got %v", err)
	}
	if err := repo.DeleteSong(ctx, bad); !IsStoreError(err) {
		t.Fatalf("expected store error from delete, got %v", err)
	}
}

// RunRepositoryListMatchesPersisted verifies list returns every stored song
// exactly once.
func RunRepositoryListMatchesPersisted(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	songs, err := repo.ListSongs(ctx)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if songs == nil || len(songs) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", songs)
	}

	want := make(map[string]models.Song)
	for _, suffix := range []string{"a", "b", "c", "d"} {
		song, err := repo.CreateSong(ctx, sampleSong(suffix))
		if err != nil {
			t.Fatalf("create %s: %v", suffix, err)
		}
		want[song.ID] = song
	}
	var removed string
	for id := range want {
		removed = id
		break
	}
	if err := repo.DeleteSong(ctx, removed); err != nil {
		t.Fatalf("delete: %v", err)
	}
	delete(want, removed)

	songs, err = repo.ListSongs(ctx)
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	if len(songs) != len(want) {
		t.Fatalf("expected %d songs, got %d", len(want), len(songs))
	}
	seen := make(map[string]bool)
	for _, song := range songs {
		if seen[song.ID] {
			t.Fatalf("duplicate song %s in list", song.ID)
		}
		seen[song.ID] = true
		expected, ok := want[song.ID]
		if !ok {
			t.Fatalf("unexpected song %s in list", song.ID)
		}
		if song != expected {
			t.Fatalf("expected %+v, got %+v", expected, song)
		}
	}
}

func sortedIDs(songs []models.Song) []string {
	ids := make([]string, 0, len(songs))
	for _, song := range songs {
		ids = append(ids, song.ID)
	}
	sort.Strings(ids)
	return ids
}
