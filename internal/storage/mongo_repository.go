package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"song-catalog/internal/models"
)

// MongoConfig describes how the MongoDB repository connects and which
// collection holds the catalog.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

func newMongoConfig(uri string, opts ...Option) MongoConfig {
	cfg := MongoConfig{
		URI:        uri,
		Database:   defaultMongoDatabase,
		Collection: defaultMongoCollection,
		Timeout:    defaultOperationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMongo(&cfg)
		}
	}
	return cfg
}

// songDocument is the persisted shape of a song.
type songDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Title      string             `bson:"title"`
	Artist     string             `bson:"artist"`
	AudioURL   string             `bson:"audioUrl"`
	CoverImage string             `bson:"coverImage"`
}

func (d songDocument) song() models.Song {
	return models.Song{
		ID:         d.ID.Hex(),
		Title:      d.Title,
		Artist:     d.Artist,
		AudioURL:   d.AudioURL,
		CoverImage: d.CoverImage,
	}
}

func songFields(song models.Song) bson.M {
	return bson.M{
		"title":      song.Title,
		"artist":     song.Artist,
		"audioUrl":   song.AudioURL,
		"coverImage": song.CoverImage,
	}
}

// MongoRepository stores songs as documents in a MongoDB collection.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoRepository connects to MongoDB and verifies the deployment answers a
// ping before returning.
func NewMongoRepository(ctx context.Context, uri string, opts ...Option) (*MongoRepository, error) {
	cfg := newMongoConfig(uri, opts...)
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return NewMongoRepositoryFromClient(client, cfg), nil
}

// NewMongoRepositoryFromClient wraps an already connected client.
func NewMongoRepositoryFromClient(client *mongo.Client, cfg MongoConfig) *MongoRepository {
	if cfg.Database == "" {
		cfg.Database = defaultMongoDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultMongoCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOperationTimeout
	}
	return &MongoRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}
}

// Database exposes the database handle so sibling stores can share the
// connection.
func (r *MongoRepository) Database() *mongo.Database {
	return r.collection.Database()
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx, nil)
}

func (r *MongoRepository) ListSongs(ctx context.Context) ([]models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cur, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, storeError("list songs", err)
	}
	defer cur.Close(ctx)

	songs := make([]models.Song, 0)
	for cur.Next(ctx) {
		var doc songDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeError("list songs", err)
		}
		songs = append(songs, doc.song())
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("list songs", err)
	}
	return songs, nil
}

func (r *MongoRepository) CreateSong(ctx context.Context, song models.Song) (models.Song, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc := songDocument{
		ID:         primitive.NewObjectID(),
		Title:      song.Title,
		Artist:     song.Artist,
		AudioURL:   song.AudioURL,
		CoverImage: song.CoverImage,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return models.Song{}, storeError("create song", err)
	}
	return doc.song(), nil
}

func (r *MongoRepository) GetSong(ctx context.Context, id string) (models.Song, error) {
	objectID, err := parseObjectID("get song", id)
	if err != nil {
		return models.Song{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var doc songDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Song{}, ErrNotFound
	}
	if err != nil {
		return models.Song{}, storeError("get song", err)
	}
	return doc.song(), nil
}

func (r *MongoRepository) UpdateSong(ctx context.Context, id string, song models.Song) (models.Song, error) {
	objectID, err := parseObjectID("update song", id)
	if err != nil {
		return models.Song{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(false)
	var doc songDocument
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, bson.M{"$set": songFields(song)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Song{}, ErrNotFound
	}
	if err != nil {
		return models.Song{}, storeError("update song", err)
	}
	return doc.song(), nil
}

func (r *MongoRepository) DeleteSong(ctx context.Context, id string) error {
	objectID, err := parseObjectID("delete song", id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		return storeError("delete song", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

func parseObjectID(op, id string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, storeError(op, fmt.Errorf("cast %q to ObjectId: %w", id, err))
	}
	return objectID, nil
}
