// Command server starts the song catalog HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"song-catalog/internal/api"
	"song-catalog/internal/events"
	"song-catalog/internal/observability/logging"
	"song-catalog/internal/observability/metrics"
	"song-catalog/internal/server"
	"song-catalog/internal/storage"
	"song-catalog/internal/users"
)

const (
	envPrefix           = "SONG_CATALOG_"
	defaultListenAddr   = ":5004"
	defaultPurgeEvery   = 10 * time.Minute
	defaultShutdownWait = 10 * time.Second
)

type config struct {
	Addr            string
	StorageDriver   string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration
	PostgresDSN     string
	PostgresMax     int
	PostgresMin     int
	LogLevel        string
	LogFormat       string
	LogFile         string
	TLSCert         string
	TLSKey          string
	RateLimit       server.RateLimitConfig
	SessionStore    string
	SessionRedis    string
	SessionTTL      time.Duration
	NATSURL         string
	NATSPrefix      string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, FilePath: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// parseConfig resolves every setting from flags first, then SONG_CATALOG_*
// environment variables, then the MONGO_URI and PORT variables the service
// has always honoured.
func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	addr := fs.String("addr", "", "HTTP listen address")
	storageDriver := fs.String("storage-driver", "", "datastore driver (memory, mongo, or postgres)")
	mongoURI := fs.String("mongo-uri", "", "MongoDB connection string")
	mongoDatabase := fs.String("mongo-database", "", "MongoDB database name")
	mongoCollection := fs.String("mongo-collection", "", "MongoDB collection holding songs")
	mongoTimeout := fs.Duration("mongo-timeout", 0, "timeout for MongoDB operations")
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := fs.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := fs.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (json or text)")
	logFile := fs.String("log-file", "", "optional path of a rotated log file")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")
	globalRPS := fs.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := fs.Int("rate-global-burst", 0, "global rate limit burst allowance")
	writeLimit := fs.Int("rate-write-limit", 0, "maximum write requests per window for a single IP")
	writeWindow := fs.Duration("rate-write-window", 0, "window for counting write requests")
	redisAddr := fs.String("rate-redis-addr", "", "Redis address for distributed write throttling")
	redisPassword := fs.String("rate-redis-password", "", "Redis password for distributed write throttling")
	sessionStore := fs.String("session-store", "", "session store driver (memory or redis)")
	sessionRedis := fs.String("session-redis-addr", "", "Redis address for the session store")
	sessionTTL := fs.Duration("session-ttl", 0, "lifetime of issued session tokens")
	natsURL := fs.String("nats-url", "", "NATS server URL for catalog change events")
	natsPrefix := fs.String("nats-subject-prefix", "", "subject prefix for catalog change events")
	corsOrigins := fs.String("cors-origins", "", "comma separated browser origins allowed to call the API (default: any origin)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 0, "grace period for in-flight requests on shutdown")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		Addr:            resolveListenAddr(*addr, env("ADDR"), os.Getenv("PORT")),
		MongoURI:        firstNonEmpty(*mongoURI, env("MONGO_URI"), os.Getenv("MONGO_URI")),
		MongoDatabase:   firstNonEmpty(*mongoDatabase, env("MONGO_DATABASE")),
		MongoCollection: firstNonEmpty(*mongoCollection, env("MONGO_COLLECTION")),
		MongoTimeout:    resolveDuration(*mongoTimeout, envPrefix+"MONGO_TIMEOUT", 0),
		PostgresDSN:     firstNonEmpty(*postgresDSN, env("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		PostgresMax:     resolveInt(*postgresMaxConns, envPrefix+"POSTGRES_MAX_CONNS"),
		PostgresMin:     resolveInt(*postgresMinConns, envPrefix+"POSTGRES_MIN_CONNS"),
		LogLevel:        firstNonEmpty(*logLevel, env("LOG_LEVEL"), "info"),
		LogFormat:       firstNonEmpty(*logFormat, env("LOG_FORMAT"), "json"),
		LogFile:         firstNonEmpty(*logFile, env("LOG_FILE")),
		TLSCert:         firstNonEmpty(*tlsCert, env("TLS_CERT")),
		TLSKey:          firstNonEmpty(*tlsKey, env("TLS_KEY")),
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, envPrefix+"RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, envPrefix+"RATE_GLOBAL_BURST"),
			WriteLimit:    resolveInt(*writeLimit, envPrefix+"RATE_WRITE_LIMIT"),
			WriteWindow:   resolveDuration(*writeWindow, envPrefix+"RATE_WRITE_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, env("RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, env("RATE_REDIS_PASSWORD")),
		},
		SessionStore:    strings.ToLower(firstNonEmpty(*sessionStore, env("SESSION_STORE"), "memory")),
		SessionRedis:    firstNonEmpty(*sessionRedis, env("SESSION_REDIS_ADDR")),
		SessionTTL:      resolveDuration(*sessionTTL, envPrefix+"SESSION_TTL", 24*time.Hour),
		NATSURL:         firstNonEmpty(*natsURL, env("NATS_URL")),
		NATSPrefix:      firstNonEmpty(*natsPrefix, env("NATS_SUBJECT_PREFIX")),
		CORSOrigins:     splitAndTrim(firstNonEmpty(*corsOrigins, env("CORS_ORIGINS"))),
		ShutdownTimeout: resolveDuration(*shutdownTimeout, envPrefix+"SHUTDOWN_TIMEOUT", defaultShutdownWait),
	}

	driver, err := resolveStorageDriver(*storageDriver, env("STORAGE_DRIVER"), cfg.MongoURI, cfg.PostgresDSN)
	if err != nil {
		return config{}, err
	}
	cfg.StorageDriver = driver

	switch cfg.SessionStore {
	case "memory":
	case "redis":
		if cfg.SessionRedis == "" {
			return config{}, errors.New("redis session store selected without --session-redis-addr")
		}
	default:
		return config{}, fmt.Errorf("unsupported session store %q", cfg.SessionStore)
	}
	return cfg, nil
}

// run wires the datastore, user accounts, event publisher, and HTTP server
// and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg config, logger *slog.Logger, ready chan<- string) error {
	recorder := metrics.Default()

	repo, userStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}()

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	sessionOpts := []users.SessionOption{users.WithSessionMetrics(recorder)}
	if cfg.SessionStore == "redis" {
		redisSessions, err := users.NewRedisSessionStore(ctx, users.RedisSessionConfig{Addr: cfg.SessionRedis})
		if err != nil {
			return fmt.Errorf("open redis session store: %w", err)
		}
		defer redisSessions.Close()
		sessionOpts = append(sessionOpts, users.WithSessionStore(redisSessions))
	}
	sessions := users.NewSessionManager(cfg.SessionTTL, sessionOpts...)

	songs := api.NewHandler(repo, publisher, logger)
	songs.Metrics = recorder
	accounts := users.NewHandler(userStore, sessions, logger)
	accounts.Metrics = recorder
	songs.Checks = append(songs.Checks, api.HealthCheck{Component: "accounts", Ping: accounts.Ping})

	srv, err := server.New(songs, accounts, server.Config{
		Addr:            cfg.Addr,
		TLS:             server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		RateLimit:       cfg.RateLimit,
		CORS:            server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:          logger,
		Metrics:         recorder,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("configure server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx, ready)
	})
	group.Go(func() error {
		stopPurger := startSessionPurgeWorker(groupCtx, logging.WithComponent(logger, "sessions"), sessions, defaultPurgeEvery)
		<-groupCtx.Done()
		stopPurger()
		return nil
	})
	return group.Wait()
}

func openStorage(ctx context.Context, cfg config, logger *slog.Logger) (storage.Repository, users.UserStore, error) {
	switch cfg.StorageDriver {
	case "memory":
		logger.Warn("using in-memory datastore; data is lost on restart")
		return storage.NewMemoryRepository(), users.NewMemoryUserStore(), nil
	case "mongo":
		opts := []storage.Option{
			storage.WithMongoDatabase(cfg.MongoDatabase),
			storage.WithMongoCollection(cfg.MongoCollection),
			storage.WithTimeout(cfg.MongoTimeout),
		}
		repo, err := storage.NewMongoRepository(ctx, cfg.MongoURI, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo datastore: %w", err)
		}
		userStore, err := users.NewMongoUserStore(ctx, repo.Database(), "users", cfg.MongoTimeout)
		if err != nil {
			_ = repo.Close(ctx)
			return nil, nil, fmt.Errorf("open mongo user store: %w", err)
		}
		logger.Info("connected to MongoDB", "database", repo.Database().Name())
		return repo, userStore, nil
	case "postgres":
		minConns := int32(-1)
		if cfg.PostgresMin > 0 {
			minConns = int32(cfg.PostgresMin)
		}
		repo, err := storage.NewPostgresRepository(ctx, cfg.PostgresDSN,
			storage.WithPostgresPoolLimits(int32(cfg.PostgresMax), minConns),
			storage.WithPostgresApplicationName("song-catalog"),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres datastore: %w", err)
		}
		logger.Info("connected to Postgres")
		return repo, users.NewMemoryUserStore(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func openPublisher(cfg config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}
	publisher, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.NATSPrefix,
		Name:          "song-catalog",
		Logger:        logging.WithComponent(logger, "events"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to drain nats connection", "error", err)
		}
	}, nil
}

func env(key string) string {
	return os.Getenv(envPrefix + key)
}

func resolveListenAddr(flagValue, envValue, port string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	if port = strings.TrimSpace(port); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return defaultListenAddr
}

// resolveStorageDriver honours an explicit driver and otherwise picks the
// backend whose connection string is configured, falling back to memory.
func resolveStorageDriver(flagValue, envValue, mongoURI, postgresDSN string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch driver {
	case "":
	case "memory", "mongo", "postgres":
	case "mongodb":
		driver = "mongo"
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
	if driver == "" {
		switch {
		case strings.TrimSpace(mongoURI) != "":
			driver = "mongo"
		case strings.TrimSpace(postgresDSN) != "":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}
	if driver == "mongo" && strings.TrimSpace(mongoURI) == "" {
		return "", errors.New("mongo storage selected without MONGO_URI or --mongo-uri")
	}
	if driver == "postgres" && strings.TrimSpace(postgresDSN) == "" {
		return "", errors.New("postgres storage selected without DSN")
	}
	return driver, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
