package storage

import (
	"strings"
	"time"
)

const (
	defaultMongoDatabase    = "catalog"
	defaultMongoCollection  = "song"
	defaultOperationTimeout = 10 * time.Second
)

// Option customises a repository constructor. Options that do not apply to a
// given driver are ignored by it.
type Option interface {
	applyMongo(*MongoConfig)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	mongo func(*MongoConfig)
	pg    func(*PostgresConfig)
}

func (o optionAdapter) applyMongo(cfg *MongoConfig) {
	if o.mongo != nil && cfg != nil {
		o.mongo(cfg)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(mongo func(*MongoConfig), pg func(*PostgresConfig)) Option {
	return optionAdapter{mongo: mongo, pg: pg}
}

func mongoOnlyOption(mongo func(*MongoConfig)) Option {
	return optionAdapter{mongo: mongo}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithTimeout bounds every datastore call made by the repository.
func WithTimeout(timeout time.Duration) Option {
	return composeOption(
		func(cfg *MongoConfig) {
			if timeout > 0 {
				cfg.Timeout = timeout
			}
		},
		func(cfg *PostgresConfig) {
			if timeout > 0 {
				cfg.Timeout = timeout
			}
		},
	)
}

func WithMongoDatabase(name string) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.Database = trimmed
		}
	})
}

func WithMongoCollection(name string) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.Collection = trimmed
		}
	})
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}
