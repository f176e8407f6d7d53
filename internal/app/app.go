// Package app assembles configuration, logging and the storage backend for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"peerchat/internal/auth"
	"peerchat/internal/server"
	"peerchat/internal/social"
	"peerchat/internal/storage"
	"peerchat/internal/storage/badgerstore"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Config is the whole configuration of the application, parsed from environment variables
type Config struct {
	Backend    string `env:"BACKEND" envDefault:"postgres"`
	BadgerPath string `env:"BADGER_PATH" envDefault:"data/badger"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	Server  server.EnvConfig
	Storage storage.Config
	Auth    auth.Config
	Social  social.Config
}

// Load reads an optional .env file and parses Config from the environment
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("godotenv.Load: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}

	return cfg, nil
}

// NewLogger returns development logger for debug level and production logger otherwise
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Backend is an opened storage backend
type Backend struct {
	Users social.IdentityStore
	Chats social.ChatStore

	migrate func(ctx context.Context) error
	close   func()
}

// Migrate applies the database schema, it is a no-op for backends without one
func (b *Backend) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return nil
	}
	return b.migrate(ctx)
}

// Close releases the backend
func (b *Backend) Close() {
	b.close()
}

// Open opens the backend selected by cfg.Backend
func Open(ctx context.Context, logger *zap.SugaredLogger, cfg Config) (*Backend, error) {
	switch cfg.Backend {
	case BackendPostgres:
		store, err := storage.New(ctx, logger, cfg.Storage, storage.ConnectionTimeout(30*time.Second))
		if err != nil {
			return nil, fmt.Errorf("storage.New: %w", err)
		}
		return &Backend{Users: store, Chats: store, migrate: store.Migrate, close: store.Close}, nil

	case BackendBadger:
		store, err := badgerstore.Open(logger, cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Users: store,
			Chats: store,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Errorf("closing badger: %v", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
