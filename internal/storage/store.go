// Package storage implements social.IdentityStore and social.ChatStore on PostgreSQL.
//
// Users are rows whose relationship sub-state is a single jsonb document, saved with a
// compare-and-swap on the version column. Private chats keep their sorted pair in two columns
// covered by a partial unique index, messages are rows keyed by (chat_id, seq).
package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"

	"peerchat/internal/social"
	"peerchat/internal/storage/zapadapter"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	return Connect(ctx, logger, cfg.DSN(), opts...)
}

// Connect is New for a ready connection string in keyword/value or URL format
func Connect(ctx context.Context, logger *zap.SugaredLogger, dsn string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ConnectConfig: %w", err)
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes all connections in the pool
func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates tables and indexes when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Info("Applying database schema")

	// no arguments, so the simple protocol is used and several statements are allowed
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// validID reports whether id can be stored in a uuid column
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// translate maps driver errors to the storage outcomes defined by package social
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return social.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: %v", social.ErrConflict, err)
		case pgerrcode.AdminShutdown,
			pgerrcode.CrashShutdown,
			pgerrcode.CannotConnectNow,
			pgerrcode.TooManyConnections,
			pgerrcode.QueryCanceled,
			pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.SQLClientUnableToEstablishSQLConnection:
			return fmt.Errorf("%w: %v", social.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", social.ErrTransient, err)
	}

	return err
}
