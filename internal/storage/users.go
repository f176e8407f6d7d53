package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"peerchat/internal/social"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

const userColumns = `id::text, handle, email, password_hash, avatar, bio, is_online, last_seen, relations, version, created_at, updated_at`

// CreateUser creates user with version 1, handle and email are unique ignoring case
func (s *Store) CreateUser(ctx context.Context, u *social.User) error {
	s.logger.Debugf("Creating user (%s)", u.Handle)

	if !validID(u.ID) {
		return social.ErrInvalidTarget
	}

	u.Email = strings.ToLower(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = u.CreatedAt

	var relations pgtype.JSONB
	if err := relations.Set(u.Relations); err != nil {
		return err
	}

	sql := `insert into users (id, handle, email, password_hash, avatar, bio, is_online, last_seen, relations, version, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
			returning version`
	err := s.db.QueryRow(ctx, sql,
		u.ID, u.Handle, u.Email, u.PasswordHash, u.Avatar, u.Bio, u.IsOnline, u.LastSeen, relations, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return social.ErrEmailTaken
			default:
				return social.ErrHandleTaken
			}
		}
		return translate(err)
	}

	s.logger.Debugf("Created user (%s) with id %s", u.Handle, u.ID)

	return nil
}

func scanUser(row pgx.Row) (*social.User, error) {
	var (
		u         social.User
		relations pgtype.JSONB
	)
	err := row.Scan(&u.ID, &u.Handle, &u.Email, &u.PasswordHash, &u.Avatar, &u.Bio, &u.IsOnline, &u.LastSeen,
		&relations, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}

	if err := relations.AssignTo(&u.Relations); err != nil {
		return nil, err
	}

	return &u, nil
}

// FindByID returns user with provided id or social.ErrNotFound
func (s *Store) FindByID(ctx context.Context, id string) (*social.User, error) {
	if !validID(id) {
		return nil, social.ErrNotFound
	}

	sql := "select " + userColumns + " from users where id = $1"
	return scanUser(s.db.QueryRow(ctx, sql, id))
}

// FindByHandleOrEmail returns the user whose email or handle equals login ignoring case,
// an email match wins over a handle match
func (s *Store) FindByHandleOrEmail(ctx context.Context, login string) (*social.User, error) {
	sql := `select ` + userColumns + `
			  from users
			 where lower(email) = lower($1) or lower(handle) = lower($1)
			 order by lower(email) = lower($1) desc
			 limit 1`
	return scanUser(s.db.QueryRow(ctx, sql, login))
}

// Save replaces the stored user when its version still equals u.Version
func (s *Store) Save(ctx context.Context, u *social.User) error {
	s.logger.Debugf("Saving user (id: %s, version: %d)", u.ID, u.Version)

	if !validID(u.ID) {
		return social.ErrNotFound
	}

	var relations pgtype.JSONB
	if err := relations.Set(u.Relations); err != nil {
		return err
	}

	var updatedAt time.Time
	sql := `update users
			   set avatar = $3, bio = $4, is_online = $5, last_seen = $6, relations = $7,
				   version = version + 1, updated_at = now()
			 where id = $1 and version = $2
			returning version, updated_at`
	err := s.db.QueryRow(ctx, sql, u.ID, u.Version, u.Avatar, u.Bio, u.IsOnline, u.LastSeen, relations).Scan(&u.Version, &updatedAt)
	if err == nil {
		u.UpdatedAt = updatedAt
		return nil
	}

	err = translate(err)
	if !errors.Is(err, social.ErrNotFound) {
		return err
	}

	// no row matched: either the version moved on or the user does not exist
	var i int8
	err = s.db.QueryRow(ctx, "select 1 from users where id = $1", u.ID).Scan(&i)
	if err != nil {
		return translate(err)
	}
	return social.ErrConflict
}

// ExistsConnection reports whether both records list each other as connections
func (s *Store) ExistsConnection(ctx context.Context, a, b string) (bool, error) {
	ua, err := s.FindByID(ctx, a)
	if err != nil {
		return false, err
	}
	ub, err := s.FindByID(ctx, b)
	if err != nil {
		return false, err
	}
	return ua.IsConnected(b) && ub.IsConnected(a), nil
}
