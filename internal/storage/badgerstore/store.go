// Package badgerstore implements social.IdentityStore and social.ChatStore on an embedded BadgerDB.
//
// Every aggregate is a JSON document under its own key. Badger transactions are optimistic,
// a transaction whose reads were overwritten by a concurrent commit fails with badger.ErrConflict,
// which is reported as social.ErrConflict. Uniqueness is kept with index keys that are read
// before being written, so two racing writers of the same index key conflict as well.
//
// Key layout:
//
//	user:{id}                 user document
//	handle:{lower(handle)}    user id
//	email:{lower(email)}      user id
//	chat:{id}                 chat document
//	pair:{low}:{high}         id of the active private chat of the pair
//	member:{user}:{chat}      empty, lists chats of a user
//	msg:{chat}:{seq}          message document, seq zero padded to 19 digits
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"peerchat/internal/social"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Store defines fields used in BadgerDB interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *badger.DB
	now    func() time.Time
}

// Open opens BadgerDB at path, an empty path opens an in-memory database
func Open(logger *zap.SugaredLogger, path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(zapLogger{logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger.Open: %w", err)
	}

	return New(logger, db), nil
}

// New wraps an already opened database
func New(logger *zap.SugaredLogger, db *badger.DB) *Store {
	return &Store{logger: logger, db: db, now: time.Now}
}

// Close closes underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

type userDoc struct {
	ID           string           `json:"id"`
	Handle       string           `json:"handle"`
	Email        string           `json:"email"`
	PasswordHash string           `json:"passwordHash"`
	Avatar       string           `json:"avatar"`
	Bio          string           `json:"bio"`
	IsOnline     bool             `json:"isOnline"`
	LastSeen     time.Time        `json:"lastSeen"`
	Relations    social.Relations `json:"relations"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	Version      int64            `json:"version"`
}

func toUserDoc(u *social.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Handle:       u.Handle,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Avatar:       u.Avatar,
		Bio:          u.Bio,
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
		Relations:    u.Relations,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		Version:      u.Version,
	}
}

func (d userDoc) user() *social.User {
	return &social.User{
		ID:           d.ID,
		Handle:       d.Handle,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Avatar:       d.Avatar,
		Bio:          d.Bio,
		IsOnline:     d.IsOnline,
		LastSeen:     d.LastSeen,
		Relations:    d.Relations,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Version:      d.Version,
	}
}

func userKey(id string) []byte        { return []byte("user:" + id) }
func handleKey(handle string) []byte  { return []byte("handle:" + strings.ToLower(handle)) }
func emailKey(email string) []byte    { return []byte("email:" + strings.ToLower(email)) }
func chatKey(id string) []byte        { return []byte("chat:" + id) }
func memberPrefix(user string) []byte { return []byte("member:" + user + ":") }
func msgPrefix(chat string) []byte    { return []byte("msg:" + chat + ":") }

func memberKey(user, chat string) []byte {
	return append(memberPrefix(user), chat...)
}

func pairKey(a, b string) []byte {
	low, high := social.PairKey(a, b)
	return []byte("pair:" + low + ":" + high)
}

func msgKey(chat string, seq int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", chat, seq))
}

// update runs fn in a read-write transaction and translates badger errors
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(s.db.Update(fn))
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(s.db.View(fn))
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return social.ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", social.ErrConflict, err)
	default:
		return err
	}
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// exists registers key in the transaction read set even when it is absent
func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Warningf(template string, args ...interface{}) {
	l.Warnf(template, args...)
}
