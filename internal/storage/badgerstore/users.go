package badgerstore

import (
	"context"
	"errors"
	"strings"

	"peerchat/internal/social"

	"github.com/dgraph-io/badger/v4"
)

// CreateUser stores a new user with version 1, handle and email are unique ignoring case
func (s *Store) CreateUser(ctx context.Context, u *social.User) error {
	s.logger.Debugf("Creating user (%s)", u.Handle)

	u.Email = strings.ToLower(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.UpdatedAt = u.CreatedAt

	doc := toUserDoc(u)
	doc.Version = 1

	err := s.update(ctx, func(txn *badger.Txn) error {
		taken, err := exists(txn, handleKey(u.Handle))
		if err != nil {
			return err
		}
		if taken {
			return social.ErrHandleTaken
		}

		taken, err = exists(txn, emailKey(u.Email))
		if err != nil {
			return err
		}
		if taken {
			return social.ErrEmailTaken
		}

		if err := txn.Set(handleKey(u.Handle), []byte(u.ID)); err != nil {
			return err
		}
		if err := txn.Set(emailKey(u.Email), []byte(u.ID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(u.ID), doc)
	})
	if errors.Is(err, social.ErrConflict) {
		// another registration wrote the same index keys first
		return social.ErrHandleTaken
	}
	if err != nil {
		return err
	}

	u.Version = doc.Version

	s.logger.Debugf("Created user (%s) with id %s", u.Handle, u.ID)

	return nil
}

// FindByID returns user with provided id or social.ErrNotFound
func (s *Store) FindByID(ctx context.Context, id string) (*social.User, error) {
	var doc userDoc
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc.user(), nil
}

// FindByHandleOrEmail resolves login as an email first and as a handle otherwise
func (s *Store) FindByHandleOrEmail(ctx context.Context, login string) (*social.User, error) {
	var doc userDoc
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, emailKey(login))
		if errors.Is(err, badger.ErrKeyNotFound) {
			id, err = getString(txn, handleKey(login))
		}
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(id), &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc.user(), nil
}

// Save replaces the stored user when its version still equals u.Version
func (s *Store) Save(ctx context.Context, u *social.User) error {
	s.logger.Debugf("Saving user (id: %s, version: %d)", u.ID, u.Version)

	doc := toUserDoc(u)
	doc.Version = u.Version + 1
	doc.UpdatedAt = s.now()

	err := s.update(ctx, func(txn *badger.Txn) error {
		var stored userDoc
		if err := getJSON(txn, userKey(u.ID), &stored); err != nil {
			return err
		}
		if stored.Version != u.Version {
			return social.ErrConflict
		}
		return setJSON(txn, userKey(u.ID), doc)
	})
	if err != nil {
		return err
	}

	u.Version = doc.Version
	u.UpdatedAt = doc.UpdatedAt

	return nil
}

// ExistsConnection reports whether both records list each other as connections
func (s *Store) ExistsConnection(ctx context.Context, a, b string) (bool, error) {
	var connected bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		var ua, ub userDoc
		if err := getJSON(txn, userKey(a), &ua); err != nil {
			return err
		}
		if err := getJSON(txn, userKey(b), &ub); err != nil {
			return err
		}
		connected = ua.user().IsConnected(b) && ub.user().IsConnected(a)
		return nil
	})
	return connected, err
}
