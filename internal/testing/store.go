package testing

import (
	"testing"
	"time"

	"peerchat/internal/social"
	"peerchat/internal/storage/badgerstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewMemStore opens an in-memory badger store closed at the end of the test
func NewMemStore(t testing.TB) *badgerstore.Store {
	t.Helper()

	store, err := badgerstore.Open(zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel)).Sugar(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// CreateUser stores a user with provided handle and a placeholder password hash
func CreateUser(t testing.TB, users social.IdentityStore, handle string) *social.User {
	t.Helper()

	u := &social.User{
		ID:           uuid.NewString(),
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: "-",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, users.CreateUser(t.Context(), u))

	return u
}
