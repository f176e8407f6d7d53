package social_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"peerchat/internal/social"
	mytesting "peerchat/internal/testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testConfig = social.Config{
	RetryAttempts: 50,
	RetryBackoff:  time.Millisecond,
	MaxPageLimit:  100,
}

type env struct {
	users    social.IdentityStore
	chats    social.ChatStore
	graph    *social.ConnectionGraph
	dir      *social.ChatDirectory
	messages *social.MessageLog
	presence *social.Presence
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := mytesting.NewMemStore(t)
	return newEnvWith(t, store, store)
}

func newEnvWith(t *testing.T, users social.IdentityStore, chats social.ChatStore) *env {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	return &env{
		users:    users,
		chats:    chats,
		graph:    social.NewConnectionGraph(logger, users, testConfig),
		dir:      social.NewChatDirectory(logger, users, chats, testConfig),
		messages: social.NewMessageLog(logger, users, chats, testConfig),
		presence: social.NewPresence(logger, users, testConfig),
	}
}

func (e *env) user(t *testing.T) *social.User {
	t.Helper()
	return mytesting.CreateUser(t, e.users, mytesting.RandHandle())
}

func (e *env) reload(t *testing.T, id string) *social.User {
	t.Helper()
	u, err := e.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *env) connect(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.graph.SendRequest(ctx, a, b))
	status, err := e.graph.RespondToRequest(ctx, b, a, social.ActionAccept)
	require.NoError(t, err)
	require.Equal(t, social.StatusConnected, status)
}

// requireSymmetric checks that the records of a and b describe the same relationship
func (e *env) requireSymmetric(t *testing.T, a, b string) {
	t.Helper()

	ua, ub := e.reload(t, a), e.reload(t, b)
	require.Equal(t, ua.IsConnected(b), ub.IsConnected(a), "connections of %s and %s differ", a, b)
	require.Equal(t, ua.HasSentTo(b), ub.HasReceivedFrom(a), "request %s -> %s is not mirrored", a, b)
	require.Equal(t, ub.HasSentTo(a), ua.HasReceivedFrom(b), "request %s -> %s is not mirrored", b, a)
	if ua.IsConnected(b) {
		require.False(t, ua.HasSentTo(b) || ua.HasReceivedFrom(b) || ub.HasSentTo(a) || ub.HasReceivedFrom(a),
			"connected users %s and %s still have pending requests", a, b)
	}
	require.False(t, ua.HasSentTo(b) && ua.HasReceivedFrom(b), "requests of %s and %s cross", a, b)
}

// failingUsers fails Save of the record with id target with err while failures remain
type failingUsers struct {
	social.IdentityStore
	target   string
	err      error
	failures atomic.Int32
	saves    atomic.Int32
}

func (f *failingUsers) Save(ctx context.Context, u *social.User) error {
	f.saves.Add(1)
	if u.ID == f.target && f.failures.Add(-1) >= 0 {
		return f.err
	}
	return f.IdentityStore.Save(ctx, u)
}
