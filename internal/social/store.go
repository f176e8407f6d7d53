package social

import "context"

// IdentityStore persists user aggregates.
// Save is a compare-and-swap on User.Version: it fails with ErrConflict when the stored record
// has another version, and increments u.Version on success.
type IdentityStore interface {
	CreateUser(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByHandleOrEmail(ctx context.Context, login string) (*User, error)
	Save(ctx context.Context, u *User) error
	ExistsConnection(ctx context.Context, a, b string) (bool, error)
}

// Window maps the number of messages in a log to the chronological range [start, end) to read
type Window func(total int) (start, end int)

// ChatStore persists chat aggregates and their append-only message logs.
type ChatStore interface {
	// CreateChat fails with ErrChatExists when an active private chat already exists for the pair
	CreateChat(ctx context.Context, c *Chat) error
	FindChat(ctx context.Context, id string) (*Chat, error)
	FindPrivateChat(ctx context.Context, a, b string) (*Chat, error)

	// ChatsByUser returns active chats of user ordered by last message time, latest first
	ChatsByUser(ctx context.Context, user string) ([]Chat, error)

	// AppendMessage atomically assigns m.Seq, stores m and updates the chat's last message
	AppendMessage(ctx context.Context, chatID string, m *Message) error

	// MessageWindow reads the range chosen by w from one consistent snapshot of the log.
	// Messages are returned in chronological order together with the log length.
	MessageWindow(ctx context.Context, chatID string, w Window) ([]Message, int, error)
}
