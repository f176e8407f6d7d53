package storage

import (
	"context"
	"errors"
	"time"

	"peerchat/internal/social"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

const chatColumns = `id::text, chat_type, participant_low::text, participant_high::text, is_active, message_count,
				     last_message_content, coalesce(last_message_sender::text, ''), last_message_at, created_at, updated_at`

func scanChat(row pgx.Row) (*social.Chat, error) {
	var (
		c              social.Chat
		typ, low, high string
	)
	err := row.Scan(&c.ID, &typ, &low, &high, &c.IsActive, &c.MessageCount,
		&c.LastMessage.Content, &c.LastMessage.Sender, &c.LastMessage.Timestamp, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	c.Type = social.ChatType(typ)
	c.Participants = []string{low, high}
	return &c, nil
}

// CreateChat creates chat record, a second active private chat for the same pair violates
// chats_private_pair_key and is reported as social.ErrChatExists
func (s *Store) CreateChat(ctx context.Context, c *social.Chat) error {
	if len(c.Participants) != 2 {
		return social.ErrInvalidTarget
	}
	if !validID(c.ID) || !validID(c.Participants[0]) || !validID(c.Participants[1]) {
		return social.ErrNotFound
	}

	s.logger.Debugf("Creating chat with users (%v)", c.Participants)

	low, high := social.PairKey(c.Participants[0], c.Participants[1])
	sql := `insert into chats (id, chat_type, participant_low, participant_high, is_active, last_message_at, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.Exec(ctx, sql, c.ID, string(c.Type), low, high, c.IsActive, c.LastMessage.Timestamp, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return social.ErrChatExists
			case pgerrcode.ForeignKeyViolation:
				return social.ErrNotFound
			}
		}
		return translate(err)
	}

	s.logger.Debugf("Created chat with id %s", c.ID)

	return nil
}

// FindChat returns chat header with provided id or social.ErrNotFound
func (s *Store) FindChat(ctx context.Context, id string) (*social.Chat, error) {
	if !validID(id) {
		return nil, social.ErrNotFound
	}

	sql := "select " + chatColumns + " from chats where id = $1"
	return scanChat(s.db.QueryRow(ctx, sql, id))
}

// FindPrivateChat returns the active private chat of a and b in any order
func (s *Store) FindPrivateChat(ctx context.Context, a, b string) (*social.Chat, error) {
	if !validID(a) || !validID(b) {
		return nil, social.ErrNotFound
	}

	low, high := social.PairKey(a, b)
	sql := `select ` + chatColumns + `
			  from chats
			 where participant_low = $1 and participant_high = $2 and chat_type = 'private' and is_active`
	return scanChat(s.db.QueryRow(ctx, sql, low, high))
}

// ChatsByUser returns a list of active chats of user, sorted by the time of the last message in the chat
// (from latest to oldest)
func (s *Store) ChatsByUser(ctx context.Context, user string) ([]social.Chat, error) {
	s.logger.Debugf("Retrieving chats for user (id: %s)", user)

	if !validID(user) {
		return nil, nil
	}

	sql := `select ` + chatColumns + `
			  from chats
			 where is_active and (participant_low = $1 or participant_high = $1)
			 order by last_message_at desc`
	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var chats []social.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}

// AppendMessage performs two-step transaction to append message
// (1. bump the message counter of the chat row, which locks it; 2. insert message with the previous counter as seq).
// The message time is raised to the last message time of the locked row when it is older.
func (s *Store) AppendMessage(ctx context.Context, chatID string, m *social.Message) error {
	if !validID(chatID) {
		return social.ErrNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return translate(err)
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	sql := `update chats
			   set message_count = message_count + 1,
				   last_message_content = $2,
				   last_message_sender = $3,
				   last_message_at = greatest($4, last_message_at),
				   updated_at = greatest($4, last_message_at)
			 where id = $1 and is_active
			returning message_count - 1, last_message_at`
	var (
		seq int64
		at  time.Time
	)
	err = tx.QueryRow(ctx, sql, chatID, m.Content, m.Sender, m.CreatedAt).Scan(&seq, &at)
	if err != nil {
		return translate(err)
	}

	stored := *m
	stored.NotBefore(at)

	var readBy pgtype.JSONB
	if err := readBy.Set(stored.ReadBy); err != nil {
		return err
	}

	sql = `insert into messages (chat_id, seq, sender_id, content, type, read_by, edited, edited_at, created_at)
		   values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, sql, chatID, seq, stored.Sender, stored.Content, string(stored.Type), readBy, stored.Edited, stored.EditedAt, stored.CreatedAt)
	if err != nil {
		return translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return translate(err)
	}

	stored.Seq = seq
	*m = stored

	return nil
}

// MessageWindow reads the message count and the range chosen by w in one repeatable read transaction,
// messages are sorted by seq (from earliest to latest)
func (s *Store) MessageWindow(ctx context.Context, chatID string, w social.Window) ([]social.Message, int, error) {
	if !validID(chatID) {
		return nil, 0, social.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, translate(err)
	}
	defer tx.Rollback(context.Background())

	var total int
	err = tx.QueryRow(ctx, "select message_count from chats where id = $1", chatID).Scan(&total)
	if err != nil {
		return nil, 0, translate(err)
	}

	start, end := w(total)
	if end < start {
		end = start
	}

	sql := `select seq, sender_id::text, content, type, read_by, edited, edited_at, created_at
			  from messages
			 where chat_id = $1 and seq >= $2 and seq < $3
			 order by seq asc`
	rows, err := tx.Query(ctx, sql, chatID, start, end)
	if err != nil {
		return nil, 0, translate(err)
	}
	defer rows.Close()

	messages := make([]social.Message, 0, end-start)
	for rows.Next() {
		var (
			m      social.Message
			typ    string
			readBy pgtype.JSONB
		)
		err = rows.Scan(&m.Seq, &m.Sender, &m.Content, &typ, &readBy, &m.Edited, &m.EditedAt, &m.CreatedAt)
		if err != nil {
			return nil, 0, translate(err)
		}
		m.Type = social.MessageType(typ)
		if err := readBy.AssignTo(&m.ReadBy); err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, translate(err)
	}

	return messages, total, tx.Commit(ctx)
}
