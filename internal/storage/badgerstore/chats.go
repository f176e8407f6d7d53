package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"

	"peerchat/internal/social"

	"github.com/dgraph-io/badger/v4"
)

// CreateChat stores a new chat, an active private chat is unique per pair of participants
func (s *Store) CreateChat(ctx context.Context, c *social.Chat) error {
	if len(c.Participants) != 2 {
		return social.ErrInvalidTarget
	}

	s.logger.Debugf("Creating chat with users (%v)", c.Participants)

	err := s.update(ctx, func(txn *badger.Txn) error {
		pair := pairKey(c.Participants[0], c.Participants[1])
		if c.Type == social.ChatPrivate && c.IsActive {
			taken, err := exists(txn, pair)
			if err != nil {
				return err
			}
			if taken {
				return social.ErrChatExists
			}
			if err := txn.Set(pair, []byte(c.ID)); err != nil {
				return err
			}
		}

		for _, p := range c.Participants {
			if err := txn.Set(memberKey(p, c.ID), nil); err != nil {
				return err
			}
		}
		return setJSON(txn, chatKey(c.ID), c)
	})
	if errors.Is(err, social.ErrConflict) {
		// the only key read is the pair key, a concurrent create wrote it
		return social.ErrChatExists
	}
	if err != nil {
		return err
	}

	s.logger.Debugf("Created chat with id %s", c.ID)

	return nil
}

// FindChat returns chat header with provided id or social.ErrNotFound
func (s *Store) FindChat(ctx context.Context, id string) (*social.Chat, error) {
	var c social.Chat
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindPrivateChat returns the active private chat of a and b in any order
func (s *Store) FindPrivateChat(ctx context.Context, a, b string) (*social.Chat, error) {
	var c social.Chat
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, pairKey(a, b))
		if err != nil {
			return err
		}
		return getJSON(txn, chatKey(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatsByUser returns active chats of user sorted by the time of the last message (from latest to oldest)
func (s *Store) ChatsByUser(ctx context.Context, user string) ([]social.Chat, error) {
	s.logger.Debugf("Retrieving chats for user (id: %s)", user)

	var chats []social.Chat
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := memberPrefix(user)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}

		for _, id := range ids {
			var c social.Chat
			if err := getJSON(txn, chatKey(id), &c); err != nil {
				return err
			}
			if c.IsActive {
				chats = append(chats, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessage.Timestamp.After(chats[j].LastMessage.Timestamp)
	})

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}

// AppendMessage stores m at the end of the chat log.
// Concurrent appends to the same chat conflict on the chat document and one of them
// fails with social.ErrConflict.
func (s *Store) AppendMessage(ctx context.Context, chatID string, m *social.Message) error {
	var stored social.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		var c social.Chat
		if err := getJSON(txn, chatKey(chatID), &c); err != nil {
			return err
		}
		if !c.IsActive {
			return social.ErrNotFound
		}

		stored = *m
		stored.Seq = int64(c.MessageCount)
		stored.NotBefore(c.LastMessage.Timestamp)
		if err := setJSON(txn, msgKey(chatID, stored.Seq), stored); err != nil {
			return err
		}

		c.MessageCount++
		c.LastMessage = social.LastMessage{Content: stored.Content, Sender: stored.Sender, Timestamp: stored.CreatedAt}
		c.UpdatedAt = stored.CreatedAt
		return setJSON(txn, chatKey(chatID), c)
	})
	if err != nil {
		return err
	}

	*m = stored

	return nil
}

// MessageWindow reads messages [start, end) chosen by w in chronological order
func (s *Store) MessageWindow(ctx context.Context, chatID string, w social.Window) ([]social.Message, int, error) {
	var (
		messages []social.Message
		total    int
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		var c social.Chat
		if err := getJSON(txn, chatKey(chatID), &c); err != nil {
			return err
		}
		total = c.MessageCount

		start, end := w(total)
		if start < 0 {
			start = 0
		}
		if end > total {
			end = total
		}
		if start >= end {
			return nil
		}

		prefix := msgPrefix(chatID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		messages = make([]social.Message, 0, end-start)
		for it.Seek(msgKey(chatID, int64(start))); it.ValidForPrefix(prefix) && len(messages) < end-start; it.Next() {
			var m social.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}
