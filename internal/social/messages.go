package social

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MessageLog appends to and pages through the message log of a chat
type MessageLog struct {
	logger   *zap.SugaredLogger
	users    IdentityStore
	chats    ChatStore
	retry    retrier
	maxLimit int
	now      func() time.Time
}

// NewMessageLog returns MessageLog over provided stores
func NewMessageLog(logger *zap.SugaredLogger, users IdentityStore, chats ChatStore, cfg Config) *MessageLog {
	logger = nopLogger(logger)
	cfg = cfg.withDefaults()
	return &MessageLog{
		logger:   logger,
		users:    users,
		chats:    chats,
		retry:    newRetrier(logger, cfg),
		maxLimit: cfg.MaxPageLimit,
		now:      time.Now,
	}
}

// Append adds a message from sender to the chat and returns it with the sender resolved.
// An empty type stands for MessageText.
func (l *MessageLog) Append(ctx context.Context, chatID, sender, content string, typ MessageType) (*MessageView, error) {
	if typ == "" {
		typ = MessageText
	}
	if !typ.Valid() {
		return nil, ErrInvalidContent
	}

	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrInvalidContent
	}

	l.logger.Debugf("Appending message from %s to chat %s", sender, chatID)

	chat, err := l.chats.FindChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive {
		return nil, ErrNotFound
	}
	if !chat.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}

	var m *Message
	err = l.retry.do(ctx, "append message", func(ctx context.Context) error {
		now := l.now()
		m = &Message{
			Sender:    sender,
			Content:   content,
			Type:      typ,
			ReadBy:    []Receipt{{User: sender, ReadAt: now}},
			CreatedAt: now,
		}
		return l.chats.AppendMessage(ctx, chatID, m)
	})
	if err != nil {
		return nil, err
	}

	profiles, err := resolveProfiles(ctx, l.users, []string{sender})
	if err != nil {
		return nil, err
	}

	l.logger.Debugf("Appended message %d to chat %s", m.Seq, chatID)

	return &MessageView{Message: *m, Sender: profiles[sender]}, nil
}

// Page returns the page-th window of limit messages counted from the newest one.
// Messages of the window are ordered newest first.
func (l *MessageLog) Page(ctx context.Context, chatID, viewer string, page, limit int) (*Page, error) {
	if page < 1 || limit < 1 || limit > l.maxLimit {
		return nil, ErrInvalidPagination
	}

	l.logger.Debugf("Retrieving page %d (limit %d) of chat %s", page, limit, chatID)

	chat, err := l.chats.FindChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive {
		return nil, ErrNotFound
	}
	if !chat.HasParticipant(viewer) {
		return nil, ErrNotParticipant
	}

	messages, total, err := l.chats.MessageWindow(ctx, chatID, func(total int) (int, int) {
		return PageWindow(total, page, limit)
	})
	if err != nil {
		return nil, err
	}
	start, _ := PageWindow(total, page, limit)

	profiles, err := resolveProfiles(ctx, l.users, lo.Map(messages, func(m Message, _ int) string { return m.Sender }))
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		views = append(views, MessageView{Message: messages[i], Sender: profiles[messages[i].Sender]})
	}

	l.logger.Debugf("Retrieved %d of %d messages of chat %s", len(views), total, chatID)

	return &Page{
		Messages: views,
		Page:     page,
		Limit:    limit,
		Total:    total,
		HasMore:  start > 0,
	}, nil
}

// PageWindow returns the chronological range [start, end) holding the page-th newest-first
// window of limit messages in a log of total messages.
// Pages past the end of the log get an empty range.
func PageWindow(total, page, limit int) (start, end int) {
	if total <= 0 || page < 1 || limit < 1 || page-1 > (total-1)/limit {
		return 0, 0
	}

	end = total - (page-1)*limit
	start = end - limit
	if start < 0 {
		start = 0
	}
	return start, end
}
