package social

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatDirectory keeps at most one active private chat per unordered pair of users
type ChatDirectory struct {
	logger *zap.SugaredLogger
	users  IdentityStore
	chats  ChatStore
	retry  retrier
	now    func() time.Time
}

// NewChatDirectory returns ChatDirectory over provided stores
func NewChatDirectory(logger *zap.SugaredLogger, users IdentityStore, chats ChatStore, cfg Config) *ChatDirectory {
	logger = nopLogger(logger)
	return &ChatDirectory{
		logger: logger,
		users:  users,
		chats:  chats,
		retry:  newRetrier(logger, cfg.withDefaults()),
		now:    time.Now,
	}
}

// GetOrCreatePrivateChat returns the private chat of userA and userB, creating it when absent.
// The boolean result reports whether the chat was created by this call.
func (d *ChatDirectory) GetOrCreatePrivateChat(ctx context.Context, userA, userB string) (*Chat, bool, error) {
	if userB == "" || userA == userB {
		return nil, false, ErrInvalidTarget
	}

	d.logger.Debugf("Getting private chat of %s and %s", userA, userB)

	var (
		chat    *Chat
		created bool
	)
	err := d.retry.do(ctx, "get or create chat", func(ctx context.Context) error {
		var err error
		chat, created, err = d.getOrCreate(ctx, userA, userB)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		d.logger.Debugf("Created private chat %s of %s and %s", chat.ID, userA, userB)
	}

	return chat, created, nil
}

func (d *ChatDirectory) getOrCreate(ctx context.Context, userA, userB string) (*Chat, bool, error) {
	u, err := d.users.FindByID(ctx, userA)
	if err != nil {
		return nil, false, err
	}
	if !u.IsConnected(userB) {
		return nil, false, ErrNotConnected
	}

	chat, err := d.chats.FindPrivateChat(ctx, userA, userB)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := d.now()
	chat = &Chat{
		ID:           uuid.New().String(),
		Participants: []string{userA, userB},
		Type:         ChatPrivate,
		LastMessage:  LastMessage{Timestamp: now},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = d.chats.CreateChat(ctx, chat)
	if errors.Is(err, ErrChatExists) {
		// lost the race against a concurrent create of the same pair
		existing, err := d.chats.FindPrivateChat(ctx, userA, userB)
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrConflict
		}
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	return chat, true, nil
}

// ListChats returns the active chats of user, latest activity first
func (d *ChatDirectory) ListChats(ctx context.Context, user string) ([]ChatSummary, error) {
	d.logger.Debugf("Listing chats of %s", user)

	chats, err := d.chats.ChatsByUser(ctx, user)
	if err != nil {
		return nil, err
	}

	others := make([]string, 0, len(chats))
	for i := range chats {
		others = append(others, chats[i].OtherParticipant(user))
	}

	profiles, err := resolveProfiles(ctx, d.users, others)
	if err != nil {
		return nil, err
	}

	out := make([]ChatSummary, 0, len(chats))
	for i := range chats {
		out = append(out, ChatSummary{
			ChatID:           chats[i].ID,
			OtherParticipant: profiles[others[i]],
			LastMessage:      chats[i].LastMessage,
			UpdatedAt:        chats[i].UpdatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.Timestamp.After(out[j].LastMessage.Timestamp)
	})

	d.logger.Debugf("Listed %d chats of %s", len(out), user)

	return out, nil
}
