package social

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Presence tracks whether users are signed in and when they were last seen
type Presence struct {
	logger *zap.SugaredLogger
	users  IdentityStore
	retry  retrier
	now    func() time.Time
}

// NewPresence returns Presence over provided IdentityStore
func NewPresence(logger *zap.SugaredLogger, users IdentityStore, cfg Config) *Presence {
	logger = nopLogger(logger)
	return &Presence{
		logger: logger,
		users:  users,
		retry:  newRetrier(logger, cfg.withDefaults()),
		now:    time.Now,
	}
}

// SetOnline marks user online or offline, stamps LastSeen and returns the saved record
func (p *Presence) SetOnline(ctx context.Context, user string, online bool) (*User, error) {
	var saved *User
	err := p.retry.do(ctx, "set presence", func(ctx context.Context) error {
		u, err := p.users.FindByID(ctx, user)
		if err != nil {
			return err
		}

		u.IsOnline = online
		u.LastSeen = p.now().Round(0)
		if err := p.users.Save(ctx, u); err != nil {
			return err
		}

		saved = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debugf("User %s is online: %t", user, online)

	return saved, nil
}
