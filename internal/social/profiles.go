package social

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const resolveConcurrency = 8

// resolveProfiles looks up the public profiles of ids concurrently.
// Users that can not be found resolve to a profile carrying only the id.
func resolveProfiles(ctx context.Context, users IdentityStore, ids []string) (map[string]Profile, error) {
	ids = lo.Uniq(ids)
	out := make(map[string]Profile, len(ids))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			p := Profile{ID: id}
			u, err := users.FindByID(gctx, id)
			switch {
			case err == nil:
				p = u.Profile()
			case !errors.Is(err, ErrNotFound):
				return err
			}

			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadPair reads two user records concurrently.
// A missing second user is reported as missingB when it is not nil.
func loadPair(ctx context.Context, users IdentityStore, a, b string, missingB error) (*User, *User, error) {
	var ua, ub *User

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := users.FindByID(gctx, a)
		ua = u
		return err
	})
	g.Go(func() error {
		u, err := users.FindByID(gctx, b)
		if errors.Is(err, ErrNotFound) && missingB != nil {
			return missingB
		}
		ub = u
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ua, ub, nil
}

func nopLogger(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
