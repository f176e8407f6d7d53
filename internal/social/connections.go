package social

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConnectionGraph mutates the relationship sub-state of two user records.
//
// Records are written one at a time, each with a compare-and-swap. The record holding the
// pending marker of an operation is written first when the marker is created (the requester's
// sent request) and last when it is consumed (the responder's received request), so an
// interrupted operation can always be completed by running it again.
type ConnectionGraph struct {
	logger *zap.SugaredLogger
	users  IdentityStore
	retry  retrier
	now    func() time.Time
}

// NewConnectionGraph returns ConnectionGraph over provided IdentityStore
func NewConnectionGraph(logger *zap.SugaredLogger, users IdentityStore, cfg Config) *ConnectionGraph {
	logger = nopLogger(logger)
	return &ConnectionGraph{
		logger: logger,
		users:  users,
		retry:  newRetrier(logger, cfg.withDefaults()),
		now:    time.Now,
	}
}

// SendRequest records a pending connection request from requester to target
func (g *ConnectionGraph) SendRequest(ctx context.Context, requester, target string) error {
	if target == "" || target == requester {
		return ErrInvalidTarget
	}

	g.logger.Debugf("Sending connection request from %s to %s", requester, target)

	var recorded bool
	err := g.retry.do(ctx, "send request", func(ctx context.Context) error {
		return g.sendRequest(ctx, requester, target, &recorded)
	})
	if err != nil {
		return err
	}

	g.logger.Debugf("Sent connection request from %s to %s", requester, target)

	return nil
}

// sendRequest runs one attempt of SendRequest.
// recorded is set once an attempt stored the sent request, so a later attempt finding both
// records written knows the request is its own.
func (g *ConnectionGraph) sendRequest(ctx context.Context, requesterID, targetID string, recorded *bool) error {
	requester, target, err := loadPair(ctx, g.users, requesterID, targetID, ErrInvalidTarget)
	if err != nil {
		return err
	}

	if requester.IsConnected(targetID) {
		return ErrAlreadyConnected
	}

	// the target already asked: fully recorded, or underway and winning the tie on ids
	crossing := requester.HasReceivedFrom(targetID) ||
		(target.HasSentTo(requesterID) && !(requester.HasSentTo(targetID) && requesterID < targetID))
	if crossing {
		changed := false
		if requester.removeSent(targetID) {
			g.logger.Debugf("Withdrawing crossing request from %s to %s", requesterID, targetID)
			changed = true
		}
		if at, ok := target.sentAt(requesterID); ok && requester.addReceived(targetID, at) {
			// the target's request stopped after its first write, complete it here
			g.logger.Debugf("Recording interrupted request from %s to %s", targetID, requesterID)
			changed = true
		}
		if changed {
			if err := g.users.Save(ctx, requester); err != nil {
				return err
			}
		}
		return ErrAlreadyPending
	}

	if requester.HasSentTo(targetID) && target.HasReceivedFrom(requesterID) {
		if *recorded {
			// completed by the target in the meantime
			return nil
		}
		return ErrAlreadyPending
	}

	at := g.now()
	if sentAt, ok := requester.sentAt(targetID); ok {
		// a previous attempt stopped after the first write
		at = sentAt
	} else {
		requester.addSent(targetID, at)
		if err := g.users.Save(ctx, requester); err != nil {
			return err
		}
		*recorded = true
	}

	target.addReceived(requesterID, at)
	return g.users.Save(ctx, target)
}

// RespondToRequest accepts or rejects the request requester sent to responder.
// It returns the relationship status of responder towards requester afterwards.
func (g *ConnectionGraph) RespondToRequest(ctx context.Context, responder, requester string, action Action) (Status, error) {
	if action != ActionAccept && action != ActionReject {
		return "", ErrInvalidAction
	}
	if requester == "" || requester == responder {
		return "", ErrRequestNotFound
	}

	g.logger.Debugf("Responding (%s) to connection request from %s to %s", action, requester, responder)

	var status Status
	err := g.retry.do(ctx, "respond to request", func(ctx context.Context) error {
		s, err := g.respond(ctx, responder, requester, action)
		status = s
		return err
	})
	if err != nil {
		return "", err
	}

	g.logger.Debugf("Responded to connection request from %s to %s, status %s", requester, responder, status)

	return status, nil
}

func (g *ConnectionGraph) respond(ctx context.Context, responderID, requesterID string, action Action) (Status, error) {
	responder, requester, err := loadPair(ctx, g.users, responderID, requesterID, ErrRequestNotFound)
	if err != nil {
		return "", err
	}

	if !responder.HasReceivedFrom(requesterID) {
		return "", ErrRequestNotFound
	}

	// requester first, its sent request may already be gone
	changed := requester.removeSent(responderID)
	if action == ActionAccept {
		changed = requester.connect(responderID) || changed
	}
	if changed {
		if err := g.users.Save(ctx, requester); err != nil {
			return "", err
		}
	}

	responder.removeReceived(requesterID)
	if action == ActionAccept {
		responder.connect(requesterID)
	}
	if err := g.users.Save(ctx, responder); err != nil {
		return "", err
	}

	return responder.StatusWith(requesterID), nil
}

// Status returns the relationship of viewer towards other.
// It is derived from the viewer's record on every call.
func (g *ConnectionGraph) Status(ctx context.Context, viewer, other string) (Status, error) {
	if other == "" || other == viewer {
		return "", ErrInvalidTarget
	}

	u, err := g.users.FindByID(ctx, viewer)
	if err != nil {
		return "", err
	}

	return u.StatusWith(other), nil
}

// Requests returns pending requests of user in both directions with counterpart profiles
func (g *ConnectionGraph) Requests(ctx context.Context, user string) (*Requests, error) {
	u, err := g.users.FindByID(ctx, user)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(u.Relations.Received)+len(u.Relations.Sent))
	for _, r := range u.Relations.Received {
		ids = append(ids, r.From)
	}
	for _, r := range u.Relations.Sent {
		ids = append(ids, r.To)
	}

	profiles, err := resolveProfiles(ctx, g.users, ids)
	if err != nil {
		return nil, err
	}

	out := &Requests{
		Received: make([]PendingRequest, 0, len(u.Relations.Received)),
		Sent:     make([]PendingRequest, 0, len(u.Relations.Sent)),
	}
	for _, r := range u.Relations.Received {
		out.Received = append(out.Received, PendingRequest{User: profiles[r.From], At: r.ReceivedAt})
	}
	for _, r := range u.Relations.Sent {
		out.Sent = append(out.Sent, PendingRequest{User: profiles[r.To], At: r.SentAt})
	}

	return out, nil
}

// Connections returns profiles of the users connected to user
func (g *ConnectionGraph) Connections(ctx context.Context, user string) ([]Profile, error) {
	u, err := g.users.FindByID(ctx, user)
	if err != nil {
		return nil, err
	}

	profiles, err := resolveProfiles(ctx, g.users, u.Relations.Connections)
	if err != nil {
		return nil, err
	}

	out := make([]Profile, 0, len(u.Relations.Connections))
	for _, id := range u.Relations.Connections {
		out = append(out, profiles[id])
	}
	return out, nil
}
