package social

import "errors"

// Domain rule violations
var (
	ErrInvalidTarget     = errors.New("invalid target user")
	ErrAlreadyConnected  = errors.New("users are already connected")
	ErrAlreadyPending    = errors.New("connection request already pending")
	ErrRequestNotFound   = errors.New("connection request not found")
	ErrInvalidAction     = errors.New("action must be accept or reject")
	ErrNotConnected      = errors.New("users are not connected")
	ErrNotParticipant    = errors.New("user is not a chat participant")
	ErrInvalidContent    = errors.New("invalid message content")
	ErrInvalidPagination = errors.New("page and limit must be positive")
	ErrHandleTaken       = errors.New("handle is already registered")
	ErrEmailTaken        = errors.New("email is already registered")
)

// Storage outcomes, returned by IdentityStore and ChatStore implementations
var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means the aggregate changed since it was read.
	// The whole logical operation has to be re-run on fresh state.
	ErrConflict = errors.New("concurrent modification")

	// ErrChatExists is a uniqueness violation on the private chat pair
	ErrChatExists = errors.New("private chat already exists")

	// ErrTransient wraps timeouts and connection failures of the storage layer
	ErrTransient = errors.New("transient storage failure")
)

func retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}
