package social

import (
	"time"

	"github.com/samber/lo"
)

// MaxContentLength is the upper bound on message content, counted in characters
const MaxContentLength = 1000

// Status describes the relationship between a viewer and another user as seen by the viewer
type Status string

const (
	StatusConnected       Status = "connected"
	StatusRequestSent     Status = "requestSent"
	StatusRequestReceived Status = "requestReceived"
	StatusNone            Status = "none"
)

// Action is a response to a received connection request
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// ChatType is always ChatPrivate for now, groups are not supported
type ChatType string

const ChatPrivate ChatType = "private"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

type SentRequest struct {
	To     string    `json:"to"`
	SentAt time.Time `json:"sentAt"`
}

type ReceivedRequest struct {
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Relations is the relationship sub-state of a user record.
// It is stored as a single document next to the identity fields.
type Relations struct {
	Connections []string          `json:"connections"`
	Sent        []SentRequest     `json:"sent"`
	Received    []ReceivedRequest `json:"received"`
}

type User struct {
	ID           string
	Handle       string
	Email        string
	PasswordHash string
	Avatar       string
	Bio          string
	IsOnline     bool
	LastSeen     time.Time
	Relations    Relations
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Version is compared and incremented by IdentityStore.Save
	Version int64
}

// Profile is the public projection of a user
type Profile struct {
	ID       string    `json:"id"`
	Handle   string    `json:"handle"`
	Avatar   string    `json:"avatar"`
	Bio      string    `json:"bio"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Handle: u.Handle, Avatar: u.Avatar, Bio: u.Bio, IsOnline: u.IsOnline, LastSeen: u.LastSeen}
}

func (u *User) IsConnected(other string) bool {
	return lo.Contains(u.Relations.Connections, other)
}

func (u *User) HasSentTo(other string) bool {
	return lo.ContainsBy(u.Relations.Sent, func(r SentRequest) bool { return r.To == other })
}

func (u *User) HasReceivedFrom(other string) bool {
	return lo.ContainsBy(u.Relations.Received, func(r ReceivedRequest) bool { return r.From == other })
}

// StatusWith derives the relationship status from the user's own collections only
func (u *User) StatusWith(other string) Status {
	switch {
	case u.IsConnected(other):
		return StatusConnected
	case u.HasSentTo(other):
		return StatusRequestSent
	case u.HasReceivedFrom(other):
		return StatusRequestReceived
	default:
		return StatusNone
	}
}

func (u *User) sentAt(other string) (time.Time, bool) {
	r, ok := lo.Find(u.Relations.Sent, func(r SentRequest) bool { return r.To == other })
	return r.SentAt, ok
}

// addSent is a no-op when a request to other is already recorded
func (u *User) addSent(other string, at time.Time) bool {
	if u.HasSentTo(other) {
		return false
	}
	u.Relations.Sent = append(u.Relations.Sent, SentRequest{To: other, SentAt: at})
	return true
}

func (u *User) addReceived(other string, at time.Time) bool {
	if u.HasReceivedFrom(other) {
		return false
	}
	u.Relations.Received = append(u.Relations.Received, ReceivedRequest{From: other, ReceivedAt: at})
	return true
}

func (u *User) removeSent(other string) bool {
	n := len(u.Relations.Sent)
	u.Relations.Sent = lo.Filter(u.Relations.Sent, func(r SentRequest, _ int) bool { return r.To != other })
	return len(u.Relations.Sent) != n
}

func (u *User) removeReceived(other string) bool {
	n := len(u.Relations.Received)
	u.Relations.Received = lo.Filter(u.Relations.Received, func(r ReceivedRequest, _ int) bool { return r.From != other })
	return len(u.Relations.Received) != n
}

// connect adds other to the connections and drops every pending request between the two,
// so a connection never coexists with a pending request.
func (u *User) connect(other string) bool {
	changed := u.removeSent(other)
	changed = u.removeReceived(other) || changed
	if u.IsConnected(other) {
		return changed
	}
	u.Relations.Connections = append(u.Relations.Connections, other)
	return true
}

type LastMessage struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is the chat aggregate header, messages are read through ChatStore
type Chat struct {
	ID           string      `json:"id"`
	Participants []string    `json:"participants"`
	Type         ChatType    `json:"type"`
	LastMessage  LastMessage `json:"lastMessage"`
	IsActive     bool        `json:"isActive"`
	MessageCount int         `json:"messageCount"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func (c *Chat) HasParticipant(user string) bool {
	return lo.Contains(c.Participants, user)
}

// OtherParticipant returns the participant that is not user
func (c *Chat) OtherParticipant(user string) string {
	other, _ := lo.Find(c.Participants, func(p string) bool { return p != user })
	return other
}

// PairKey returns the participants of a private chat in sorted order
func PairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

type Receipt struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

type Message struct {
	Seq       int64       `json:"seq"`
	Sender    string      `json:"sender"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	ReadBy    []Receipt   `json:"readBy"`
	Edited    bool        `json:"edited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NotBefore moves m and the receipts stamped at its creation forward to t when m is older.
// Stores call it with the chat's last message time while the chat is locked, so creation
// times never decrease along the log.
func (m *Message) NotBefore(t time.Time) {
	if !m.CreatedAt.Before(t) {
		return
	}
	receipts := make([]Receipt, len(m.ReadBy))
	for i, r := range m.ReadBy {
		if r.ReadAt.Equal(m.CreatedAt) {
			r.ReadAt = t
		}
		receipts[i] = r
	}
	m.ReadBy = receipts
	m.CreatedAt = t
}

// MessageView is a message with its sender resolved for display
type MessageView struct {
	Message
	Sender Profile `json:"sender"`
}

// Page is a newest-first window over a chat's message log
type Page struct {
	Messages []MessageView `json:"messages"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"hasMore"`
}

type ChatSummary struct {
	ChatID           string      `json:"id"`
	OtherParticipant Profile     `json:"participant"`
	LastMessage      LastMessage `json:"lastMessage"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

type PendingRequest struct {
	User Profile   `json:"user"`
	At   time.Time `json:"at"`
}

// Requests lists the pending requests of a user in both directions
type Requests struct {
	Received []PendingRequest `json:"received"`
	Sent     []PendingRequest `json:"sent"`
}
