package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"peerchat/internal/auth"
	"peerchat/internal/social"
	"peerchat/internal/storage/zapadapter"
	"peerchat/internal/validation"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	defaultPage  = 1
	defaultLimit = 50
)

type parsers struct {
	usersPool       fastjson.ParserPool
	connectionsPool fastjson.ParserPool
	chatsPool       fastjson.ParserPool
	messagesPool    fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	users    social.IdentityStore
	graph    *social.ConnectionGraph
	chats    *social.ChatDirectory
	messages *social.MessageLog
	presence *social.Presence
	auth     *auth.Authenticator
	parsers  parsers
	now      func() time.Time
}

func newHandler(logger *zap.SugaredLogger, svc Services) *handler {
	return &handler{
		logger:   logger,
		users:    svc.Users,
		graph:    svc.Graph,
		chats:    svc.Chats,
		messages: svc.Messages,
		presence: svc.Presence,
		auth:     svc.Auth,
		now:      time.Now,
	}
}

// account is the view of the authenticated user
type account struct {
	social.Profile
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func newAccount(u *social.User) account {
	return account{Profile: u.Profile(), Email: u.Email, CreatedAt: u.CreatedAt}
}

// parse reads the request body validated by enforcePostJson with a parser from pool
// and passes the parsed value to fn, values must not be retained after fn returns
func parse(pool *fastjson.ParserPool, r *http.Request, fn func(v *fastjson.Value)) {
	body, _ := io.ReadAll(r.Body)

	parser := pool.Get()
	defer pool.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		v = fastjson.MustParse(`{}`)
	}
	fn(v)
}

// stringField returns the string value of field, or a message describing why it is unusable
func stringField(v *fastjson.Value, field string) (string, string) {
	if !v.Exists(field) {
		return "", `Missing Field "` + field + `"`
	}

	fv := v.Get(field)
	if fv.Type() != fastjson.TypeString {
		return "", `Field "` + field + `" must be a string`
	}

	return string(fv.GetStringBytes()), ""
}

// intField returns the integer value of optional field or def when it is absent
func intField(v *fastjson.Value, field string, def int) (int, string) {
	if !v.Exists(field) || v.Get(field).Type() == fastjson.TypeNull {
		return def, ""
	}

	n, err := v.Get(field).Int()
	if err != nil {
		return 0, `Field "` + field + `" must be an integer`
	}

	return n, ""
}

// statusOf maps a domain error to HTTP status code and message
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, social.ErrInvalidTarget):
		return http.StatusBadRequest, "Invalid target user"
	case errors.Is(err, social.ErrInvalidContent):
		return http.StatusBadRequest, "Invalid message content"
	case errors.Is(err, social.ErrInvalidAction):
		return http.StatusBadRequest, "Action must be accept or reject"
	case errors.Is(err, social.ErrInvalidPagination):
		return http.StatusBadRequest, "Invalid pagination parameters"
	case errors.Is(err, social.ErrAlreadyConnected):
		return http.StatusBadRequest, "Users are already connected"
	case errors.Is(err, social.ErrAlreadyPending):
		return http.StatusBadRequest, "Connection request already pending"
	case errors.Is(err, social.ErrHandleTaken):
		return http.StatusBadRequest, "Handle already taken"
	case errors.Is(err, social.ErrEmailTaken):
		return http.StatusBadRequest, "Email already registered"
	case errors.Is(err, social.ErrNotConnected):
		return http.StatusForbidden, "Users are not connected"
	case errors.Is(err, social.ErrNotParticipant):
		return http.StatusForbidden, "User is not a chat participant"
	case errors.Is(err, social.ErrRequestNotFound):
		return http.StatusNotFound, "Connection request not found"
	case errors.Is(err, social.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, social.ErrConflict):
		return http.StatusConflict, "Concurrent update, try again"
	case errors.Is(err, social.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		zapadapter.WithRequestID(r.Context(), h.logger).Error(err)
	}
	http.Error(w, msg, status)
}

func (h *handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		zapadapter.WithRequestID(r.Context(), h.logger).Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		zapadapter.WithRequestID(r.Context(), h.logger).Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func currentUser(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}

// register handles HTTP requests on "/users/register" endpoint
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var (
		reg     validation.Registration
		problem string
	)
	parse(&h.parsers.usersPool, r, func(v *fastjson.Value) {
		if reg.Handle, problem = stringField(v, "handle"); problem != "" {
			return
		}
		if reg.Email, problem = stringField(v, "email"); problem != "" {
			return
		}
		if reg.Password, problem = stringField(v, "password"); problem != "" {
			return
		}
		reg.ConfirmPassword, problem = stringField(v, "confirmPassword")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	if err := reg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.now().Round(0)
	u := &social.User{
		ID:           uuid.NewString(),
		Handle:       reg.Handle,
		Email:        reg.Email,
		PasswordHash: hash,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := h.users.CreateUser(r.Context(), u); err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.auth.IssueToken(u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.auth.SetCookie(w, token)

	h.writeJSON(w, r, http.StatusCreated, map[string]interface{}{"user": newAccount(u), "token": token})
}

// login handles HTTP requests on "/users/login" endpoint
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var login, password, problem string
	parse(&h.parsers.usersPool, r, func(v *fastjson.Value) {
		if login, problem = stringField(v, "login"); problem != "" {
			return
		}
		password, problem = stringField(v, "password")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	login = validation.SanitizePlainText(login)
	if login == "" || password == "" {
		http.Error(w, "Login and password must have non-zero length", http.StatusBadRequest)
		return
	}

	u, err := h.users.FindByHandleOrEmail(r.Context(), login)
	if err != nil && !errors.Is(err, social.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	if u == nil || !auth.VerifyPassword(password, u.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	u, err = h.presence.SetOnline(r.Context(), u.ID, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.auth.IssueToken(u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.auth.SetCookie(w, token)

	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{"user": newAccount(u), "token": token})
}

// logout handles HTTP requests on "/users/logout" endpoint
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if userID, err := h.auth.AuthenticateRequest(r); err == nil {
		if _, err := h.presence.SetOnline(r.Context(), userID, false); err != nil && !errors.Is(err, social.ErrNotFound) {
			h.fail(w, r, err)
			return
		}
	}

	h.auth.ClearCookie(w)
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

// me handles HTTP requests on "/users/me" endpoint
func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.FindByID(r.Context(), currentUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]account{"user": newAccount(u)})
}

// sendRequest handles HTTP requests on "/connections/request" endpoint
func (h *handler) sendRequest(w http.ResponseWriter, r *http.Request) {
	var target, problem string
	parse(&h.parsers.connectionsPool, r, func(v *fastjson.Value) {
		target, problem = stringField(v, "target")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	if err := h.graph.SendRequest(r.Context(), currentUser(r), target); err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]social.Status{"status": social.StatusRequestSent})
}

// respondToRequest handles HTTP requests on "/connections/respond" endpoint
func (h *handler) respondToRequest(w http.ResponseWriter, r *http.Request) {
	var requester, action, problem string
	parse(&h.parsers.connectionsPool, r, func(v *fastjson.Value) {
		if requester, problem = stringField(v, "requester"); problem != "" {
			return
		}
		action, problem = stringField(v, "action")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	status, err := h.graph.RespondToRequest(r.Context(), currentUser(r), requester, social.Action(action))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]social.Status{"status": status})
}

// connectionStatus handles HTTP requests on "/connections/status" endpoint
func (h *handler) connectionStatus(w http.ResponseWriter, r *http.Request) {
	var other, problem string
	parse(&h.parsers.connectionsPool, r, func(v *fastjson.Value) {
		other, problem = stringField(v, "user")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	status, err := h.graph.Status(r.Context(), currentUser(r), other)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]social.Status{"status": status})
}

// pendingRequests handles HTTP requests on "/connections/requests" endpoint
func (h *handler) pendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.graph.Requests(r.Context(), currentUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, requests)
}

// connections handles HTTP requests on "/connections/list" endpoint
func (h *handler) connections(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.graph.Connections(r.Context(), currentUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string][]social.Profile{"connections": profiles})
}

// createChat handles HTTP requests on "/chats/add" endpoint
func (h *handler) createChat(w http.ResponseWriter, r *http.Request) {
	var participant, problem string
	parse(&h.parsers.chatsPool, r, func(v *fastjson.Value) {
		participant, problem = stringField(v, "participant")
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	chat, created, err := h.chats.GetOrCreatePrivateChat(r.Context(), currentUser(r), participant)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	h.writeJSON(w, r, status, map[string]interface{}{"chat": chat, "created": created})
}

// listChats handles HTTP requests on "/chats/get" endpoint
func (h *handler) listChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.chats.ListChats(r.Context(), currentUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if summaries == nil {
		summaries = []social.ChatSummary{}
	}

	h.writeJSON(w, r, http.StatusOK, map[string][]social.ChatSummary{"chats": summaries})
}

// createMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var chatID, content, typ, problem string
	parse(&h.parsers.messagesPool, r, func(v *fastjson.Value) {
		if chatID, problem = stringField(v, "chat"); problem != "" {
			return
		}
		if content, problem = stringField(v, "content"); problem != "" {
			return
		}
		if v.Exists("type") {
			typ, problem = stringField(v, "type")
		}
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	content = validation.SanitizePlainText(content)
	m, err := h.messages.Append(r.Context(), chatID, currentUser(r), content, social.MessageType(typ))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]*social.MessageView{"message": m})
}

// listMessages handles HTTP requests on "/messages/get" endpoint
func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	var (
		chatID, problem string
		page, limit     int
	)
	parse(&h.parsers.messagesPool, r, func(v *fastjson.Value) {
		if chatID, problem = stringField(v, "chat"); problem != "" {
			return
		}
		if page, problem = intField(v, "page", defaultPage); problem != "" {
			return
		}
		limit, problem = intField(v, "limit", defaultLimit)
	})
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	p, err := h.messages.Page(r.Context(), chatID, currentUser(r), page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, p)
}
