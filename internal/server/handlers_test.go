package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"peerchat/internal/auth"
	"peerchat/internal/social"
	mytesting "peerchat/internal/testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	t       *testing.T
	users   social.IdentityStore
	graph   *social.ConnectionGraph
	chats   *social.ChatDirectory
	auth    *auth.Authenticator
	handler http.Handler
}

func bootstrapServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := mytesting.NewMemStore(t)

	a, err := auth.NewAuthenticator(auth.Config{Secret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)

	svc := Services{
		Users:    store,
		Graph:    social.NewConnectionGraph(logger.Sugar(), store, social.DefaultConfig),
		Chats:    social.NewChatDirectory(logger.Sugar(), store, store, social.DefaultConfig),
		Messages: social.NewMessageLog(logger.Sugar(), store, store, social.DefaultConfig),
		Presence: social.NewPresence(logger.Sugar(), store, social.DefaultConfig),
		Auth:     a,
	}

	opts = append([]Option{TimeoutHandler(5*time.Second, "Request timed out")}, opts...)
	srv, err := NewServer(logger, svc, opts...)
	require.NoError(t, err)

	return &testServer{
		t:       t,
		users:   store,
		graph:   svc.Graph,
		chats:   svc.Chats,
		auth:    a,
		handler: srv.Handler(),
	}
}

// user creates a user directly in the store and returns it with a session token
func (s *testServer) user() (*social.User, string) {
	s.t.Helper()

	u := mytesting.CreateUser(s.t, s.users, mytesting.RandHandle())
	token, err := s.auth.IssueToken(u.ID)
	require.NoError(s.t, err)

	return u, token
}

func (s *testServer) connected() (a *social.User, tokenA string, b *social.User, tokenB string) {
	s.t.Helper()

	a, tokenA = s.user()
	b, tokenB = s.user()

	ctx := context.Background()
	require.NoError(s.t, s.graph.SendRequest(ctx, a.ID, b.ID))
	_, err := s.graph.RespondToRequest(ctx, b.ID, a.ID, social.ActionAccept)
	require.NoError(s.t, err)

	return a, tokenA, b, tokenB
}

// post sends body to path as the owner of token, an empty token sends no credentials
func (s *testServer) post(path, token, body string) (*httptest.ResponseRecorder, *fastjson.Value) {
	s.t.Helper()

	req, err := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var v *fastjson.Value
	if rr.Header().Get("Content-Type") == "application/json" {
		body, err := io.ReadAll(rr.Body)
		require.NoError(s.t, err)
		v, err = fastjson.ParseBytes(body)
		require.NoError(s.t, err)
	}

	return rr, v
}

func statusOkHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestEnforcePostJson(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		method      string
		contentType *string
		body        string
		code        int
		message     string
	}{
		"ok":                       {method: "POST", contentType: strPtr("application/json"), body: `{"a":"b"}`, code: http.StatusOK},
		"charset":                  {method: "POST", contentType: strPtr("application/json; charset=utf-8"), body: `{}`, code: http.StatusOK},
		"blank content type":       {method: "POST", contentType: strPtr(""), body: `{}`, code: http.StatusOK},
		"no content type":          {method: "POST", body: `{}`, code: http.StatusOK},
		"not post":                 {method: "GET", contentType: strPtr("application/json"), body: `{}`, code: http.StatusMethodNotAllowed, message: http.StatusText(http.StatusMethodNotAllowed)},
		"malformed content type":   {method: "POST", contentType: strPtr("1:2\n+/-"), body: `{}`, code: http.StatusBadRequest, message: "Malformed Content-Type header"},
		"unsupported content type": {method: "POST", contentType: strPtr("text/plain"), body: `{}`, code: http.StatusUnsupportedMediaType, message: "Content-Type header must be application/json"},
		"no body":                  {method: "POST", contentType: strPtr("application/json"), body: ``, code: http.StatusBadRequest, message: "No body provided"},
		"malformed json":           {method: "POST", contentType: strPtr("application/json"), body: `{"a":b"}`, code: http.StatusBadRequest, message: "Malformed JSON"},
		"too large": {
			method: "POST", contentType: strPtr("application/json"),
			body: `{"a":"` + strings.Repeat("x", defaultMaxBodySize) + `"}`,
			code: http.StatusRequestEntityTooLarge, message: "Request body too large",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, "/", bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			if tc.contentType != nil {
				req.Header.Set("Content-Type", *tc.contentType)
			}

			rr := httptest.NewRecorder()
			enforcePostJson(http.HandlerFunc(statusOkHandler), defaultMaxBodySize).ServeHTTP(rr, req)

			require.Equal(t, tc.code, rr.Code)
			if tc.message != "" {
				require.Equal(t, tc.message+"\n", rr.Body.String())
			}
		})
	}
}

func TestEnforcePostJsonKeepsBody(t *testing.T) {
	t.Parallel()

	payload := `{"handle":"` + mytesting.RandString(10) + `"}`
	req, err := http.NewRequest("POST", "/", bytes.NewBufferString(payload))
	require.NoError(t, err)

	var got []byte
	rr := httptest.NewRecorder()
	enforcePostJson(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}), defaultMaxBodySize).ServeHTTP(rr, req)

	require.Equal(t, payload, string(got))
}

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t, WithEnvConfig(EnvConfig{Host: "localhost", Port: 9000, MaxBodySize: 64}))
	_, token := s.user()

	rr, _ := s.post("/users/me", token, `{"pad":"`+strings.Repeat("x", 64)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr, _ = s.post("/users/me", token, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)

	s = bootstrapServer(t, MaxBodySize(8))
	rr, _ = s.post("/users/logout", "", `{"a":"0123456789"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	handle := mytesting.RandHandle()

	rr, v := s.post("/users/register", "",
		`{"handle":"`+handle+`","email":"`+handle+`@Example.com","password":"secret","confirmPassword":"secret"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, handle, string(v.GetStringBytes("user", "handle")))
	require.Equal(t, handle+"@example.com", string(v.GetStringBytes("user", "email")))
	require.NotEmpty(t, v.GetStringBytes("user", "id"))
	require.False(t, v.Exists("user", "passwordHash"))

	token := string(v.GetStringBytes("token"))
	id, err := s.auth.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, string(v.GetStringBytes("user", "id")), id)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, auth.CookieName, cookies[0].Name)

	// the same handle can not be registered twice
	rr, _ = s.post("/users/register", "",
		`{"handle":"`+handle+`","email":"other_`+handle+`@example.com","password":"secret","confirmPassword":"secret"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Handle already taken\n", rr.Body.String())

	// and logging in works with the email
	rr, v = s.post("/users/login", "", `{"login":"`+strings.ToUpper(handle)+`@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, id, string(v.GetStringBytes("user", "id")))

	rr, _ = s.post("/users/login", "", `{"login":"`+handle+`","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegisterInvalid(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)

	testCases := map[string]string{
		"missing field":     `{"handle":"alice","email":"a@b.co","password":"secret"}`,
		"not a string":      `{"handle":1,"email":"a@b.co","password":"secret","confirmPassword":"secret"}`,
		"bad handle":        `{"handle":"a!","email":"a@b.co","password":"secret","confirmPassword":"secret"}`,
		"bad email":         `{"handle":"alice","email":"nope","password":"secret","confirmPassword":"secret"}`,
		"short password":    `{"handle":"alice","email":"a@b.co","password":"123","confirmPassword":"123"}`,
		"mismatch password": `{"handle":"alice","email":"a@b.co","password":"secret","confirmPassword":"secreT"}`,
	}

	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			rr, _ := s.post("/users/register", "", body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestMeAndLogout(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	u, token := s.user()

	rr, v := s.post("/users/me", token, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, u.ID, string(v.GetStringBytes("user", "id")))
	require.Equal(t, u.Email, string(v.GetStringBytes("user", "email")))

	rr, _ = s.post("/users/me", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = s.post("/users/me", "garbage", `{}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, v = s.post("/users/logout", token, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, v.GetBool("success"))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].MaxAge < 0)
}

func TestPresence(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	handle := mytesting.RandHandle()

	rr, v := s.post("/users/register", "",
		`{"handle":"`+handle+`","email":"`+handle+`@example.com","password":"secret","confirmPassword":"secret"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.False(t, v.GetBool("user", "isOnline"))
	require.NotEmpty(t, v.GetStringBytes("user", "lastSeen"))
	id := string(v.GetStringBytes("user", "id"))

	rr, v = s.post("/users/login", "", `{"login":"`+handle+`","password":"secret"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, v.GetBool("user", "isOnline"))
	token := string(v.GetStringBytes("token"))

	online, err := s.users.FindByID(t.Context(), id)
	require.NoError(t, err)
	require.True(t, online.IsOnline)
	require.False(t, online.LastSeen.IsZero())

	// the other side of a chat sees the presence of the participant
	other, otherToken := s.user()
	require.NoError(t, s.graph.SendRequest(t.Context(), other.ID, id))
	_, err = s.graph.RespondToRequest(t.Context(), id, other.ID, social.ActionAccept)
	require.NoError(t, err)
	rr, _ = s.post("/chats/add", otherToken, `{"participant":"`+id+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr, v = s.post("/chats/get", otherToken, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	chats := v.GetArray("chats")
	require.Len(t, chats, 1)
	require.True(t, chats[0].GetBool("participant", "isOnline"))

	rr, _ = s.post("/users/logout", token, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)

	offline, err := s.users.FindByID(t.Context(), id)
	require.NoError(t, err)
	require.False(t, offline.IsOnline)
	require.False(t, offline.LastSeen.Before(online.LastSeen))

	// logging out without a session only clears the cookie
	rr, _ = s.post("/users/logout", "", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	u, token := s.user()

	req, err := http.NewRequest(http.MethodPost, "/users/me", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), u.ID)
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)

	for _, path := range []string{
		"/users/me", "/connections/request", "/connections/respond", "/connections/status",
		"/connections/requests", "/connections/list", "/chats/add", "/chats/get", "/messages/add", "/messages/get",
	} {
		rr, _ := s.post(path, "", `{}`)
		require.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	a, tokenA := s.user()
	b, tokenB := s.user()

	rr, v := s.post("/connections/request", tokenA, `{"target":"`+b.ID+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "requestSent", string(v.GetStringBytes("status")))

	rr, _ = s.post("/connections/request", tokenA, `{"target":"`+b.ID+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Connection request already pending\n", rr.Body.String())

	rr, _ = s.post("/connections/request", tokenA, `{"target":"`+a.ID+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid target user\n", rr.Body.String())

	rr, _ = s.post("/connections/request", tokenA, `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Missing Field \"target\"\n", rr.Body.String())

	rr, v = s.post("/connections/status", tokenB, `{"user":"`+a.ID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "requestReceived", string(v.GetStringBytes("status")))

	rr, v = s.post("/connections/requests", tokenB, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	received := v.GetArray("received")
	require.Len(t, received, 1)
	require.Equal(t, a.ID, string(received[0].GetStringBytes("user", "id")))
	require.Len(t, v.GetArray("sent"), 0)

	rr, _ = s.post("/connections/respond", tokenB, `{"requester":"`+a.ID+`","action":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = s.post("/connections/respond", tokenA, `{"requester":"`+b.ID+`","action":"accept"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, v = s.post("/connections/respond", tokenB, `{"requester":"`+a.ID+`","action":"accept"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "connected", string(v.GetStringBytes("status")))

	rr, v = s.post("/connections/list", tokenA, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	connections := v.GetArray("connections")
	require.Len(t, connections, 1)
	require.Equal(t, b.ID, string(connections[0].GetStringBytes("id")))
	require.Equal(t, b.Handle, string(connections[0].GetStringBytes("handle")))

	rr, _ = s.post("/connections/request", tokenB, `{"target":"`+a.ID+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Users are already connected\n", rr.Body.String())
}

func TestChatEndpoints(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	a, tokenA, b, tokenB := s.connected()
	_, tokenC := s.user()

	rr, v := s.post("/chats/add", tokenA, `{"participant":"`+b.ID+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.True(t, v.GetBool("created"))
	chatID := string(v.GetStringBytes("chat", "id"))
	require.NotEmpty(t, chatID)

	rr, v = s.post("/chats/add", tokenB, `{"participant":"`+a.ID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, v.GetBool("created"))
	require.Equal(t, chatID, string(v.GetStringBytes("chat", "id")))

	rr, _ = s.post("/chats/add", tokenC, `{"participant":"`+a.ID+`"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "Users are not connected\n", rr.Body.String())

	rr, v = s.post("/chats/get", tokenA, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	chats := v.GetArray("chats")
	require.Len(t, chats, 1)
	require.Equal(t, chatID, string(chats[0].GetStringBytes("id")))
	require.Equal(t, b.ID, string(chats[0].GetStringBytes("participant", "id")))

	rr, v = s.post("/chats/get", tokenC, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, v.GetArray("chats"), 0)
	require.True(t, v.Exists("chats"))
}

func TestMessageEndpoints(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	a, tokenA, b, tokenB := s.connected()
	_, tokenC := s.user()

	chat, _, err := s.chats.GetOrCreatePrivateChat(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	const n = 7
	for i := 0; i < n; i++ {
		token := tokenA
		if i%2 == 1 {
			token = tokenB
		}
		rr, v := s.post("/messages/add", token, `{"chat":"`+chat.ID+`","content":"message `+strconv.Itoa(i)+`"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
		require.Equal(t, "message "+strconv.Itoa(i), string(v.GetStringBytes("message", "content")))
		require.Equal(t, "text", string(v.GetStringBytes("message", "type")))
		require.Equal(t, int64(i), v.GetInt64("message", "seq"))
	}

	rr, v := s.post("/messages/get", tokenB, `{"chat":"`+chat.ID+`","page":1,"limit":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, n, v.GetInt("total"))
	require.True(t, v.GetBool("hasMore"))
	messages := v.GetArray("messages")
	require.Len(t, messages, 5)
	require.Equal(t, "message 6", string(messages[0].GetStringBytes("content")))
	require.Equal(t, a.ID, string(messages[0].GetStringBytes("sender", "id")))
	require.Equal(t, a.Handle, string(messages[0].GetStringBytes("sender", "handle")))
	require.Equal(t, "message 2", string(messages[4].GetStringBytes("content")))

	rr, v = s.post("/messages/get", tokenA, `{"chat":"`+chat.ID+`","page":2,"limit":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, v.GetBool("hasMore"))
	require.Len(t, v.GetArray("messages"), 2)

	// defaults are page 1 and limit 50
	rr, v = s.post("/messages/get", tokenA, `{"chat":"`+chat.ID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, v.GetInt("page"))
	require.Equal(t, 50, v.GetInt("limit"))
	require.Len(t, v.GetArray("messages"), n)

	testCases := map[string]struct {
		path, token, body string
		code              int
	}{
		"outsider sends":        {path: "/messages/add", token: tokenC, body: `{"chat":"` + chat.ID + `","content":"hi"}`, code: http.StatusForbidden},
		"outsider reads":        {path: "/messages/get", token: tokenC, body: `{"chat":"` + chat.ID + `"}`, code: http.StatusForbidden},
		"blank content":         {path: "/messages/add", token: tokenA, body: `{"chat":"` + chat.ID + `","content":"   "}`, code: http.StatusBadRequest},
		"content too long":      {path: "/messages/add", token: tokenA, body: `{"chat":"` + chat.ID + `","content":"` + strings.Repeat("x", 1001) + `"}`, code: http.StatusBadRequest},
		"unknown type":          {path: "/messages/add", token: tokenA, body: `{"chat":"` + chat.ID + `","content":"hi","type":"video"}`, code: http.StatusBadRequest},
		"unknown chat":          {path: "/messages/add", token: tokenA, body: `{"chat":"nope","content":"hi"}`, code: http.StatusNotFound},
		"missing chat":          {path: "/messages/get", token: tokenA, body: `{"page":1}`, code: http.StatusBadRequest},
		"page not integer":      {path: "/messages/get", token: tokenA, body: `{"chat":"` + chat.ID + `","page":"one"}`, code: http.StatusBadRequest},
		"zero page":             {path: "/messages/get", token: tokenA, body: `{"chat":"` + chat.ID + `","page":0}`, code: http.StatusBadRequest},
		"limit over the cap":    {path: "/messages/get", token: tokenA, body: `{"chat":"` + chat.ID + `","limit":1000}`, code: http.StatusBadRequest},
		"content not a string":  {path: "/messages/add", token: tokenA, body: `{"chat":"` + chat.ID + `","content":5}`, code: http.StatusBadRequest},
		"missing content field": {path: "/messages/add", token: tokenA, body: `{"chat":"` + chat.ID + `"}`, code: http.StatusBadRequest},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			rr, _ := s.post(tc.path, tc.token, tc.body)
			require.Equal(t, tc.code, rr.Code)
		})
	}

	rr, v = s.post("/messages/get", tokenA, `{"chat":"`+chat.ID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, n, v.GetInt("total"))
}

func TestMessageContentSanitized(t *testing.T) {
	t.Parallel()

	s := bootstrapServer(t)
	a, tokenA, b, _ := s.connected()

	chat, _, err := s.chats.GetOrCreatePrivateChat(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	rr, v := s.post("/messages/add", tokenA, `{"chat":"`+chat.ID+`","content":"  <b>hi</b>  "}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "bhi/b", string(v.GetStringBytes("message", "content")))
}

func TestStatusOf(t *testing.T) {
	testCases := map[error]int{
		social.ErrInvalidTarget:     http.StatusBadRequest,
		social.ErrInvalidPagination: http.StatusBadRequest,
		social.ErrAlreadyPending:    http.StatusBadRequest,
		social.ErrNotConnected:      http.StatusForbidden,
		social.ErrNotParticipant:    http.StatusForbidden,
		social.ErrRequestNotFound:   http.StatusNotFound,
		social.ErrNotFound:          http.StatusNotFound,
		social.ErrConflict:          http.StatusConflict,
		social.ErrTransient:         http.StatusServiceUnavailable,
		io.ErrUnexpectedEOF:         http.StatusInternalServerError,
	}

	for err, code := range testCases {
		status, _ := statusOf(err)
		require.Equal(t, code, status, err.Error())
	}
}

func strPtr(s string) *string {
	return &s
}
