package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerchat/internal/auth"
	"peerchat/internal/social"

	"go.uber.org/zap"
)

// Services groups the domain services exposed over HTTP
type Services struct {
	Users    social.IdentityStore
	Graph    *social.ConnectionGraph
	Chats    *social.ChatDirectory
	Messages *social.MessageLog
	Presence *social.Presence
	Auth     *auth.Authenticator
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer returns new Server struct serving provided Services
func NewServer(logger *zap.Logger, svc Services, opts ...Option) (*Server, error) {
	if svc.Users == nil || svc.Graph == nil || svc.Chats == nil || svc.Messages == nil || svc.Presence == nil || svc.Auth == nil {
		return nil, errors.New("server: all services must be provided")
	}

	h := newHandler(logger.Sugar(), svc)

	public := func(f http.HandlerFunc) route { return route{handler: f} }
	protected := func(f http.HandlerFunc) route { return route{handler: f, protected: true} }

	c := &config{
		httpServer: &http.Server{},
		routes: map[string]route{
			"/users/register": public(h.register),
			"/users/login":    public(h.login),
			"/users/logout":   public(h.logout),
			"/users/me":       protected(h.me),

			"/connections/request":  protected(h.sendRequest),
			"/connections/respond":  protected(h.respondToRequest),
			"/connections/status":   protected(h.connectionStatus),
			"/connections/requests": protected(h.pendingRequests),
			"/connections/list":     protected(h.connections),

			"/chats/add": protected(h.createChat),
			"/chats/get": protected(h.listChats),

			"/messages/add": protected(h.createMessage),
			"/messages/get": protected(h.listMessages),
		},
	}

	// the session check wraps the bare handlers, user options wrap the result
	opts = append([]Option{applyAuthenticate(svc.Auth)}, opts...)
	opts = append(opts, applyEnforcePostJson(), applyLog(logger), registerRoutes())
	for _, opt := range opts {
		opt.apply(c)
	}

	return &Server{
		logger:        logger.Sugar(),
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
	}, nil
}

// Handler returns the root http.Handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
