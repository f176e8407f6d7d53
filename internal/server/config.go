package server

import (
	"net/http"
	"strconv"
	"time"

	"peerchat/internal/auth"

	"go.uber.org/zap"
)

// defaultMaxBodySize bounds request bodies when no limit is configured
const defaultMaxBodySize = 64 << 10

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// route is an endpoint handler and whether it needs a session
type route struct {
	handler   http.Handler
	protected bool
}

// config defines fields used for configuring Server instance
type config struct {
	httpServer    *http.Server
	routes        map[string]route
	maxBodySize   int64
	afterShutdown []func()
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host        string `env:"HOST" envDefault:"0.0.0.0"`
	Port        uint16 `env:"PORT" envDefault:"9000"`
	MaxBodySize int64  `env:"MAX_BODY_SIZE" envDefault:"65536"`
}

// WithEnvConfig sets the listen address and the request body limit from EnvConfig
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		if cfg.MaxBodySize > 0 {
			c.maxBodySize = cfg.MaxBodySize
		}
	})
}

// MaxBodySize limits request bodies to n bytes, larger ones are answered with 413
func MaxBodySize(n int64) Option {
	return optionFunc(func(c *config) {
		c.maxBodySize = n
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// WriteTimeout sets write timeout for http.Server
func WriteTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.WriteTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown,
// typically closing the storage backend
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler bounds every endpoint with http.TimeoutHandler
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		c.wrap(func(h http.Handler) http.Handler {
			return http.TimeoutHandler(h, d, msg)
		})
	})
}

func (c *config) wrap(mw func(http.Handler) http.Handler) {
	for pattern, rt := range c.routes {
		rt.handler = mw(rt.handler)
		c.routes[pattern] = rt
	}
}

// applyAuthenticate puts protected routes behind the session check
func applyAuthenticate(a *auth.Authenticator) Option {
	return optionFunc(func(c *config) {
		for pattern, rt := range c.routes {
			if rt.protected {
				rt.handler = authenticate(rt.handler, a)
				c.routes[pattern] = rt
			}
		}
	})
}

// applyEnforcePostJson wraps every route with enforcePostJson using the configured body limit
func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		limit := c.maxBodySize
		if limit <= 0 {
			limit = defaultMaxBodySize
		}
		c.wrap(func(h http.Handler) http.Handler {
			return enforcePostJson(h, limit)
		})
	})
}

// applyLog wraps every route with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		c.wrap(func(h http.Handler) http.Handler {
			return log(h, logger)
		})
	})
}

// registerRoutes registers each route for newly initialized http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerRoutes() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, rt := range c.routes {
			mux.Handle(pattern, rt.handler)
		}
		c.httpServer.Handler = mux
	})
}
