package social

import "time"

// Config defines tunables of the relationship and chat operations, parsed from environment variables
type Config struct {
	RetryAttempts int           `env:"RETRY_ATTEMPTS" envDefault:"5"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"10ms"`
	MaxPageLimit  int           `env:"MAX_PAGE_LIMIT" envDefault:"100"`
}

// DefaultConfig is used by constructors when no Config is provided
var DefaultConfig = Config{
	RetryAttempts: 5,
	RetryBackoff:  10 * time.Millisecond,
	MaxPageLimit:  100,
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts < 1 {
		c.RetryAttempts = DefaultConfig.RetryAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.MaxPageLimit < 1 {
		c.MaxPageLimit = DefaultConfig.MaxPageLimit
	}
	return c
}
