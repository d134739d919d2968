package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}

	if c.Session.HeartbeatInterval <= 0 {
		return errors.New("session.heartbeat_interval must be > 0")
	}
	if c.Session.PongTimeout < c.Session.HeartbeatInterval {
		return fmt.Errorf("session.pong_timeout (%s) cannot be shorter than heartbeat_interval (%s)",
			c.Session.PongTimeout, c.Session.HeartbeatInterval)
	}

	conn := c.Limits.Connection
	if conn.MaxAttempts < 1 {
		return errors.New("limits.connection.max_attempts must be >= 1")
	}
	if conn.Window <= 0 {
		return errors.New("limits.connection.window must be > 0")
	}
	if conn.MaxDelay < conn.InitialDelay {
		return fmt.Errorf("limits.connection.initial_delay (%s) cannot exceed max_delay (%s)",
			conn.InitialDelay, conn.MaxDelay)
	}

	msgs := c.Limits.Messages
	if msgs.Capacity < 1 {
		return errors.New("limits.messages.capacity must be >= 1")
	}
	if msgs.RefillRate < 1 {
		return errors.New("limits.messages.refill_rate must be >= 1")
	}

	if c.Auth.SessionTimeout <= 0 {
		return errors.New("auth.session_timeout must be > 0")
	}

	return c.Store.validate()
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *StoreConfig) validate() error {
	switch s.Backend {
	case "memory":
		return nil
	case "file":
		if s.File.Path == "" {
			return errors.New("store.file.path is required")
		}
		return nil
	case "postgres":
		return s.Postgres.validate("store.postgres")
	case "redis":
		if s.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
		return nil
	default:
		return fmt.Errorf("store.backend must be one of memory, file, postgres, redis, got %q", s.Backend)
	}
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	if !identRe.MatchString(db.Table) {
		return fmt.Errorf("%s.table %q is not a valid identifier", prefix, db.Table)
	}
	if !identRe.MatchString(db.Channel) {
		return fmt.Errorf("%s.channel %q is not a valid identifier", prefix, db.Channel)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}
