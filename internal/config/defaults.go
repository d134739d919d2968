package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultReconnectMinDelay = 1 * time.Second
	DefaultConnectionKey     = "websocket_connection"
	DefaultMaxAttempts       = 5
	DefaultAttemptWindow     = 60 * time.Second
	DefaultInitialDelay      = 1 * time.Second
	DefaultMaxDelay          = 32 * time.Second
	DefaultBucketCapacity    = 60
	DefaultRefillRate        = 1
	DefaultRefillInterval    = 1 * time.Second
	DefaultAuthPathPrefix    = "/auth"
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultStoreBackend      = "file"
	DefaultStorePath         = ".huddle/credentials.json"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultDBTable           = "huddle_kv"
	DefaultDBChannel         = "huddle_kv_changes"
	DefaultRedisKeyPrefix    = "huddle:"
	DefaultMetricsPath       = "/metrics"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Session defaults
	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Session.PongTimeout == 0 {
		c.Session.PongTimeout = 2 * c.Session.HeartbeatInterval
	}
	if c.Session.ConnectTimeout == 0 {
		c.Session.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
	if c.Session.ReconnectMinDelay == 0 {
		c.Session.ReconnectMinDelay = DefaultReconnectMinDelay
	}

	// Limiter defaults
	conn := &c.Limits.Connection
	if conn.Key == "" {
		conn.Key = DefaultConnectionKey
	}
	if conn.MaxAttempts == 0 {
		conn.MaxAttempts = DefaultMaxAttempts
	}
	if conn.Window == 0 {
		conn.Window = DefaultAttemptWindow
	}
	if conn.InitialDelay == 0 {
		conn.InitialDelay = DefaultInitialDelay
	}
	if conn.MaxDelay == 0 {
		conn.MaxDelay = DefaultMaxDelay
	}
	if conn.Jitter == nil {
		jitter := true
		conn.Jitter = &jitter
	}

	msgs := &c.Limits.Messages
	if msgs.Capacity == 0 {
		msgs.Capacity = DefaultBucketCapacity
	}
	if msgs.RefillRate == 0 {
		msgs.RefillRate = DefaultRefillRate
	}
	if msgs.RefillInterval == 0 {
		msgs.RefillInterval = DefaultRefillInterval
	}

	// Auth defaults
	if c.Auth.PathPrefix == "" {
		c.Auth.PathPrefix = DefaultAuthPathPrefix
	}
	if c.Auth.SessionTimeout == 0 {
		c.Auth.SessionTimeout = DefaultSessionTimeout
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.File.Path == "" {
		c.Store.File.Path = DefaultStorePath
	}
	applyDBDefaults(&c.Store.Postgres)
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.Table == "" {
		db.Table = DefaultDBTable
	}
	if db.Channel == "" {
		db.Channel = DefaultDBChannel
	}
}
