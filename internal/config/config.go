package config

import "time"

// Config is the root configuration for a client process.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Debug   bool          `yaml:"debug"`
	Session SessionConfig `yaml:"session"`
	Limits  LimitsConfig  `yaml:"limits"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig holds server endpoints.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"` // REST base, e.g. https://chat.example.com/api
	WSURL      string        `yaml:"ws_url"`   // WebSocket endpoint, e.g. wss://chat.example.com/ws
	Timeout    time.Duration `yaml:"timeout"`  // HTTP request timeout
	MaxRetries int           `yaml:"max_retries"`
}

// SessionConfig holds connection session timings.
type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`    // Max silence before the socket is considered stale
	ConnectTimeout    time.Duration `yaml:"connect_timeout"` // Dial + handshake deadline
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay"`
}

// LimitsConfig holds both rate limiter configurations.
type LimitsConfig struct {
	Connection ConnectionLimitConfig `yaml:"connection"`
	Messages   MessageLimitConfig    `yaml:"messages"`
}

// ConnectionLimitConfig configures the connection-attempt backoff limiter.
type ConnectionLimitConfig struct {
	Key          string        `yaml:"key"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Window       time.Duration `yaml:"window"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       *bool         `yaml:"jitter"`
}

// MessageLimitConfig configures the outbound message token bucket.
type MessageLimitConfig struct {
	Capacity       int           `yaml:"capacity"`
	RefillRate     int           `yaml:"refill_rate"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// AuthConfig holds credential manager settings.
type AuthConfig struct {
	PathPrefix     string        `yaml:"path_prefix"` // Appended to api.base_url for auth endpoints
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// StoreConfig selects and configures the durable key-value store.
type StoreConfig struct {
	Backend  string          `yaml:"backend"` // memory, file, postgres, redis
	File     FileStoreConfig `yaml:"file"`
	Postgres DBConfig        `yaml:"postgres"`
	Redis    RedisConfig     `yaml:"redis"`
}

// FileStoreConfig configures the JSON file store.
type FileStoreConfig struct {
	Path string `yaml:"path"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	Table    string `yaml:"table"`   // Key-value table name
	Channel  string `yaml:"channel"` // LISTEN/NOTIFY channel for change events
}

// RedisConfig holds the Redis store connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MetricsConfig holds Prometheus metrics settings. An empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}
