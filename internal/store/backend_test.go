package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/huddle-client/internal/config"
	"github.com/rickgao/huddle-client/internal/database"
)

// Backend tests need live servers and are skipped unless configured.
const (
	envTestPostgresDSN = "HUDDLE_TEST_POSTGRES_DSN" // host:port:db:user:password
	envTestRedisAddr   = "HUDDLE_TEST_REDIS_ADDR"
)

func TestPostgres(t *testing.T) {
	dsn := os.Getenv(envTestPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", envTestPostgresDSN)
	}

	cfg, err := parseTestDSN(dsn)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	table := fmt.Sprintf("huddle_kv_test_%d", time.Now().UnixNano())
	defer pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)

	a, err := NewPostgres(ctx, pool, table, table, nil)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer a.Close()

	b, err := NewPostgres(ctx, pool, table, table, nil)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer b.Close()

	// Give both listeners time to issue LISTEN.
	time.Sleep(200 * time.Millisecond)

	exerciseStore(t, a, b)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv(envTestRedisAddr)
	if addr == "" {
		t.Skipf("%s not set", envTestRedisAddr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	prefix := fmt.Sprintf("huddle-test-%d:", time.Now().UnixNano())

	a, err := NewRedis(ctx, client, prefix, nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer a.Close()

	b, err := NewRedis(ctx, client, prefix, nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer b.Close()

	exerciseStore(t, a, b)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "etcd"}, nil)
	if err == nil {
		t.Error("Open should reject unknown backend")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, ok := s.(*Memory); !ok {
		t.Errorf("Open(memory) = %T, want *Memory", s)
	}
}

func parseTestDSN(dsn string) (config.DBConfig, error) {
	parts := strings.SplitN(dsn, ":", 5)
	if len(parts) != 5 {
		return config.DBConfig{}, fmt.Errorf("%s must be host:port:db:user:password", envTestPostgresDSN)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return config.DBConfig{}, fmt.Errorf("invalid port %q: %w", parts[1], err)
	}

	return config.DBConfig{
		Host:     parts[0],
		Port:     port,
		Name:     parts[2],
		User:     parts[3],
		Password: parts[4],
		SSLMode:  "disable",
		MaxConns: 4,
		MinConns: 1,
	}, nil
}
