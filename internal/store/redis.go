package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisNotice struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Op      string `json:"op"`
	Value   string `json:"value,omitempty"`
	Created bool   `json:"created,omitempty"`
}

// Redis is a Store backed by plain Redis keys. Writes are announced on a
// pub/sub channel so other instances can observe them.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	origin  string
	logger  *slog.Logger
	w       watchers

	pubsub *redis.PubSub
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewRedis subscribes to the change channel for prefix. The client is owned
// by the caller.
func NewRedis(ctx context.Context, client redis.UniversalClient, prefix string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Redis{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		origin:  uuid.NewString(),
		logger:  logger.With("store", "redis", "prefix", prefix),
	}

	r.pubsub = client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so no change is missed.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.wg.Add(1)
	go r.receiveLoop()

	return r, nil
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value and publishes the change.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	old, err := r.client.SetArgs(ctx, r.prefix+key, value, redis.SetArgs{Get: true}).Result()
	created := errors.Is(err, redis.Nil)
	if err != nil && !created {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if !created && old == value {
		return nil
	}
	return r.publish(ctx, redisNotice{Key: key, Op: OpSet.String(), Value: value, Created: created})
}

// Delete removes keys and publishes a change for each key that existed.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	cmds := make([]*redis.IntCmd, len(keys))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Del(ctx, r.prefix+k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			continue
		}
		if err := r.publish(ctx, redisNotice{Key: keys[i], Op: OpDelete.String()}); err != nil {
			return err
		}
	}
	return nil
}

// Watch registers fn for changes made by other instances.
func (r *Redis) Watch(fn func(Change)) func() {
	return r.w.add(fn)
}

// Close unsubscribes. The client is left open.
func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.pubsub.Close()
		r.wg.Wait()
	})
	return err
}

func (r *Redis) publish(ctx context.Context, n redisNotice) error {
	n.Origin = r.origin
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (r *Redis) receiveLoop() {
	defer r.wg.Done()

	// Channel is closed when the PubSub is closed.
	for msg := range r.pubsub.Channel() {
		var n redisNotice
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			r.logger.Debug("ignoring malformed notification", "error", err)
			continue
		}
		if n.Origin == r.origin {
			continue
		}

		switch n.Op {
		case OpSet.String():
			r.w.notify(Change{Key: n.Key, Op: OpSet, Value: n.Value, Created: n.Created})
		case OpDelete.String():
			r.w.notify(Change{Key: n.Key, Op: OpDelete})
		}
	}
}
