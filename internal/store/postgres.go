package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	listenRetryMin = 500 * time.Millisecond
	listenRetryMax = 30 * time.Second
)

// pgNotice is the NOTIFY payload. Values are fetched by the receiver so
// payloads stay under the server's size limit.
type pgNotice struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Op      string `json:"op"`
	Created bool   `json:"created,omitempty"`
}

// Postgres is a Store backed by a key-value table. Each write issues a
// NOTIFY on channel; a dedicated listener connection turns notifications
// from other instances into Change events.
type Postgres struct {
	db      *pgxpool.Pool
	table   string // Sanitized identifier
	channel string
	origin  string
	logger  *slog.Logger
	w       watchers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewPostgres creates the table if needed and starts the change listener.
// The pool is owned by the caller.
func NewPostgres(ctx context.Context, db *pgxpool.Pool, table, channel string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Postgres{
		db:      db,
		table:   pgx.Identifier{table}.Sanitize(),
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("store", "postgres", "table", table),
	}

	if _, err := db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, p.table)); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.listenLoop()

	return p, nil
}

// Get returns the value for key.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, p.table), key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value and notifies other instances in the same transaction.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		var inserted bool
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			RETURNING (xmax = 0)
		`, p.table), key, value).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return p.notify(ctx, tx, pgNotice{Key: key, Op: OpSet.String(), Created: inserted})
	})
}

// Delete removes keys and notifies for each key that existed.
func (p *Postgres) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1) RETURNING key`, p.table), keys,
		)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}

		for _, k := range deleted {
			if err := p.notify(ctx, tx, pgNotice{Key: k, Op: OpDelete.String()}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Watch registers fn for changes made by other instances.
func (p *Postgres) Watch(fn func(Change)) func() {
	return p.w.add(fn)
}

// Close stops the listener. The pool is left open.
func (p *Postgres) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
	return nil
}

func (p *Postgres) notify(ctx context.Context, tx pgx.Tx, n pgNotice) error {
	n.Origin = p.origin
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// listenLoop holds a connection in LISTEN mode, reconnecting with a
// doubling delay on failure.
func (p *Postgres) listenLoop() {
	defer p.wg.Done()

	delay := listenRetryMin
	for {
		err := p.listen()
		if p.ctx.Err() != nil {
			return
		}

		p.logger.Warn("change listener failed, retrying", "error", err, "delay", delay)
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, listenRetryMax)
	}
}

func (p *Postgres) listen() error {
	conn, err := p.db.Acquire(p.ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(p.ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	p.logger.Debug("listening for changes", "channel", p.channel)

	for {
		n, err := conn.Conn().WaitForNotification(p.ctx)
		if err != nil {
			return err
		}
		p.handleNotice(n.Payload)
	}
}

func (p *Postgres) handleNotice(payload string) {
	var n pgNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		p.logger.Debug("ignoring malformed notification", "error", err)
		return
	}
	if n.Origin == p.origin {
		return
	}

	switch n.Op {
	case OpDelete.String():
		p.w.notify(Change{Key: n.Key, Op: OpDelete})
	case OpSet.String():
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		defer cancel()

		value, ok, err := p.Get(ctx, n.Key)
		if err != nil {
			p.logger.Warn("failed to fetch changed key", "key", n.Key, "error", err)
			return
		}
		if !ok {
			// Deleted again before we read it.
			p.w.notify(Change{Key: n.Key, Op: OpDelete})
			return
		}
		p.w.notify(Change{Key: n.Key, Op: OpSet, Value: value, Created: n.Created})
	}
}
