// Package presence mirrors the in-memory presence map into Redis so tools
// outside the process can read who is online. The registry stays the source
// of truth; the mirror is best effort.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/logx"
)

const (
	// DefaultKey is the hash holding username -> "1"/"0".
	DefaultKey = "campus:presence"

	queueSize = 1024
	opTimeout = 2 * time.Second
)

type update struct {
	username string
	online   bool
}

// RedisMirror writes presence changes to a Redis hash from a single loop.
type RedisMirror struct {
	client  *redis.Client
	key     string
	updates chan update
	logger  zerolog.Logger
}

// Connect parses a redis:// URL, pings the server and returns a client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// NewRedisMirror returns a mirror writing to key (DefaultKey when empty).
func NewRedisMirror(client *redis.Client, key string) *RedisMirror {
	if key == "" {
		key = DefaultKey
	}
	return &RedisMirror{
		client:  client,
		key:     key,
		updates: make(chan update, queueSize),
		logger:  logx.Component("PresenceMirror"),
	}
}

// Publish queues a change. It never blocks; when the queue is full the
// change is dropped and logged.
func (m *RedisMirror) Publish(username string, online bool) {
	select {
	case m.updates <- update{username: username, online: online}:
	default:
		m.logger.Warn().Str("username", username).Msg("Presence queue full; dropping update")
	}
}

// Reset clears the mirrored hash. Entries left by an earlier process are stale.
func (m *RedisMirror) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("redis: reset presence: %w", err)
	}
	return nil
}

// Run writes queued changes until ctx is cancelled, then flushes what is
// still queued.
func (m *RedisMirror) Run(ctx context.Context) error {
	m.logger.Info().Str("key", m.key).Msg("Presence mirror started")
	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.logger.Info().Msg("Presence mirror stopped")
			return nil
		case u := <-m.updates:
			m.write(context.Background(), u)
		}
	}
}

func (m *RedisMirror) drain() {
	for {
		select {
		case u := <-m.updates:
			m.write(context.Background(), u)
		default:
			return
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, u update) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	value := "0"
	if u.online {
		value = "1"
	}
	if err := m.client.HSet(ctx, m.key, u.username, value).Err(); err != nil {
		m.logger.Warn().Err(err).Str("username", u.username).Msg("Failed to mirror presence")
	}
}

// Snapshot reads the mirrored presence map.
func (m *RedisMirror) Snapshot(ctx context.Context) (map[string]bool, error) {
	raw, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: read presence: %w", err)
	}
	out := make(map[string]bool, len(raw))
	for user, v := range raw {
		out[user] = v == "1"
	}
	return out, nil
}

// Close closes the underlying client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
