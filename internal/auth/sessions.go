package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemorySessions keeps sessions in process memory.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemorySessions) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = *s
	return nil
}

func (m *MemorySessions) Lookup(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, token)
		return "", ErrUnauthenticated
	}
	return s.UserID, nil
}

func (m *MemorySessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// RedisSessions keeps sessions in Redis so that every server instance
// sees the same logins. Expiry is left to the key TTL.
type RedisSessions struct {
	rdb *redis.Client
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions {
	return &RedisSessions{rdb: rdb}
}

func (r *RedisSessions) Save(ctx context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.Token)
	}
	return r.rdb.Set(ctx, sessionKey(s.Token), s.UserID, ttl).Err()
}

func (r *RedisSessions) Lookup(ctx context.Context, token string) (string, error) {
	uid, err := r.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	return uid, nil
}

func (r *RedisSessions) Delete(ctx context.Context, token string) error {
	return r.rdb.Del(ctx, sessionKey(token)).Err()
}

func sessionKey(token string) string { return "session:" + token }
