// Package session keeps short-lived session state in Redis: the composer
// state of the highlight store and revoked access tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"marginalia/internal/highlight"
)

const defaultTTL = 24 * time.Hour

// RedisStore stores JSON session values under prefixed keys with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "marginalia:",
		ttl:    ttl,
	}
}

func (s *RedisStore) uiKey(sessionKey string) string {
	return s.prefix + "ui:" + sessionKey
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

// SaveUIState stores the composer state for sessionKey, refreshing its TTL.
func (s *RedisStore) SaveUIState(ctx context.Context, sessionKey string, state highlight.UIState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal ui state: %w", err)
	}
	if err := s.client.Set(ctx, s.uiKey(sessionKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save ui state: %w", err)
	}
	return nil
}

// LoadUIState returns the stored composer state and whether one existed.
func (s *RedisStore) LoadUIState(ctx context.Context, sessionKey string) (highlight.UIState, bool, error) {
	raw, err := s.client.Get(ctx, s.uiKey(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return highlight.UIState{}, false, nil
	}
	if err != nil {
		return highlight.UIState{}, false, fmt.Errorf("load ui state: %w", err)
	}

	var state highlight.UIState
	if err := json.Unmarshal(raw, &state); err != nil {
		return highlight.UIState{}, false, fmt.Errorf("unmarshal ui state: %w", err)
	}
	return state, true, nil
}

// DeleteUIState forgets the composer state for sessionKey.
func (s *RedisStore) DeleteUIState(ctx context.Context, sessionKey string) error {
	if err := s.client.Del(ctx, s.uiKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("delete ui state: %w", err)
	}
	return nil
}

// RevokeToken denies the access token jti until it would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti has been revoked.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// UIStateStore is the part of RedisStore the mirror needs.
type UIStateStore interface {
	SaveUIState(ctx context.Context, sessionKey string, state highlight.UIState) error
	LoadUIState(ctx context.Context, sessionKey string) (highlight.UIState, bool, error)
}

// Mirror snapshots the composer state of hs to states after every change
// and returns a function that stops mirroring. Failures are logged.
func Mirror(hs *highlight.Store, states UIStateStore, sessionKey string, logger zerolog.Logger) func() {
	return hs.Subscribe(func(c highlight.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := states.SaveUIState(ctx, sessionKey, hs.UI()); err != nil {
			logger.Warn().Err(err).Str("change", string(c.Kind)).Msg("failed to mirror ui state")
		}
	})
}

// Restore reinstates the stored composer state into hs, if any. It reports
// whether a state was found.
func Restore(ctx context.Context, hs *highlight.Store, states UIStateStore, sessionKey string) (bool, error) {
	state, ok, err := states.LoadUIState(ctx, sessionKey)
	if err != nil || !ok {
		return false, err
	}
	hs.RestoreUI(state)
	return true, nil
}
