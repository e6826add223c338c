package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"riskauth-service/internal/client"
	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

var ErrNoActiveSession = errors.New("no active session for user")

// SessionCache keeps the current session id per user with a TTL. It is an
// availability aid only: the event ledger remains the source of truth and
// cache write failures never fail a login.
type SessionCache struct {
	client *client.RedisClient
}

var _ model.SessionCache = (*SessionCache)(nil)

func NewSessionCache(rc *client.RedisClient) *SessionCache {
	return &SessionCache{
		client: rc,
	}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("session:active:%s", userID)
}

func (c *SessionCache) SetActiveSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	if err := c.client.Client.Set(ctx, sessionKey(userID), sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache active session: %w", err)
	}

	util.Debug("Active session cached",
		zap.String("user_id", userID),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *SessionCache) GetActiveSession(ctx context.Context, userID string) (string, error) {
	sessionID, err := c.client.Client.Get(ctx, sessionKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoActiveSession
		}
		return "", fmt.Errorf("failed to read active session: %w", err)
	}
	return sessionID, nil
}

func (c *SessionCache) InvalidateSession(ctx context.Context, userID string) error {
	if err := c.client.Client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}
