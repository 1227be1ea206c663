package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"accounts-service/internal/client"
	"accounts-service/internal/util"
)

const (
	activeSessionPrefix = "active_session:"
	sessionDataPrefix   = "session_data:"
)

// SessionCache stores opaque session tokens. A token is just a random ID
// mapped to the account it authenticates; nothing about the account is
// derivable from the token itself.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) SetActiveSession(accountID, sessionID string, data map[string]interface{}, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, activeSessionPrefix+accountID, sessionID, ttl)
	pipe.Set(ctx, sessionDataPrefix+sessionID, string(jsonData), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to set active session",
			zap.String("account_id", accountID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set active session: %w", err)
	}

	util.Debug("Active session set",
		zap.String("account_id", accountID),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) GetActiveSession(accountID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := activeSessionPrefix + accountID
	sessionID, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", fmt.Errorf("no active session found for account: %s", accountID)
		}
		return "", fmt.Errorf("failed to get active session: %w", err)
	}
	return sessionID, nil
}

func (c *SessionCache) GetSessionData(sessionID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := sessionDataPrefix + sessionID
	jsonData, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return nil, fmt.Errorf("session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return data, nil
}

func (c *SessionCache) IsSessionValid(sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, sessionDataPrefix+sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to check session validity: %w", err)
	}
	return exists, nil
}

func (c *SessionCache) RefreshSession(accountID, sessionID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Expire(ctx, activeSessionPrefix+accountID, ttl)
	pipe.Expire(ctx, sessionDataPrefix+sessionID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	util.Debug("Session refreshed",
		zap.String("account_id", accountID),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) InvalidateSession(accountID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID, err := c.GetActiveSession(accountID)
	if err != nil {
		sessionID = ""
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, activeSessionPrefix+accountID)
	if sessionID != "" {
		pipe.Del(ctx, sessionDataPrefix+sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to invalidate session",
			zap.String("account_id", accountID),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	util.Info("Session invalidated", zap.String("account_id", accountID))
	return nil
}
