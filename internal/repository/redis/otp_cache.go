package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"accounts-service/internal/client"
	"accounts-service/internal/util"
)

const (
	otpPrefix         = "verify_otp:"
	otpAttemptsPrefix = "verify_otp_attempts:"
	resetTokenPrefix  = "pwd_reset:"

	maxOTPAttempts = 5
)

// OTPCache holds phone-verification OTP hashes and password-reset tokens.
// Only argon2 hashes go in here; the plaintext code lives exactly as long as
// the SMS or email that carried it.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

func (c *OTPCache) StoreOTPHash(phone, otpHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, otpPrefix+phone, otpHash, ttl)
	pipe.Del(ctx, otpAttemptsPrefix+phone)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store OTP hash",
			zap.String("phone", phone),
			zap.Error(err))
		return fmt.Errorf("failed to store OTP hash: %w", err)
	}

	util.Debug("OTP hash stored",
		zap.String("phone", phone),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) GetOTPHash(phone string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := otpPrefix + phone
	hash, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", fmt.Errorf("no pending OTP for phone: %s", phone)
		}
		return "", fmt.Errorf("failed to get OTP hash: %w", err)
	}
	return hash, nil
}

// RecordFailedAttempt bumps the per-phone failure counter and reports whether
// the OTP is exhausted. An exhausted OTP is deleted so the caller has to
// request a fresh one.
func (c *OTPCache) RecordFailedAttempt(phone string, otpTTL time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempts, err := c.client.IncrWithExpire(ctx, otpAttemptsPrefix+phone, otpTTL)
	if err != nil {
		return false, fmt.Errorf("failed to record OTP attempt: %w", err)
	}

	if attempts >= maxOTPAttempts {
		if err := c.ClearOTP(phone); err != nil {
			util.Warn("Failed to clear exhausted OTP",
				zap.String("phone", phone),
				zap.Error(err))
		}
		util.Warn("OTP attempts exhausted",
			zap.String("phone", phone),
			zap.Int64("attempts", attempts))
		return true, nil
	}

	return false, nil
}

func (c *OTPCache) ClearOTP(phone string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, otpPrefix+phone)
	pipe.Del(ctx, otpAttemptsPrefix+phone)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear OTP: %w", err)
	}
	return nil
}

func (c *OTPCache) StoreResetToken(token, accountID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, resetTokenPrefix+token, accountID, ttl); err != nil {
		util.Error("Failed to store reset token",
			zap.String("account_id", accountID),
			zap.Error(err))
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken resolves a password-reset token to its account and burns
// it in the same call. A token authorizes exactly one reset.
func (c *OTPCache) ConsumeResetToken(token string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := resetTokenPrefix + token
	accountID, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", fmt.Errorf("reset token not found or expired")
		}
		return "", fmt.Errorf("failed to get reset token: %w", err)
	}

	if err := c.client.Del(ctx, key); err != nil {
		util.Warn("Failed to burn reset token", zap.Error(err))
	}

	return accountID, nil
}
