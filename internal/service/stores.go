package service

import (
	"context"
	"time"

	"accounts-service/internal/models"
)

// SessionStore is the slice of the Redis session cache the services need.
type SessionStore interface {
	SetActiveSession(accountID, sessionID string, data map[string]interface{}, ttl time.Duration) error
	InvalidateSession(accountID string) error
}

// OTPStore holds hashed one-time codes and single-use reset tokens.
type OTPStore interface {
	StoreOTPHash(phone, otpHash string, ttl time.Duration) error
	GetOTPHash(phone string) (string, error)
	RecordFailedAttempt(phone string, otpTTL time.Duration) (bool, error)
	ClearOTP(phone string) error
	StoreResetToken(token, accountID string, ttl time.Duration) error
	ConsumeResetToken(token string) (string, error)
}

// RateLimiter answers whether one more request fits in the current window.
type RateLimiter interface {
	Allow(scope, subject string, limit int64, window time.Duration) (bool, error)
}

// BankLookup resolves the bank accounts reachable from a mobile number.
type BankLookup interface {
	LookupByMobile(ctx context.Context, mobile string) ([]models.VPALookupResult, string, error)
}
