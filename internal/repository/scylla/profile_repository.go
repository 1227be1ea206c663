package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

type profileRepository struct {
	client *ScyllaClient
}

func NewProfileRepository(client *ScyllaClient) ProfileRepository {
	return &profileRepository{client: client}
}

// ClaimReferralCode reserves a code with an LWT insert. Callers generate a
// fresh code and retry on ErrCodeTaken.
func (r *profileRepository) ClaimReferralCode(ctx context.Context, code, profileID, accountID string) error {
	applied, err := r.client.Session.Query(`
		INSERT INTO referral_codes (code, profile_id, account_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		code, profileID, accountID, time.Now().UTC()).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim referral code: %w", err)
	}
	if !applied {
		return ErrCodeTaken
	}
	return nil
}

func (r *profileRepository) ReleaseReferralCode(ctx context.Context, code string) error {
	if err := r.client.Session.Query(`DELETE FROM referral_codes WHERE code = ?`, code).
		WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to release referral code",
			zap.String("code", code),
			zap.Error(err))
		return fmt.Errorf("failed to release referral code: %w", err)
	}
	return nil
}

func (r *profileRepository) ResolveReferralCode(ctx context.Context, code string) (string, string, error) {
	var storedCode, profileID, accountID string

	query := r.client.Prepared.GetReferralCodeOwner.Bind(code).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &storedCode, &profileID, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return "", "", ErrNotFound
		}
		util.Error("Failed to resolve referral code",
			zap.String("code", code),
			zap.Error(err))
		return "", "", fmt.Errorf("failed to resolve referral code: %w", err)
	}

	return profileID, accountID, nil
}

func (r *profileRepository) GetProfileByAccount(ctx context.Context, accountID string) (*models.Profile, error) {
	profile := &models.Profile{}
	var updatedAt time.Time

	query := r.client.Prepared.GetProfileByAccount.Bind(accountID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&profile.AccountID, &profile.ProfileID, &profile.ReferralCode,
		&profile.ReferredBy, &profile.CreatedAt, &updatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get profile",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if !updatedAt.IsZero() {
		profile.UpdatedAt = &updatedAt
	}
	return profile, nil
}

// IncrementReferredCount bumps the counter column. Counter updates are atomic
// per cell, so concurrent signups against the same referrer never lose an
// increment.
func (r *profileRepository) IncrementReferredCount(ctx context.Context, profileID string) error {
	query := r.client.Prepared.IncrementReferred.Bind(profileID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to increment referred count",
			zap.String("profile_id", profileID),
			zap.Error(err))
		return fmt.Errorf("failed to increment referred count: %w", err)
	}
	return nil
}

func (r *profileRepository) GetReferredCount(ctx context.Context, profileID string) (int64, error) {
	var count int64

	query := r.client.Prepared.GetReferredCount.Bind(profileID).WithContext(ctx)
	if err := query.Scan(&count); err != nil {
		if err == gocql.ErrNotFound {
			// No increments yet; the counter row does not exist until the
			// first one lands.
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read referred count: %w", err)
	}

	return count, nil
}
