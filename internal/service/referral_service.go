package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
	"accounts-service/internal/util"
)

const (
	referralCodeLength    = 10
	referralClaimAttempts = 5
)

// ReferralService owns referral codes and the per-profile referral counter.
type ReferralService struct {
	profiles scylla.ProfileRepository
	recorder *Recorder
}

func NewReferralService(profiles scylla.ProfileRepository, recorder *Recorder) *ReferralService {
	return &ReferralService{
		profiles: profiles,
		recorder: recorder,
	}
}

func newReferralCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:referralCodeLength]
}

// CreateProfile builds the profile for a new account and claims a unique
// referral code for it, regenerating on collision. When referredByCode is set
// it must resolve to an existing profile; the returned referrer ID is
// credited only after the account write lands.
func (s *ReferralService) CreateProfile(ctx context.Context, accountID, referredByCode string) (*models.Profile, string, error) {
	profile := &models.Profile{
		ProfileID: uuid.New().String(),
		AccountID: accountID,
	}

	referrerProfileID := ""
	if referredByCode != "" {
		profileID, _, err := s.profiles.ResolveReferralCode(ctx, referredByCode)
		if err != nil {
			if errors.Is(err, scylla.ErrNotFound) {
				return nil, "", ErrReferralNotFound
			}
			return nil, "", fmt.Errorf("failed to resolve referral code: %w", err)
		}
		referrerProfileID = profileID
		profile.ReferredBy = referredByCode
	}

	var claimErr error
	for attempt := 0; attempt < referralClaimAttempts; attempt++ {
		code := newReferralCode()
		claimErr = s.profiles.ClaimReferralCode(ctx, code, profile.ProfileID, accountID)
		if claimErr == nil {
			profile.ReferralCode = code
			break
		}
		if !errors.Is(claimErr, scylla.ErrCodeTaken) {
			return nil, "", fmt.Errorf("failed to claim referral code: %w", claimErr)
		}
		util.Warn("Referral code collision, regenerating",
			zap.String("account_id", accountID),
			zap.Int("attempt", attempt+1))
	}
	if profile.ReferralCode == "" {
		return nil, "", fmt.Errorf("exhausted referral code attempts: %w", claimErr)
	}

	return profile, referrerProfileID, nil
}

// ReleaseProfile compensates a failed account creation by freeing the claimed
// referral code.
func (s *ReferralService) ReleaseProfile(ctx context.Context, profile *models.Profile) {
	if profile == nil || profile.ReferralCode == "" {
		return
	}
	if err := s.profiles.ReleaseReferralCode(ctx, profile.ReferralCode); err != nil {
		util.Warn("Failed to release referral code after failed signup",
			zap.String("account_id", profile.AccountID),
			zap.Error(err))
	}
}

// CreditReferrer bumps the referrer's counter after a referred signup
// committed.
func (s *ReferralService) CreditReferrer(ctx context.Context, referrerProfileID, newAccountID string) {
	if referrerProfileID == "" {
		return
	}

	if err := s.profiles.IncrementReferredCount(ctx, referrerProfileID); err != nil {
		util.Error("Failed to credit referrer",
			zap.String("referrer_profile_id", referrerProfileID),
			zap.String("new_account_id", newAccountID),
			zap.Error(err))
		return
	}

	s.recorder.PublishAccountEvent(models.EventReferralLinked, newAccountID, map[string]string{
		"referrer_profile_id": referrerProfileID,
	})
}

func (s *ReferralService) ResolveReferralCode(ctx context.Context, code string) (*models.ReferralStats, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", ErrInvalidInput)
	}

	profileID, _, err := s.profiles.ResolveReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to resolve referral code: %w", err)
	}

	return s.statsFor(ctx, profileID)
}

// GetReferralStats reads the live counter for the account's own profile.
func (s *ReferralService) GetReferralStats(ctx context.Context, accountID string) (*models.ReferralStats, error) {
	profile, err := s.profiles.GetProfileByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	return s.statsFor(ctx, profile.ProfileID)
}

func (s *ReferralService) GetProfile(ctx context.Context, accountID string) (*models.Profile, error) {
	profile, err := s.profiles.GetProfileByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}

func (s *ReferralService) statsFor(ctx context.Context, profileID string) (*models.ReferralStats, error) {
	count, err := s.profiles.GetReferredCount(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to read referral counter: %w", err)
	}

	return &models.ReferralStats{
		ProfileID:     profileID,
		ReferredCount: count,
	}, nil
}
