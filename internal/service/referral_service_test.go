package service

import (
	"context"
	"errors"
	"testing"
)

func TestCreateProfileRegeneratesOnCollision(t *testing.T) {
	fx := newServiceFixture()
	fx.profileRepo.claimFailures = 3

	profile, _, err := fx.referral.CreateProfile(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ReferralCode == "" {
		t.Fatal("expected a claimed referral code")
	}
	if fx.profileRepo.claimCalls != 4 {
		t.Fatalf("expected 4 claim attempts, got %d", fx.profileRepo.claimCalls)
	}
}

func TestCreateProfileExhaustsAttempts(t *testing.T) {
	fx := newServiceFixture()
	fx.profileRepo.claimFailures = referralClaimAttempts

	_, _, err := fx.referral.CreateProfile(context.Background(), "acct-1", "")
	if err == nil {
		t.Fatal("expected an error after exhausting claim attempts")
	}
}

func TestResolveReferralCode(t *testing.T) {
	fx := newServiceFixture()
	ctx := context.Background()

	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")
	profile, err := fx.referral.GetProfile(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}

	stats, err := fx.referral.ResolveReferralCode(ctx, profile.ReferralCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ProfileID != profile.ProfileID {
		t.Fatalf("expected profile %q, got %q", profile.ProfileID, stats.ProfileID)
	}
	if stats.ReferredCount != 0 {
		t.Fatalf("expected fresh counter, got %d", stats.ReferredCount)
	}

	if _, err := fx.referral.ResolveReferralCode(ctx, "nosuchcode"); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("expected ErrReferralNotFound, got %v", err)
	}
	if _, err := fx.referral.ResolveReferralCode(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty code, got %v", err)
	}
}

func TestCreditReferrerIncrementsOnce(t *testing.T) {
	fx := newServiceFixture()
	ctx := context.Background()

	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")
	profile, err := fx.referral.GetProfile(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}

	fx.referral.CreditReferrer(ctx, profile.ProfileID, "new-account")
	fx.referral.CreditReferrer(ctx, "", "ignored")

	stats, err := fx.referral.GetReferralStats(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ReferredCount != 1 {
		t.Fatalf("expected referred count 1, got %d", stats.ReferredCount)
	}
}

func TestNewReferralCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := newReferralCode()
		if len(code) != referralCodeLength {
			t.Fatalf("expected %d characters, got %q", referralCodeLength, code)
		}
		for _, r := range code {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				t.Fatalf("unexpected character %q in code %q", r, code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 99 {
		t.Fatalf("expected near-unique codes, got %d distinct of 100", len(seen))
	}
}
