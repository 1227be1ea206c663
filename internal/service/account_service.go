package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"accounts-service/internal/bucketing"
	"accounts-service/internal/hashing"
	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
	"accounts-service/internal/util"
)

const (
	sessionTTL    = 24 * time.Hour
	otpTTL        = 10 * time.Minute
	resetTokenTTL = 30 * time.Minute

	loginRateLimit  = 10
	loginRateWindow = 5 * time.Minute
	otpRateLimit    = 5
	otpRateWindow   = time.Hour
)

// AccountService handles registration, authentication and account lifecycle.
type AccountService struct {
	accounts  scylla.AccountRepository
	ledger    scylla.LedgerRepository
	referrals *ReferralService
	hasher    *hashing.Hasher
	buckets   *bucketing.BucketingManager
	sessions  SessionStore
	otps      OTPStore
	limiter   RateLimiter
	recorder  *Recorder
	search    AccountSearcher
}

// AccountSearcher is the slice of the Elasticsearch client the service needs.
type AccountSearcher interface {
	SearchAccounts(ctx context.Context, queryText string, limit int) ([]*models.AccountDocument, error)
}

type AccountCreateRequest struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type AccountUpdateRequest struct {
	Handle *string `json:"handle,omitempty"`
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty"`
}

type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// Totals is the combined ledger and referral summary for one account.
type Totals struct {
	TotalDeposit   decimal.Decimal `json:"total_deposit"`
	TotalWithdraw  decimal.Decimal `json:"total_withdraw"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	TotalReferrals int64           `json:"total_referrals"`
}

func NewAccountService(
	accounts scylla.AccountRepository,
	ledger scylla.LedgerRepository,
	referrals *ReferralService,
	hasher *hashing.Hasher,
	buckets *bucketing.BucketingManager,
	sessions SessionStore,
	otps OTPStore,
	limiter RateLimiter,
	recorder *Recorder,
	search AccountSearcher,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		ledger:    ledger,
		referrals: referrals,
		hasher:    hasher,
		buckets:   buckets,
		sessions:  sessions,
		otps:      otps,
		limiter:   limiter,
		recorder:  recorder,
		search:    search,
	}
}

// CreateAccount registers a new account. The referral code is claimed before
// the account write and released if that write fails; the referrer's counter
// is credited only after the account committed, so a referred signup that
// never lands is never counted.
func (s *AccountService) CreateAccount(ctx context.Context, req *AccountCreateRequest) (*models.Account, *models.Profile, error) {
	if err := validateHandle(req.Handle); err != nil {
		return nil, nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, nil, err
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, nil, err
	}

	hashResult, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	accountID := uuid.New().String()
	account := &models.Account{
		AccountBucket: s.buckets.GetAccountBucket(accountID),
		AccountID:     accountID,
		Handle:        req.Handle,
		Name:          req.Name,
		Email:         req.Email,
		PasswordHash:  hashResult.Hash,
		PasswordSalt:  hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
	}

	profile, referrerProfileID, err := s.referrals.CreateProfile(ctx, accountID, req.ReferralCode)
	if err != nil {
		return nil, nil, err
	}

	if err := s.accounts.CreateAccount(ctx, account, profile); err != nil {
		s.referrals.ReleaseProfile(ctx, profile)
		switch {
		case errors.Is(err, scylla.ErrHandleTaken):
			return nil, nil, ErrDuplicateHandle
		case errors.Is(err, scylla.ErrEmailTaken):
			return nil, nil, ErrDuplicateEmail
		}
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.referrals.CreditReferrer(ctx, referrerProfileID, accountID)
	s.recorder.PublishAccountEvent(models.EventAccountCreated, accountID, map[string]string{
		"handle":   account.Handle,
		"referred": fmt.Sprintf("%t", referrerProfileID != ""),
	})
	s.recorder.Audit(accountID, "account.create", "success", "")
	s.recorder.IndexAccount(account)

	return account, profile, nil
}

// Authenticate checks the password before the verification flag, so an
// unverified caller with wrong credentials learns nothing about the account's
// verification state.
func (s *AccountService) Authenticate(ctx context.Context, req *LoginRequest) (*models.Account, string, error) {
	allowed, err := s.limiter.Allow("login", req.Handle, loginRateLimit, loginRateWindow)
	if err != nil {
		util.Warn("Login rate limit check failed, allowing", zap.Error(err))
	} else if !allowed {
		return nil, "", ErrRateLimited
	}

	account, err := s.accounts.GetAccountByHandle(ctx, req.Handle)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			s.recorder.Audit("", "account.login", "failure", "unknown handle")
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to load account: %w", err)
	}

	ok, err := s.hasher.VerifyPassword(req.Password, &hashing.HashResult{
		Hash:          account.PasswordHash,
		Salt:          account.PasswordSalt,
		PepperVersion: account.PepperVersion,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.recorder.Audit(account.AccountID, "account.login", "failure", "bad password")
		return nil, "", ErrInvalidCredentials
	}

	if !account.IsVerified {
		s.recorder.Audit(account.AccountID, "account.login", "failure", "not verified")
		return nil, "", ErrNotVerified
	}

	sessionID := uuid.New().String()
	sessionData := map[string]interface{}{
		"account_id":     account.AccountID,
		"account_bucket": account.AccountBucket,
		"handle":         account.Handle,
	}
	if err := s.sessions.SetActiveSession(account.AccountID, sessionID, sessionData, sessionTTL); err != nil {
		return nil, "", fmt.Errorf("failed to establish session: %w", err)
	}

	now := time.Now().UTC()
	if err := s.accounts.UpdateLastLogin(ctx, account.AccountBucket, account.AccountID, now); err != nil {
		util.Warn("Failed to record last login",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}
	account.LastLogin = &now

	s.recorder.Audit(account.AccountID, "account.login", "success", "")
	return account, sessionID, nil
}

func (s *AccountService) Logout(ctx context.Context, accountID string) error {
	return s.sessions.InvalidateSession(accountID)
}

// RequestVerificationOTP generates a one-time code for the handle's phone
// number and stores only its hash. Delivery is the SMS pipeline's problem;
// the code is returned to the caller for it.
func (s *AccountService) RequestVerificationOTP(ctx context.Context, handle string) (string, error) {
	if err := validateHandle(handle); err != nil {
		return "", err
	}

	allowed, err := s.limiter.Allow("otp_request", handle, otpRateLimit, otpRateWindow)
	if err != nil {
		util.Warn("OTP rate limit check failed, allowing", zap.Error(err))
	} else if !allowed {
		return "", ErrRateLimited
	}

	account, err := s.accounts.GetAccountByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("failed to load account: %w", err)
	}

	otp, err := generateOTP()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashResult, err := s.hasher.HashOTP(otp)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}
	encoded, err := json.Marshal(hashResult)
	if err != nil {
		return "", fmt.Errorf("failed to encode OTP hash: %w", err)
	}

	if err := s.otps.StoreOTPHash(handle, string(encoded), otpTTL); err != nil {
		return "", err
	}

	s.recorder.Audit(account.AccountID, "account.otp_request", "success", "")
	return otp, nil
}

// VerifyPhone consumes a pending OTP and flips the account's verification
// flag.
func (s *AccountService) VerifyPhone(ctx context.Context, handle, otp string) error {
	account, err := s.accounts.GetAccountByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to load account: %w", err)
	}

	encoded, err := s.otps.GetOTPHash(handle)
	if err != nil {
		return ErrInvalidCredentials
	}

	var hashResult hashing.HashResult
	if err := json.Unmarshal([]byte(encoded), &hashResult); err != nil {
		return fmt.Errorf("failed to decode OTP hash: %w", err)
	}

	ok, err := s.hasher.VerifyOTP(otp, &hashResult)
	if err != nil {
		return fmt.Errorf("failed to verify OTP: %w", err)
	}
	if !ok {
		exhausted, attemptErr := s.otps.RecordFailedAttempt(handle, otpTTL)
		if attemptErr != nil {
			util.Warn("Failed to record OTP attempt", zap.Error(attemptErr))
		}
		if exhausted {
			s.recorder.Audit(account.AccountID, "account.verify", "failure", "otp exhausted")
		}
		return ErrInvalidCredentials
	}

	if err := s.otps.ClearOTP(handle); err != nil {
		util.Warn("Failed to clear consumed OTP", zap.Error(err))
	}

	if err := s.accounts.UpdateVerification(ctx, account.AccountBucket, account.AccountID, true); err != nil {
		return fmt.Errorf("failed to set verification: %w", err)
	}

	account.IsVerified = true
	s.recorder.PublishAccountEvent(models.EventAccountVerified, account.AccountID, nil)
	s.recorder.Audit(account.AccountID, "account.verify", "success", "")
	s.recorder.IndexAccount(account)

	return nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, s.buckets.GetAccountBucket(accountID), accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func (s *AccountService) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// UpdateProfile applies partial updates. A changed handle is a changed phone
// number, so it drops the verification flag until the new number proves
// itself.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, req *AccountUpdateRequest) (*models.Account, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	oldHandle := account.Handle
	oldEmail := account.Email

	if req.Handle != nil && *req.Handle != account.Handle {
		if err := validateHandle(*req.Handle); err != nil {
			return nil, err
		}
		account.Handle = *req.Handle
		account.IsVerified = false
	}
	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		account.Name = *req.Name
	}
	if req.Email != nil && *req.Email != account.Email {
		if err := validateEmail(*req.Email); err != nil {
			return nil, err
		}
		account.Email = *req.Email
	}

	if err := s.accounts.UpdateAccountProfile(ctx, account, oldHandle, oldEmail); err != nil {
		switch {
		case errors.Is(err, scylla.ErrHandleTaken):
			return nil, ErrDuplicateHandle
		case errors.Is(err, scylla.ErrEmailTaken):
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.recorder.PublishAccountEvent(models.EventAccountUpdated, accountID, map[string]string{
		"handle_changed": fmt.Sprintf("%t", account.Handle != oldHandle),
	})
	s.recorder.Audit(accountID, "account.update", "success", "")
	s.recorder.IndexAccount(account)

	return account, nil
}

func (s *AccountService) UpdatePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.VerifyPassword(currentPassword, &hashing.HashResult{
		Hash:          account.PasswordHash,
		Salt:          account.PasswordSalt,
		PepperVersion: account.PepperVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.recorder.Audit(accountID, "account.password_change", "failure", "bad current password")
		return ErrInvalidCredentials
	}

	return s.setPassword(ctx, account, newPassword, "account.password_change")
}

// ForgotPassword issues a single-use reset token for the email's account. A
// miss reports success upstream; only the token's existence distinguishes a
// real account, and that never leaves the delivery pipeline.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) (string, error) {
	if err := validateEmail(email); err != nil {
		return "", err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("failed to load account: %w", err)
	}

	token := uuid.New().String()
	if err := s.otps.StoreResetToken(token, account.AccountID, resetTokenTTL); err != nil {
		return "", err
	}

	s.recorder.Audit(account.AccountID, "account.password_reset_request", "success", "")
	return token, nil
}

func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	accountID, err := s.otps.ConsumeResetToken(token)
	if err != nil {
		return ErrInvalidCredentials
	}

	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	return s.setPassword(ctx, account, newPassword, "account.password_reset")
}

func (s *AccountService) setPassword(ctx context.Context, account *models.Account, newPassword, operation string) error {
	hashResult, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.accounts.UpdatePassword(ctx, account.AccountBucket, account.AccountID,
		hashResult.Hash, hashResult.Salt, hashResult.PepperVersion); err != nil {
		return err
	}

	// A password change kills the live session.
	if err := s.sessions.InvalidateSession(account.AccountID); err != nil {
		util.Warn("Failed to invalidate session after password change",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}

	s.recorder.Audit(account.AccountID, operation, "success", "")
	return nil
}

// GetTotals aggregates the ledger and referral summary in one shot. The three
// reads are independent, so they run concurrently.
func (s *AccountService) GetTotals(ctx context.Context, accountID string) (*Totals, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	totals := &Totals{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sum, err := s.ledger.SumDeposits(gctx, accountID)
		if err != nil {
			return err
		}
		totals.TotalDeposit = sum
		return nil
	})
	g.Go(func() error {
		sum, err := s.ledger.SumWithdrawals(gctx, accountID)
		if err != nil {
			return err
		}
		totals.TotalWithdraw = sum
		return nil
	})
	g.Go(func() error {
		stats, err := s.referrals.GetReferralStats(gctx, accountID)
		if err != nil {
			return err
		}
		totals.TotalReferrals = stats.ReferredCount
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}

	totals.TotalBalance = totals.TotalDeposit.Sub(totals.TotalWithdraw)
	return totals, nil
}

// DeleteAccount removes the account and everything that hangs off it, then
// clears the session and the search index.
func (s *AccountService) DeleteAccount(ctx context.Context, accountID string) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	profile, err := s.referrals.GetProfile(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.accounts.DeleteAccount(ctx, account, profile); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	if err := s.sessions.InvalidateSession(accountID); err != nil {
		util.Warn("Failed to invalidate session after account deletion",
			zap.String("account_id", accountID),
			zap.Error(err))
	}

	s.recorder.RemoveAccountIndex(accountID)
	s.recorder.Audit(accountID, "account.delete", "success", "")

	return nil
}

// SearchAccounts is a support tool backed by the Elasticsearch index.
func (s *AccountService) SearchAccounts(ctx context.Context, query string, limit int) ([]*models.AccountDocument, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if s.search == nil {
		return nil, ErrLookupUnavailable
	}
	return s.search.SearchAccounts(ctx, query, limit)
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
