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

type accountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient) AccountRepository {
	return &accountRepository{client: client}
}

// CreateAccount claims the handle and email with LWT inserts, then writes the
// account, profile and profile lookup rows in a single logged batch. A failed
// step releases every claim taken before it.
func (r *accountRepository) CreateAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	profile.CreatedAt = now

	applied, err := r.client.Session.Query(`
		INSERT INTO handle_to_account (handle, account_bucket, account_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		account.Handle, account.AccountBucket, account.AccountID, now).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim handle: %w", err)
	}
	if !applied {
		return ErrHandleTaken
	}

	applied, err = r.client.Session.Query(`
		INSERT INTO email_to_account (email, account_bucket, account_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		account.Email, account.AccountBucket, account.AccountID, now).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		r.releaseHandle(ctx, account.Handle)
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		r.releaseHandle(ctx, account.Handle)
		return ErrEmailTaken
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateAccount.Statement(),
		account.AccountBucket, account.AccountID, account.Handle, account.Name,
		account.Email, account.PasswordHash, account.PasswordSalt, account.PepperVersion,
		account.IsVerified, account.CreatedAt, account.UpdatedAt, account.LastLogin)

	batch.Query(r.client.Prepared.CreateProfile.Statement(),
		profile.AccountID, profile.ProfileID, profile.ReferralCode,
		profile.ReferredBy, profile.CreatedAt, profile.UpdatedAt)

	batch.Query(`INSERT INTO profiles_by_id (profile_id, account_id) VALUES (?, ?)`,
		profile.ProfileID, profile.AccountID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		r.releaseHandle(ctx, account.Handle)
		r.releaseEmail(ctx, account.Email)
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.String("handle", account.Handle),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.String("handle", account.Handle),
		zap.Int("account_bucket", account.AccountBucket))

	return nil
}

func (r *accountRepository) GetAccountByID(ctx context.Context, bucket int, accountID string) (*models.Account, error) {
	account := &models.Account{}
	var updatedAt, lastLogin time.Time

	query := r.client.Prepared.GetAccountByID.Bind(bucket, accountID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&account.AccountBucket, &account.AccountID, &account.Handle, &account.Name,
		&account.Email, &account.PasswordHash, &account.PasswordSalt, &account.PepperVersion,
		&account.IsVerified, &account.CreatedAt, &updatedAt, &lastLogin)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get account by ID",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}

	setOptionalTimes(account, updatedAt, lastLogin)
	return account, nil
}

func (r *accountRepository) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	var bucket int
	var accountID string

	query := r.client.Prepared.GetHandleOwner.Bind(handle).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve handle: %w", err)
	}

	return r.GetAccountByID(ctx, bucket, accountID)
}

func (r *accountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var bucket int
	var accountID string

	query := r.client.Prepared.GetEmailOwner.Bind(email).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}

	return r.GetAccountByID(ctx, bucket, accountID)
}

// UpdateAccountProfile persists handle, name, email and verification state. A
// changed handle or email claims the new value first and releases the old one
// only after the row update lands, so a crash never leaves the live value
// unclaimed.
func (r *accountRepository) UpdateAccountProfile(ctx context.Context, account *models.Account, oldHandle, oldEmail string) error {
	now := time.Now().UTC()
	account.UpdatedAt = &now

	handleChanged := account.Handle != oldHandle
	emailChanged := account.Email != oldEmail

	if handleChanged {
		applied, err := r.client.Session.Query(`
			INSERT INTO handle_to_account (handle, account_bucket, account_id, created_at)
			VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			account.Handle, account.AccountBucket, account.AccountID, now).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return fmt.Errorf("failed to claim handle: %w", err)
		}
		if !applied {
			return ErrHandleTaken
		}
	}

	if emailChanged {
		applied, err := r.client.Session.Query(`
			INSERT INTO email_to_account (email, account_bucket, account_id, created_at)
			VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			account.Email, account.AccountBucket, account.AccountID, now).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			if handleChanged {
				r.releaseHandle(ctx, account.Handle)
			}
			return fmt.Errorf("failed to claim email: %w", err)
		}
		if !applied {
			if handleChanged {
				r.releaseHandle(ctx, account.Handle)
			}
			return ErrEmailTaken
		}
	}

	query := r.client.Prepared.UpdateAccountProfile.Bind(
		account.Handle, account.Name, account.Email, account.IsVerified, now,
		account.AccountBucket, account.AccountID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		if handleChanged {
			r.releaseHandle(ctx, account.Handle)
		}
		if emailChanged {
			r.releaseEmail(ctx, account.Email)
		}
		util.Error("Failed to update account profile",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to update account profile: %w", err)
	}

	if handleChanged {
		r.releaseHandle(ctx, oldHandle)
	}
	if emailChanged {
		r.releaseEmail(ctx, oldEmail)
	}

	util.Info("Account profile updated",
		zap.String("account_id", account.AccountID),
		zap.Bool("handle_changed", handleChanged),
		zap.Bool("email_changed", emailChanged))

	return nil
}

func (r *accountRepository) UpdateVerification(ctx context.Context, bucket int, accountID string, verified bool) error {
	now := time.Now().UTC()
	query := r.client.Prepared.SetVerified.Bind(verified, now, bucket, accountID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update verification status",
			zap.String("account_id", accountID),
			zap.Bool("is_verified", verified),
			zap.Error(err))
		return fmt.Errorf("failed to update verification status: %w", err)
	}

	util.Info("Account verification status updated",
		zap.String("account_id", accountID),
		zap.Bool("is_verified", verified))

	return nil
}

func (r *accountRepository) UpdateLastLogin(ctx context.Context, bucket int, accountID string, at time.Time) error {
	query := r.client.Prepared.UpdateLastLogin.Bind(at.UTC(), bucket, accountID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdatePassword(ctx context.Context, bucket int, accountID, hash, salt string, pepperVersion int) error {
	now := time.Now().UTC()
	query := r.client.Prepared.UpdatePassword.Bind(hash, salt, pepperVersion, now, bucket, accountID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update password",
			zap.String("account_id", accountID),
			zap.Error(err))
		return fmt.Errorf("failed to update password: %w", err)
	}

	util.Info("Account password updated", zap.String("account_id", accountID))
	return nil
}

// DeleteAccount removes the account and everything hanging off it. The claim
// rows go first so the handle and email free up even if a later delete fails
// and the sweep has to be retried.
func (r *accountRepository) DeleteAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	r.releaseHandle(ctx, account.Handle)
	r.releaseEmail(ctx, account.Email)

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM accounts WHERE account_bucket = ? AND account_id = ?`,
		account.AccountBucket, account.AccountID)
	batch.Query(`DELETE FROM profiles WHERE account_id = ?`, account.AccountID)
	batch.Query(`DELETE FROM profiles_by_id WHERE profile_id = ?`, profile.ProfileID)
	batch.Query(`DELETE FROM referral_codes WHERE code = ?`, profile.ReferralCode)
	batch.Query(`DELETE FROM kyc_records WHERE account_id = ?`, account.AccountID)
	batch.Query(`DELETE FROM bank_details WHERE account_id = ?`, account.AccountID)
	batch.Query(`DELETE FROM addresses WHERE account_id = ?`, account.AccountID)
	batch.Query(`DELETE FROM deposits WHERE account_id = ?`, account.AccountID)
	batch.Query(`DELETE FROM withdrawals WHERE account_id = ?`, account.AccountID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to delete account: %w", err)
	}

	// Counter tables cannot join a logged batch.
	if err := r.client.Session.Query(`DELETE FROM referral_counters WHERE profile_id = ?`,
		profile.ProfileID).WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to delete referral counter",
			zap.String("profile_id", profile.ProfileID),
			zap.Error(err))
	}

	util.Info("Account deleted",
		zap.String("account_id", account.AccountID),
		zap.String("handle", account.Handle))

	return nil
}

func (r *accountRepository) releaseHandle(ctx context.Context, handle string) {
	if err := r.client.Session.Query(`DELETE FROM handle_to_account WHERE handle = ?`, handle).
		WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to release handle claim",
			zap.String("handle", handle),
			zap.Error(err))
	}
}

func (r *accountRepository) releaseEmail(ctx context.Context, email string) {
	if err := r.client.Session.Query(`DELETE FROM email_to_account WHERE email = ?`, email).
		WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to release email claim",
			zap.String("email", email),
			zap.Error(err))
	}
}

func setOptionalTimes(account *models.Account, updatedAt, lastLogin time.Time) {
	if !updatedAt.IsZero() {
		t := updatedAt
		account.UpdatedAt = &t
	}
	if !lastLogin.IsZero() {
		t := lastLogin
		account.LastLogin = &t
	}
}
