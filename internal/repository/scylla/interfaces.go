package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"accounts-service/internal/models"
)

// Storage-level sentinels. The service layer maps these onto its own error
// taxonomy; nothing above the repositories should test gocql errors directly.
var (
	ErrNotFound    = errors.New("record not found")
	ErrHandleTaken = errors.New("handle already claimed")
	ErrEmailTaken  = errors.New("email already claimed")
	ErrCodeTaken   = errors.New("referral code already claimed")
	ErrPANTaken    = errors.New("pan already claimed")
)

// AccountRepository owns the accounts table and its uniqueness claim tables
// (handle_to_account, email_to_account).
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account, profile *models.Profile) error
	GetAccountByID(ctx context.Context, bucket int, accountID string) (*models.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccountProfile(ctx context.Context, account *models.Account, oldHandle, oldEmail string) error
	UpdateVerification(ctx context.Context, bucket int, accountID string, verified bool) error
	UpdateLastLogin(ctx context.Context, bucket int, accountID string, at time.Time) error
	UpdatePassword(ctx context.Context, bucket int, accountID, hash, salt string, pepperVersion int) error
	DeleteAccount(ctx context.Context, account *models.Account, profile *models.Profile) error
}

// ProfileRepository owns referral codes and the per-profile referral counter.
type ProfileRepository interface {
	ClaimReferralCode(ctx context.Context, code, profileID, accountID string) error
	ReleaseReferralCode(ctx context.Context, code string) error
	ResolveReferralCode(ctx context.Context, code string) (profileID string, accountID string, err error)
	GetProfileByAccount(ctx context.Context, accountID string) (*models.Profile, error)
	IncrementReferredCount(ctx context.Context, profileID string) error
	GetReferredCount(ctx context.Context, profileID string) (int64, error)
}

// LedgerRepository owns the append-only deposits and withdrawals partitions.
// Entries are never updated or deleted outside of account removal.
type LedgerRepository interface {
	AppendDeposit(ctx context.Context, deposit *models.Deposit) error
	AppendWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	ListDeposits(ctx context.Context, accountID string, limit int) ([]models.Deposit, error)
	ListWithdrawals(ctx context.Context, accountID string, limit int) ([]models.Withdrawal, error)
	SumDeposits(ctx context.Context, accountID string) (decimal.Decimal, error)
	SumWithdrawals(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// KYCRepository owns kyc_records, the pan_numbers claim table, bank_details
// and addresses.
type KYCRepository interface {
	ClaimPAN(ctx context.Context, fingerprint, accountID string) error
	ReleasePAN(ctx context.Context, fingerprint string) error
	CreateKYCRecord(ctx context.Context, record *models.KYCRecord) error
	GetKYCRecord(ctx context.Context, accountID string) (*models.KYCRecord, error)
	AttachDocumentImage(ctx context.Context, accountID, documentName string, image []byte) error
	UpsertBankDetail(ctx context.Context, detail *models.BankDetail) error
	ListBankDetails(ctx context.Context, accountID string) ([]models.BankDetail, error)
	CreateAddress(ctx context.Context, address *models.Address) error
	ListAddresses(ctx context.Context, accountID string) ([]models.Address, error)
}
