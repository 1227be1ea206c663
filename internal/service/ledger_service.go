package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
)

// LedgerService appends fund movements and serves exact balances. Entries are
// immutable once written; corrections are new entries, never edits.
type LedgerService struct {
	ledger   scylla.LedgerRepository
	accounts *AccountService
	recorder *Recorder
}

type DepositRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Network string          `json:"network"`
}

type WithdrawalRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	WalletAddress    string          `json:"wallet_address"`
	VerificationCode string          `json:"verification_code"`
}

func NewLedgerService(ledger scylla.LedgerRepository, accounts *AccountService, recorder *Recorder) *LedgerService {
	return &LedgerService{
		ledger:   ledger,
		accounts: accounts,
		recorder: recorder,
	}
}

func (s *LedgerService) RecordDeposit(ctx context.Context, accountID string, req *DepositRequest) (*models.Deposit, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Network == "" {
		return nil, fmt.Errorf("%w: network is required", ErrInvalidInput)
	}
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	deposit := &models.Deposit{
		AccountID: accountID,
		Amount:    req.Amount,
		Network:   req.Network,
	}

	if err := s.ledger.AppendDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	s.recorder.PublishLedgerEvent(models.EventDepositRecorded, accountID, map[string]string{
		"entry_id": deposit.EntryID,
		"amount":   deposit.Amount.String(),
		"network":  deposit.Network,
	})
	s.recorder.Audit(accountID, "ledger.deposit", "success", deposit.EntryID)

	return deposit, nil
}

// RecordWithdrawal appends a withdrawal entry. The caller's verification code
// is stored verbatim for the downstream payout checker; this service only
// checks its shape, never its validity.
func (s *LedgerService) RecordWithdrawal(ctx context.Context, accountID string, req *WithdrawalRequest) (*models.Withdrawal, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := validateWalletAddress(req.WalletAddress); err != nil {
		return nil, err
	}
	if err := validateVerificationCode(req.VerificationCode); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	withdrawal := &models.Withdrawal{
		AccountID:        accountID,
		Amount:           req.Amount,
		WalletAddress:    req.WalletAddress,
		VerificationCode: req.VerificationCode,
	}

	if err := s.ledger.AppendWithdrawal(ctx, withdrawal); err != nil {
		return nil, err
	}

	s.recorder.PublishLedgerEvent(models.EventWithdrawalRecorded, accountID, map[string]string{
		"entry_id": withdrawal.EntryID,
		"amount":   withdrawal.Amount.String(),
	})
	s.recorder.Audit(accountID, "ledger.withdrawal", "success", withdrawal.EntryID)

	return withdrawal, nil
}

// ComputeBalance folds both ledger partitions on demand in exact decimal
// arithmetic. There is no cached running total to drift.
func (s *LedgerService) ComputeBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	balance := &models.Balance{AccountID: accountID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sum, err := s.ledger.SumDeposits(gctx, accountID)
		if err != nil {
			return err
		}
		balance.TotalDeposited = sum
		return nil
	})
	g.Go(func() error {
		sum, err := s.ledger.SumWithdrawals(gctx, accountID)
		if err != nil {
			return err
		}
		balance.TotalWithdrawn = sum
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}

	balance.Balance = balance.TotalDeposited.Sub(balance.TotalWithdrawn)
	return balance, nil
}

func (s *LedgerService) ListDeposits(ctx context.Context, accountID string, limit int) ([]models.Deposit, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.ledger.ListDeposits(ctx, accountID, limit)
}

func (s *LedgerService) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]models.Withdrawal, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.ledger.ListWithdrawals(ctx, accountID, limit)
}
