package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRecordDeposit(t *testing.T) {
	fx := newServiceFixture()
	ctx := context.Background()
	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")

	deposit, err := fx.ledger.RecordDeposit(ctx, account.AccountID, &DepositRequest{
		Amount:  decimal.RequireFromString("250.00000001"),
		Network: "IMPS",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deposit.EntryID == "" {
		t.Fatal("expected entry ID to be assigned")
	}
	if deposit.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}

	entries, err := fx.ledger.ListDeposits(ctx, account.AccountID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || !entries[0].Amount.Equal(deposit.Amount) {
		t.Fatalf("expected the recorded deposit back, got %+v", entries)
	}
}

func TestRecordDepositValidation(t *testing.T) {
	fx := newServiceFixture()
	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")

	tests := []struct {
		name    string
		req     DepositRequest
		wantErr error
	}{
		{
			name:    "zero amount",
			req:     DepositRequest{Amount: decimal.Zero, Network: "IMPS"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     DepositRequest{Amount: decimal.RequireFromString("-5"), Network: "IMPS"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "too many decimal places",
			req:     DepositRequest{Amount: decimal.RequireFromString("1.000000001"), Network: "IMPS"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "too many digits",
			req:     DepositRequest{Amount: decimal.RequireFromString("123456789012345678901"), Network: "IMPS"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "missing network",
			req:     DepositRequest{Amount: decimal.RequireFromString("10")},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.ledger.RecordDeposit(context.Background(), account.AccountID, &tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRecordDepositUnknownAccount(t *testing.T) {
	fx := newServiceFixture()

	_, err := fx.ledger.RecordDeposit(context.Background(), "no-such-account", &DepositRequest{
		Amount:  decimal.RequireFromString("10"),
		Network: "IMPS",
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRecordWithdrawal(t *testing.T) {
	fx := newServiceFixture()
	ctx := context.Background()
	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")

	withdrawal, err := fx.ledger.RecordWithdrawal(ctx, account.AccountID, &WithdrawalRequest{
		Amount:           decimal.RequireFromString("30"),
		WalletAddress:    "validaddr123",
		VerificationCode: "000000",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if withdrawal.VerificationCode != "000000" {
		t.Fatalf("expected verification code stored verbatim, got %q", withdrawal.VerificationCode)
	}

	entries, err := fx.ledger.ListWithdrawals(ctx, account.AccountID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].VerificationCode != "000000" {
		t.Fatalf("expected the stored withdrawal with its code back, got %+v", entries)
	}
}

func TestRecordWithdrawalValidation(t *testing.T) {
	fx := newServiceFixture()
	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")

	valid := WithdrawalRequest{
		Amount:           decimal.RequireFromString("5"),
		WalletAddress:    "wallet12345abcde",
		VerificationCode: "123456",
	}

	tests := []struct {
		name   string
		mutate func(req *WithdrawalRequest)
	}{
		{"bad wallet", func(req *WithdrawalRequest) { req.WalletAddress = "bad wallet!" }},
		{"short wallet", func(req *WithdrawalRequest) { req.WalletAddress = "short" }},
		{"missing code", func(req *WithdrawalRequest) { req.VerificationCode = "" }},
		{"short code", func(req *WithdrawalRequest) { req.VerificationCode = "12345" }},
		{"non-digit code", func(req *WithdrawalRequest) { req.VerificationCode = "8fda8c" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := fx.ledger.RecordWithdrawal(context.Background(), account.AccountID, &req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestComputeBalance(t *testing.T) {
	fx := newServiceFixture()
	ctx := context.Background()
	account := fx.mustCreateAccount(t, "+919876543210", "asha@example.com")

	balance, err := fx.ledger.ComputeBalance(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Balance.IsZero() {
		t.Fatalf("expected zero balance on empty ledger, got %s", balance.Balance)
	}

	for _, amount := range []string{"0.1", "0.2"} {
		if _, err := fx.ledger.RecordDeposit(ctx, account.AccountID, &DepositRequest{
			Amount:  decimal.RequireFromString(amount),
			Network: "UPI",
		}); err != nil {
			t.Fatalf("failed to record deposit: %v", err)
		}
	}
	if _, err := fx.ledger.RecordWithdrawal(ctx, account.AccountID, &WithdrawalRequest{
		Amount:           decimal.RequireFromString("0.05"),
		WalletAddress:    "wallet12345abcde",
		VerificationCode: "424242",
	}); err != nil {
		t.Fatalf("failed to record withdrawal: %v", err)
	}

	// 0.1 + 0.2 - 0.05 is exactly 0.25; no float drift allowed.
	balance, err = fx.ledger.ComputeBalance(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Balance.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("expected balance 0.25, got %s", balance.Balance)
	}
	if !balance.TotalDeposited.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("expected total deposited 0.3, got %s", balance.TotalDeposited)
	}
}

func TestListWithdrawalsUnknownAccount(t *testing.T) {
	fx := newServiceFixture()

	if _, err := fx.ledger.ListWithdrawals(context.Background(), "ghost", 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
