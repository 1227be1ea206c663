package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entries are append-only. Amounts are fixed-point with scale 8 and at
// most 20 significant digits; they are never stored or summed as floats.
const (
	AmountScale     = 8
	AmountMaxDigits = 20
)

type Deposit struct {
	AccountID string          `json:"account_id" db:"account_id"`
	EntryID   string          `json:"entry_id" db:"entry_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Network   string          `json:"network" db:"network"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Withdrawal struct {
	AccountID        string          `json:"account_id" db:"account_id"`
	EntryID          string          `json:"entry_id" db:"entry_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	WalletAddress    string          `json:"wallet_address" db:"wallet_address"`
	VerificationCode string          `json:"-" db:"verification_code"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Balance is the on-demand aggregate over an account's ledger partitions.
type Balance struct {
	AccountID      string          `json:"account_id"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	Balance        decimal.Decimal `json:"balance"`
}
