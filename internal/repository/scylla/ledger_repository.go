package scylla

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/inf.v0"

	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

type ledgerRepository struct {
	client *ScyllaClient
}

func NewLedgerRepository(client *ScyllaClient) LedgerRepository {
	return &ledgerRepository{client: client}
}

// gocql marshals CQL decimals as inf.Dec; the rest of the codebase works in
// shopspring decimals. Both carry an unscaled integer plus a scale, so the
// conversion is lossless in either direction.
func decimalToInf(d decimal.Decimal) *inf.Dec {
	return inf.NewDecBig(new(big.Int).Set(d.Coefficient()), inf.Scale(-d.Exponent()))
}

func infToDecimal(d *inf.Dec) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Set(d.UnscaledBig()), int32(-d.Scale()))
}

// AppendDeposit writes one immutable ledger entry. The entry ID is a timeuuid
// assigned here, so entries cluster newest-first within the account partition.
func (r *ledgerRepository) AppendDeposit(ctx context.Context, deposit *models.Deposit) error {
	entryID := gocql.TimeUUID()
	deposit.EntryID = entryID.String()
	deposit.CreatedAt = entryID.Time().UTC()

	query := r.client.Prepared.InsertDeposit.Bind(
		deposit.AccountID, entryID, decimalToInf(deposit.Amount),
		deposit.Network, deposit.CreatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to append deposit",
			zap.String("account_id", deposit.AccountID),
			zap.String("amount", deposit.Amount.String()),
			zap.Error(err))
		return fmt.Errorf("failed to append deposit: %w", err)
	}

	util.Info("Deposit recorded",
		zap.String("account_id", deposit.AccountID),
		zap.String("entry_id", deposit.EntryID),
		zap.String("amount", deposit.Amount.String()),
		zap.String("network", deposit.Network))

	return nil
}

func (r *ledgerRepository) AppendWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	entryID := gocql.TimeUUID()
	withdrawal.EntryID = entryID.String()
	withdrawal.CreatedAt = entryID.Time().UTC()

	query := r.client.Prepared.InsertWithdrawal.Bind(
		withdrawal.AccountID, entryID, decimalToInf(withdrawal.Amount),
		withdrawal.WalletAddress, withdrawal.VerificationCode, withdrawal.CreatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to append withdrawal",
			zap.String("account_id", withdrawal.AccountID),
			zap.String("amount", withdrawal.Amount.String()),
			zap.Error(err))
		return fmt.Errorf("failed to append withdrawal: %w", err)
	}

	util.Info("Withdrawal recorded",
		zap.String("account_id", withdrawal.AccountID),
		zap.String("entry_id", withdrawal.EntryID),
		zap.String("amount", withdrawal.Amount.String()))

	return nil
}

func (r *ledgerRepository) ListDeposits(ctx context.Context, accountID string, limit int) ([]models.Deposit, error) {
	query := r.client.Prepared.ListDeposits.Bind(accountID).WithContext(ctx)
	if limit > 0 {
		query = r.client.Session.Query(`
			SELECT account_id, entry_id, amount, network, created_at
			FROM deposits WHERE account_id = ? LIMIT ?`, accountID, limit).WithContext(ctx)
	}

	iter := query.Iter()
	deposits := []models.Deposit{}

	var entryID gocql.UUID
	var amount inf.Dec
	for {
		d := models.Deposit{}
		if !iter.Scan(&d.AccountID, &entryID, &amount, &d.Network, &d.CreatedAt) {
			break
		}
		d.EntryID = entryID.String()
		d.Amount = infToDecimal(&amount)
		deposits = append(deposits, d)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list deposits",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}

	return deposits, nil
}

func (r *ledgerRepository) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]models.Withdrawal, error) {
	query := r.client.Prepared.ListWithdrawals.Bind(accountID).WithContext(ctx)
	if limit > 0 {
		query = r.client.Session.Query(`
			SELECT account_id, entry_id, amount, wallet_address, verification_code, created_at
			FROM withdrawals WHERE account_id = ? LIMIT ?`, accountID, limit).WithContext(ctx)
	}

	iter := query.Iter()
	withdrawals := []models.Withdrawal{}

	var entryID gocql.UUID
	var amount inf.Dec
	for {
		w := models.Withdrawal{}
		if !iter.Scan(&w.AccountID, &entryID, &amount, &w.WalletAddress, &w.VerificationCode, &w.CreatedAt) {
			break
		}
		w.EntryID = entryID.String()
		w.Amount = infToDecimal(&amount)
		withdrawals = append(withdrawals, w)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list withdrawals",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}

	return withdrawals, nil
}

// SumDeposits folds the whole partition in exact decimal arithmetic. Balances
// are computed on demand instead of kept as a mutable running total, so a
// replayed or retried write can never leave a stale aggregate behind.
func (r *ledgerRepository) SumDeposits(ctx context.Context, accountID string) (decimal.Decimal, error) {
	iter := r.client.Session.Query(`SELECT amount FROM deposits WHERE account_id = ?`, accountID).
		WithContext(ctx).Iter()

	total := decimal.Zero
	var amount inf.Dec
	for iter.Scan(&amount) {
		total = total.Add(infToDecimal(&amount))
	}

	if err := iter.Close(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum deposits: %w", err)
	}
	return total, nil
}

func (r *ledgerRepository) SumWithdrawals(ctx context.Context, accountID string) (decimal.Decimal, error) {
	iter := r.client.Session.Query(`SELECT amount FROM withdrawals WHERE account_id = ?`, accountID).
		WithContext(ctx).Iter()

	total := decimal.Zero
	var amount inf.Dec
	for iter.Scan(&amount) {
		total = total.Add(infToDecimal(&amount))
	}

	if err := iter.Close(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}
