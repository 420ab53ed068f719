package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
)

// =============================================================================
// BANK ACCOUNTS
// =============================================================================

// SaveBankAccount creates or updates an account. CachedBalance is never
// taken from the caller; it is recomputed from the stored transactions.
func (s *Service) SaveBankAccount(ctx context.Context, acc fleet.BankAccount) (fleet.BankAccount, error) {
	if acc.Name == "" {
		return fleet.BankAccount{}, validation("nom", "account name is required")
	}

	err := s.write(ctx, func(tx fleet.Store) error {
		if acc.ID == "" {
			acc.ID = fleet.AccountID(s.newID())
		}
		txs, err := tx.ListBankTransactions(ctx)
		if err != nil {
			return err
		}
		acc = fleet.RefreshAccount(acc, txs)
		return tx.SaveBankAccount(ctx, acc)
	})
	if err != nil {
		return fleet.BankAccount{}, err
	}

	s.logger.Info("bank account saved",
		zap.String("account_id", string(acc.ID)),
		zap.String("balance", acc.CachedBalance.String()),
	)
	return acc, nil
}

// DeleteBankAccount removes an account that has no transactions left.
func (s *Service) DeleteBankAccount(ctx context.Context, id fleet.AccountID) error {
	err := s.write(ctx, func(tx fleet.Store) error {
		if _, err := tx.GetBankAccount(ctx, id); err != nil {
			return err
		}
		txs, err := tx.ListBankTransactions(ctx)
		if err != nil {
			return err
		}
		if err := blocked(fleet.CanDeleteAccount(id, txs), "account"); err != nil {
			return err
		}
		return tx.DeleteBankAccount(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("bank account deleted", zap.String("account_id", string(id)))
	return nil
}

// AccountBalance recomputes the authoritative balance of an account.
func (s *Service) AccountBalance(ctx context.Context, id fleet.AccountID) (decimal.Decimal, error) {
	acc, err := s.store.GetBankAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	txs, err := s.store.ListBankTransactions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return fleet.AccountBalance(acc, txs), nil
}

// =============================================================================
// BANK TRANSACTIONS - Each write refreshes the cached balance
// =============================================================================

// SaveBankTransaction creates or updates a transaction. When an update
// moves it to another account, both accounts are refreshed.
func (s *Service) SaveBankTransaction(ctx context.Context, btx fleet.BankTransaction) (fleet.BankTransaction, error) {
	if !btx.Type.IsValid() {
		return fleet.BankTransaction{}, validation("type", "unknown transaction type "+string(btx.Type))
	}
	if !btx.Amount.IsPositive() {
		return fleet.BankTransaction{}, validation("montant", "amount must be positive")
	}
	if btx.Date.IsZero() {
		btx.Date = s.Today()
	}

	err := s.write(ctx, func(tx fleet.Store) error {
		if btx.ID == "" {
			btx.ID = fleet.BankTxID(s.newID())
		}
		if _, err := tx.GetBankAccount(ctx, btx.AccountID); err != nil {
			return err
		}
		accounts := []fleet.AccountID{btx.AccountID}
		if previous, err := tx.GetBankTransaction(ctx, btx.ID); err == nil {
			if previous.AccountID != btx.AccountID {
				accounts = append(accounts, previous.AccountID)
			}
		} else if !errors.Is(err, fleet.ErrMissingReference) {
			return err
		}
		if err := tx.SaveBankTransaction(ctx, btx); err != nil {
			return err
		}
		return refreshAccounts(ctx, tx, accounts...)
	})
	if err != nil {
		return fleet.BankTransaction{}, err
	}

	s.logger.Info("bank transaction saved",
		zap.String("transaction_id", string(btx.ID)),
		zap.String("account_id", string(btx.AccountID)),
		zap.String("type", string(btx.Type)),
		zap.String("amount", btx.Amount.String()),
	)
	return btx, nil
}

func (s *Service) DeleteBankTransaction(ctx context.Context, id fleet.BankTxID) error {
	err := s.write(ctx, func(tx fleet.Store) error {
		btx, err := tx.GetBankTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteBankTransaction(ctx, id); err != nil {
			return err
		}
		return refreshAccounts(ctx, tx, btx.AccountID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("bank transaction deleted", zap.String("transaction_id", string(id)))
	return nil
}

func refreshAccounts(ctx context.Context, tx fleet.Store, ids ...fleet.AccountID) error {
	txs, err := tx.ListBankTransactions(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		acc, err := tx.GetBankAccount(ctx, id)
		if errors.Is(err, fleet.ErrMissingReference) {
			continue
		}
		if err != nil {
			return err
		}
		if err := tx.SaveBankAccount(ctx, fleet.RefreshAccount(acc, txs)); err != nil {
			return err
		}
	}
	return nil
}
