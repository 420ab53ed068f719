package fleet

import "github.com/shopspring/decimal"

// =============================================================================
// BANK LEDGER - Account balance from a flat transaction list
// =============================================================================

// Sign is +1 for money coming in (deposit, transfer) and -1 otherwise.
func (t BankTxType) Sign() int64 {
	switch t {
	case BankDeposit, BankTransfer:
		return 1
	default:
		return -1
	}
}

func (t BankTxType) IsValid() bool {
	switch t {
	case BankDeposit, BankWithdrawal, BankTransfer, BankDebit, BankFee:
		return true
	default:
		return false
	}
}

// SignedAmount applies the sign of the transaction type.
func (tx BankTransaction) SignedAmount() decimal.Decimal {
	return tx.Amount.Mul(decimal.NewFromInt(tx.Type.Sign()))
}

// AccountBalance = InitialBalance + Σ sign(type) × amount over the account's
// transactions. Transactions of other accounts are ignored.
func AccountBalance(account BankAccount, transactions []BankTransaction) decimal.Decimal {
	balance := account.InitialBalance
	for _, tx := range transactions {
		if tx.AccountID == account.ID {
			balance = balance.Add(tx.SignedAmount())
		}
	}
	return balance
}

// RefreshAccount returns account with CachedBalance recomputed. Call it after
// every create/update/delete of one of its transactions.
func RefreshAccount(account BankAccount, transactions []BankTransaction) BankAccount {
	out := account
	out.CachedBalance = AccountBalance(account, transactions)
	return out
}

// CanDeleteAccount rejects deleting an account that still has transactions.
func CanDeleteAccount(accountID AccountID, transactions []BankTransaction) error {
	var refs []string
	for _, tx := range transactions {
		if tx.AccountID == accountID {
			refs = append(refs, string(tx.ID))
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return &DeletionBlockedError{
		Kind:       "account",
		ID:         string(accountID),
		Reason:     "account still has transactions",
		References: refs,
	}
}
