package ledger

import (
	"time"

	"plata/internal/core"
)

// Aggregation helpers are pure functions over a transaction slice. They
// recompute from scratch on every call; the input is one user's ledger,
// small enough that no incremental index is kept.

// TotalByType sums the amounts of transactions matching the given type.
func TotalByType(txs []core.Transaction, typ core.TransactionType) core.Money {
	var cents int64
	for _, tx := range txs {
		if tx.Type == typ {
			cents += tx.Amount.Cents
		}
	}
	return core.Money{Cents: cents}
}

// TotalByCategory groups amounts by category id. Transactions without a
// category land in the core.Uncategorized bucket. An empty input yields
// an empty map.
func TotalByCategory(txs []core.Transaction) map[string]core.Money {
	out := make(map[string]core.Money)
	for _, tx := range txs {
		key := tx.CategoryID
		if key == "" {
			key = core.Uncategorized
		}
		m := out[key]
		m.Cents += tx.Amount.Cents
		out[key] = m
	}
	return out
}

// AccountTotals is the income/expense split for one account.
type AccountTotals struct {
	IncomeCents  int64
	ExpenseCents int64
}

// TotalByAccount groups income and expense sums by account id. Transfers
// are balance movements, not income or spending, and are excluded.
func TotalByAccount(txs []core.Transaction) map[string]AccountTotals {
	out := make(map[string]AccountTotals)
	for _, tx := range txs {
		switch tx.Type {
		case core.Income:
			t := out[tx.AccountID]
			t.IncomeCents += tx.Amount.Cents
			out[tx.AccountID] = t
		case core.Expense:
			t := out[tx.AccountID]
			t.ExpenseCents += tx.Amount.Cents
			out[tx.AccountID] = t
		}
	}
	return out
}

// CurrentPeriod filters to transactions in the same calendar month and
// year as ref. Explicit month/year comparison, not elapsed-days
// arithmetic: a transaction on the 1st belongs to the month of the 15th,
// one on the last day of the previous month does not.
func CurrentPeriod(txs []core.Transaction, ref time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Date.Year() == ref.Year() && tx.Date.Month() == ref.Month() {
			out = append(out, tx)
		}
	}
	return out
}
