package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plata/internal/core"
)

func TestTotalByType(t *testing.T) {
	txs := []core.Transaction{
		{Type: core.Income, Amount: core.Money{Cents: 100000}},
		{Type: core.Expense, Amount: core.Money{Cents: 5000}},
		{Type: core.Expense, Amount: core.Money{Cents: 3000}},
		{Type: core.Transfer, Amount: core.Money{Cents: 99999}},
	}

	require.Equal(t, int64(100000), TotalByType(txs, core.Income).Cents)
	require.Equal(t, int64(8000), TotalByType(txs, core.Expense).Cents)
	require.Equal(t, int64(99999), TotalByType(txs, core.Transfer).Cents)
	require.Equal(t, int64(0), TotalByType(nil, core.Income).Cents)
}

func TestTotalByCategory(t *testing.T) {
	t.Run("empty list yields empty map", func(t *testing.T) {
		require.Empty(t, TotalByCategory(nil))
	})

	t.Run("same category sums up", func(t *testing.T) {
		// One 50.00 expense and one 30.00 expense in Food -> {food: 80.00}.
		txs := []core.Transaction{
			{CategoryID: "food", Type: core.Expense, Amount: core.Money{Cents: 5000}},
			{CategoryID: "food", Type: core.Expense, Amount: core.Money{Cents: 3000}},
		}
		got := TotalByCategory(txs)
		require.Len(t, got, 1)
		require.Equal(t, int64(8000), got["food"].Cents)
	})

	t.Run("missing category falls into the uncategorized bucket", func(t *testing.T) {
		txs := []core.Transaction{
			{CategoryID: "", Type: core.Expense, Amount: core.Money{Cents: 700}},
			{CategoryID: "food", Type: core.Expense, Amount: core.Money{Cents: 300}},
			{CategoryID: "", Type: core.Expense, Amount: core.Money{Cents: 1300}},
		}
		got := TotalByCategory(txs)
		require.Len(t, got, 2)
		require.Equal(t, int64(2000), got[core.Uncategorized].Cents)
		require.Equal(t, int64(300), got["food"].Cents)
	})
}

func TestTotalByAccount(t *testing.T) {
	txs := []core.Transaction{
		{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 100000}},
		{AccountID: "cash", Type: core.Expense, Amount: core.Money{Cents: 20000}},
		{AccountID: "bank", Type: core.Expense, Amount: core.Money{Cents: 5000}},
		// Transfers are movements, not income or spending.
		{AccountID: "cash", CounterAccountID: "bank", Type: core.Transfer, Amount: core.Money{Cents: 50000}},
	}

	got := TotalByAccount(txs)
	require.Len(t, got, 2)
	require.Equal(t, AccountTotals{IncomeCents: 100000, ExpenseCents: 20000}, got["cash"])
	require.Equal(t, AccountTotals{IncomeCents: 0, ExpenseCents: 5000}, got["bank"])
}

func TestCurrentPeriod(t *testing.T) {
	ref := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		{ID: "first-of-month", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "last-of-prev", Date: time.Date(2024, 2, 28, 23, 59, 0, 0, time.UTC)},
		{ID: "same-month-prev-year", Date: time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "end-of-month", Date: time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)},
	}

	got := CurrentPeriod(txs, ref)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	require.Contains(t, ids, "first-of-month")
	require.Contains(t, ids, "end-of-month")
}
