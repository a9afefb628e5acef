package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plata/internal/core"
)

func addTx(t *testing.T, s *Store, r *Reconciler, tx core.Transaction) core.Transaction {
	t.Helper()
	prepared, err := s.PrepareAdd(tx)
	require.NoError(t, err)
	s.CommitAdd(prepared)
	require.NoError(t, r.ApplyAdd(prepared))
	return prepared
}

func balance(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	acc, err := s.Account(id)
	require.NoError(t, err)
	return acc.BalanceCents
}

func TestEffects(t *testing.T) {
	income := core.Transaction{AccountID: "a", Type: core.Income, Amount: core.Money{Cents: 100}, Status: core.StatusCompleted}
	require.Equal(t, []Effect{{AccountID: "a", DeltaCents: 100}}, Effects(income))

	expense := income
	expense.Type = core.Expense
	require.Equal(t, []Effect{{AccountID: "a", DeltaCents: -100}}, Effects(expense))

	transfer := income
	transfer.Type = core.Transfer
	transfer.CounterAccountID = "b"
	require.Equal(t, []Effect{
		{AccountID: "a", DeltaCents: -100},
		{AccountID: "b", DeltaCents: 100},
	}, Effects(transfer))

	pending := income
	pending.Status = core.StatusPending
	require.Nil(t, Effects(pending))

	cancelled := income
	cancelled.Status = core.StatusCancelled
	require.Nil(t, Effects(cancelled))
}

// Balance starts at 0; income 1000.00 brings it to 1000.00; expense
// 200.00 drops it to 800.00; removing the expense restores 1000.00.
func TestEndToEndBalance(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	addTx(t, s, r, core.Transaction{
		AccountID:  "cash",
		CategoryID: "salary",
		Type:       core.Income,
		Amount:     core.Money{Cents: 100000},
	})
	require.Equal(t, int64(100000), balance(t, s, "cash"))

	exp := addTx(t, s, r, core.Transaction{
		AccountID:  "cash",
		CategoryID: "food",
		Type:       core.Expense,
		Amount:     core.Money{Cents: 20000},
	})
	require.Equal(t, int64(80000), balance(t, s, "cash"))

	removed, err := s.PrepareRemove(exp.ID)
	require.NoError(t, err)
	s.CommitRemove(exp.ID)
	require.NoError(t, r.ApplyRemove(removed))
	require.Equal(t, int64(100000), balance(t, s, "cash"))
}

// Updating an amount from 200.00 to 350.00 must shift the balance by
// exactly -150.00 and still agree with an independent recompute.
func TestUpdateAmountDelta(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 100000}})
	exp := addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Expense, Amount: core.Money{Cents: 20000}})

	before := balance(t, s, "cash")
	amount := core.Money{Cents: 35000}
	old, updated, err := s.PrepareUpdate(exp.ID, Patch{Amount: &amount})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))

	require.Equal(t, before-15000, balance(t, s, "cash"))

	recomputed, err := r.Recompute("cash")
	require.NoError(t, err)
	require.Equal(t, balance(t, s, "cash"), recomputed)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	// Pending transactions do not touch the balance.
	tx := addTx(t, s, r, core.Transaction{
		AccountID: "cash",
		Type:      core.Expense,
		Amount:    core.Money{Cents: 5000},
		Status:    core.StatusPending,
	})
	require.Equal(t, int64(0), balance(t, s, "cash"))

	// Completing applies the effect for the first time.
	completed := core.StatusCompleted
	old, updated, err := s.PrepareUpdate(tx.ID, Patch{Status: &completed})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))
	require.Equal(t, int64(-5000), balance(t, s, "cash"))

	// Cancelling reverses it.
	cancelled := core.StatusCancelled
	old, updated, err = s.PrepareUpdate(tx.ID, Patch{Status: &cancelled})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))
	require.Equal(t, int64(0), balance(t, s, "cash"))
}

func TestUpdateMovesAccounts(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	tx := addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Expense, Amount: core.Money{Cents: 3000}})
	require.Equal(t, int64(-3000), balance(t, s, "cash"))
	require.Equal(t, int64(0), balance(t, s, "bank"))

	bank := "bank"
	old, updated, err := s.PrepareUpdate(tx.ID, Patch{AccountID: &bank})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))

	require.Equal(t, int64(0), balance(t, s, "cash"))
	require.Equal(t, int64(-3000), balance(t, s, "bank"))
}

func TestTransferBothSides(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 50000}})
	addTx(t, s, r, core.Transaction{
		AccountID:        "cash",
		CounterAccountID: "bank",
		Type:             core.Transfer,
		Amount:           core.Money{Cents: 20000},
	})

	require.Equal(t, int64(30000), balance(t, s, "cash"))
	require.Equal(t, int64(20000), balance(t, s, "bank"))

	// Balance-neutral overall.
	cashTotal, err := r.Recompute("cash")
	require.NoError(t, err)
	bankTotal, err := r.Recompute("bank")
	require.NoError(t, err)
	require.Equal(t, int64(50000), cashTotal+bankTotal)
}

// Replay property: after an arbitrary sequence of mutations the cached
// balance equals the independent sum over the final transaction list.
func TestReplayMatchesRecompute(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	txs := []core.Transaction{
		{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 250000}},
		{AccountID: "cash", Type: core.Expense, Amount: core.Money{Cents: 4990}},
		{AccountID: "cash", Type: core.Expense, Amount: core.Money{Cents: 12050}, Status: core.StatusPending},
		{AccountID: "cash", CounterAccountID: "bank", Type: core.Transfer, Amount: core.Money{Cents: 100000}},
		{AccountID: "bank", Type: core.Expense, Amount: core.Money{Cents: 9900}},
	}
	var created []core.Transaction
	for _, tx := range txs {
		created = append(created, addTx(t, s, r, tx))
	}

	// Mutate: bump one amount, cancel another, remove a third.
	amount := core.Money{Cents: 7500}
	old, updated, err := s.PrepareUpdate(created[1].ID, Patch{Amount: &amount})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))

	cancelled := core.StatusCancelled
	old, updated, err = s.PrepareUpdate(created[4].ID, Patch{Status: &cancelled})
	require.NoError(t, err)
	s.CommitUpdate(updated)
	require.NoError(t, r.ApplyUpdate(old, updated))

	removed, err := s.PrepareRemove(created[0].ID)
	require.NoError(t, err)
	s.CommitRemove(removed.ID)
	require.NoError(t, r.ApplyRemove(removed))

	for _, id := range []string{"cash", "bank"} {
		cached, recomputed, err := r.CheckDrift(id)
		require.NoError(t, err, "account %s drifted", id)
		require.Equal(t, recomputed, cached)
	}
}

// Round trip: removing a transaction and re-adding an identical one
// returns the account to its prior balance.
func TestRemoveReAddRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	tx := addTx(t, s, r, core.Transaction{
		AccountID: "cash",
		Type:      core.Expense,
		Amount:    core.Money{Cents: 4200},
		Date:      date,
	})
	want := balance(t, s, "cash")

	removed, err := s.PrepareRemove(tx.ID)
	require.NoError(t, err)
	s.CommitRemove(tx.ID)
	require.NoError(t, r.ApplyRemove(removed))

	addTx(t, s, r, core.Transaction{
		AccountID: "cash",
		Type:      core.Expense,
		Amount:    core.Money{Cents: 4200},
		Date:      date,
	})
	require.Equal(t, want, balance(t, s, "cash"))
}

func TestRecomputeIdempotent(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 1234}})

	first, err := r.Recompute("cash")
	require.NoError(t, err)
	second, err := r.Recompute("cash")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCheckDriftDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)

	addTx(t, s, r, core.Transaction{AccountID: "cash", Type: core.Income, Amount: core.Money{Cents: 1000}})

	// Corrupt the cached value behind the reconciler's back.
	require.NoError(t, s.SetBalance("cash", 9999))

	cached, recomputed, err := r.CheckDrift("cash")
	require.ErrorIs(t, err, core.ErrBalanceDrift)
	require.Equal(t, int64(9999), cached)
	require.Equal(t, int64(1000), recomputed)
}
