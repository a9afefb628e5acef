package ledger

import (
	"fmt"

	"plata/internal/core"
)

// Effect is the signed contribution of a transaction to one account's
// balance, in cents.
type Effect struct {
	AccountID  string
	DeltaCents int64
}

// Effects returns the balance contributions of a transaction. Only
// completed transactions contribute; pending and cancelled ones return
// nil. A transfer yields two opposite effects, balance-neutral overall.
func Effects(tx core.Transaction) []Effect {
	if !tx.Completed() {
		return nil
	}
	switch tx.Type {
	case core.Income:
		return []Effect{{AccountID: tx.AccountID, DeltaCents: tx.Amount.Cents}}
	case core.Expense:
		return []Effect{{AccountID: tx.AccountID, DeltaCents: -tx.Amount.Cents}}
	case core.Transfer:
		return []Effect{
			{AccountID: tx.AccountID, DeltaCents: -tx.Amount.Cents},
			{AccountID: tx.CounterAccountID, DeltaCents: tx.Amount.Cents},
		}
	}
	return nil
}

func inverse(effects []Effect) []Effect {
	out := make([]Effect, len(effects))
	for i, e := range effects {
		out[i] = Effect{AccountID: e.AccountID, DeltaCents: -e.DeltaCents}
	}
	return out
}

// Reconciler keeps cached account balances consistent with the net effect
// of the completed transactions in the store.
type Reconciler struct {
	store *Store
}

func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// ApplyAdd applies a new transaction's effects to the cached balances.
// Both sides of a transfer update or neither does.
func (r *Reconciler) ApplyAdd(tx core.Transaction) error {
	return r.apply(Effects(tx))
}

// ApplyRemove reverses a deleted transaction's effects.
func (r *Reconciler) ApplyRemove(tx core.Transaction) error {
	return r.apply(inverse(Effects(tx)))
}

// ApplyUpdate reconciles an edit as "reverse old effect, apply new
// effect", never as a direct diff. That makes status transitions fall out
// naturally: leaving completed reverses the old effect and applies
// nothing new, entering completed applies the effect for the first time.
func (r *Reconciler) ApplyUpdate(old, updated core.Transaction) error {
	effects := append(inverse(Effects(old)), Effects(updated)...)
	return r.apply(effects)
}

// apply adjusts all balances, rolling back the applied prefix if one
// account is missing so the cache is never half-updated.
func (r *Reconciler) apply(effects []Effect) error {
	for i, e := range effects {
		if err := r.store.AdjustBalance(e.AccountID, e.DeltaCents); err != nil {
			for j := i - 1; j >= 0; j-- {
				// Accounts that just accepted a delta accept its inverse.
				_ = r.store.AdjustBalance(effects[j].AccountID, -effects[j].DeltaCents)
			}
			return err
		}
	}
	return nil
}

// Recompute sums the effects of every completed transaction touching the
// account. This is the authoritative repair path: it is a pure fold over
// the ledger and therefore idempotent.
func (r *Reconciler) Recompute(accountID string) (int64, error) {
	if _, err := r.store.Account(accountID); err != nil {
		return 0, err
	}
	var total int64
	for _, tx := range r.store.Transactions(Filter{AccountID: accountID, Status: core.StatusCompleted}) {
		for _, e := range Effects(tx) {
			if e.AccountID == accountID {
				total += e.DeltaCents
			}
		}
	}
	return total, nil
}

// CheckDrift compares the cached balance against the recomputed total.
// A non-nil error wrapping core.ErrBalanceDrift means the cache diverged;
// the recomputed value is the truth.
func (r *Reconciler) CheckDrift(accountID string) (cached, recomputed int64, err error) {
	acc, err := r.store.Account(accountID)
	if err != nil {
		return 0, 0, err
	}
	recomputed, err = r.Recompute(accountID)
	if err != nil {
		return 0, 0, err
	}
	if acc.BalanceCents != recomputed {
		return acc.BalanceCents, recomputed, fmt.Errorf(
			"%w: account %s cached %d, recomputed %d",
			core.ErrBalanceDrift, accountID, acc.BalanceCents, recomputed)
	}
	return acc.BalanceCents, recomputed, nil
}
