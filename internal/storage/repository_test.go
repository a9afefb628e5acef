package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"plata/internal/core"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *SQLiteRepository) string {
	t.Helper()
	userID := uuid.NewString()
	require.NoError(t, repo.CreateUser(context.Background(), core.User{
		ID: userID, Email: userID + "@example.com", Username: "u",
	}, "hash"))
	return userID
}

func seedAccount(t *testing.T, repo *SQLiteRepository, userID string) string {
	t.Helper()
	accountID := uuid.NewString()
	require.NoError(t, repo.CreateAccount(context.Background(), userID, core.Account{
		ID: accountID, Name: "Banco", Type: core.AccountBank, Currency: "PEN",
	}))
	return accountID
}

func TestAccountRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)

	accounts, err := repo.Accounts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "Banco", accounts[0].Name)
	require.Equal(t, int64(0), accounts[0].BalanceCents)

	require.NoError(t, repo.UpdateAccountBalance(ctx, accountID, 12345))
	balance, err := repo.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(12345), balance)

	err = repo.UpdateAccountBalance(ctx, "missing", 1)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)

	date := time.Date(2026, 8, 15, 9, 30, 0, 0, time.UTC)
	tx := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        core.Expense,
		Amount:      core.Money{Cents: 4550},
		Description: "taxi",
		Date:        date,
		Status:      core.StatusCompleted,
	}
	require.NoError(t, repo.InsertTransaction(ctx, userID, tx))

	txs, err := repo.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, tx.ID, txs[0].ID)
	require.Equal(t, int64(4550), txs[0].Amount.Cents)
	require.True(t, txs[0].Date.Equal(date))
	require.Empty(t, txs[0].CounterAccountID)

	tx.Amount.Cents = 5000
	tx.Status = core.StatusPending
	require.NoError(t, repo.UpdateTransaction(ctx, tx))

	txs, err = repo.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(5000), txs[0].Amount.Cents)
	require.Equal(t, core.StatusPending, txs[0].Status)

	require.NoError(t, repo.SoftDeleteTransaction(ctx, tx.ID))
	txs, err = repo.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, txs)

	// Already soft deleted.
	require.ErrorIs(t, repo.SoftDeleteTransaction(ctx, tx.ID), core.ErrNotFound)
}

func TestSumCompletedSigned(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)
	otherID := seedAccount(t, repo, userID)

	now := time.Now().UTC()
	insert := func(typ core.TransactionType, cents int64, status core.TransactionStatus, counter string) {
		t.Helper()
		require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
			ID:               uuid.NewString(),
			AccountID:        accountID,
			CounterAccountID: counter,
			Type:             typ,
			Amount:           core.Money{Cents: cents},
			Date:             now,
			Status:           status,
		}))
	}

	insert(core.Income, 100000, core.StatusCompleted, "")
	insert(core.Expense, 20000, core.StatusCompleted, "")
	insert(core.Expense, 99999, core.StatusPending, "")
	insert(core.Transfer, 30000, core.StatusCompleted, otherID)

	total, err := repo.SumCompletedSigned(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), total)

	// The transfer lands on the destination side.
	total, err = repo.SumCompletedSigned(ctx, otherID)
	require.NoError(t, err)
	require.Equal(t, int64(30000), total)
}

func TestDeleteAccountReferences(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)

	txID := uuid.NewString()
	require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
		ID:        txID,
		AccountID: accountID,
		Type:      core.Income,
		Amount:    core.Money{Cents: 100},
		Date:      time.Now().UTC(),
		Status:    core.StatusCompleted,
	}))

	require.ErrorIs(t, repo.DeleteAccount(ctx, accountID), core.ErrAccountReferenced)

	// Soft-deleted transactions no longer block the delete.
	require.NoError(t, repo.SoftDeleteTransaction(ctx, txID))
	require.NoError(t, repo.DeleteAccount(ctx, accountID))
	require.ErrorIs(t, repo.DeleteAccount(ctx, accountID), core.ErrNotFound)
}

func TestDeleteCategoryClearsReferences(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)

	categoryID := uuid.NewString()
	require.NoError(t, repo.CreateCategory(ctx, userID, core.Category{
		ID: categoryID, Name: "Comida", Type: core.Expense,
	}))

	txID := uuid.NewString()
	require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
		ID:         txID,
		AccountID:  accountID,
		CategoryID: categoryID,
		Type:       core.Expense,
		Amount:     core.Money{Cents: 700},
		Date:       time.Now().UTC(),
		Status:     core.StatusCompleted,
	}))

	require.NoError(t, repo.DeleteCategory(ctx, categoryID))

	txs, err := repo.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Empty(t, txs[0].CategoryID)

	categories, err := repo.Categories(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, categories)
}

func TestRecurringTemplates(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)
	accountID := seedAccount(t, repo, userID)

	tplID := uuid.NewString()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
		ID:          tplID,
		AccountID:   accountID,
		Type:        core.Expense,
		Amount:      core.Money{Cents: 2900},
		Description: "internet",
		Date:        start,
		IsRecurring: true,
		Frequency:   core.Monthly,
		Status:      core.StatusCompleted,
	}))

	templates, err := repo.RecurringTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.Equal(t, userID, templates[0].UserID)
	require.Equal(t, core.Monthly, templates[0].Transaction.Frequency)
	require.True(t, templates[0].LastMaterializedAt.IsZero())

	at := time.Date(2026, 2, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkMaterialized(ctx, tplID, at))

	templates, err = repo.RecurringTemplates(ctx)
	require.NoError(t, err)
	require.True(t, templates[0].LastMaterializedAt.Equal(at))
}

func TestSessions(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)

	require.NoError(t, repo.CreateSession(ctx, "hash-1", userID, time.Now().Add(time.Hour)))

	got, err := repo.UserIDForSession(ctx, "hash-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, userID, got)

	_, err = repo.UserIDForSession(ctx, "hash-2", time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)

	// Expired sessions are rejected.
	require.NoError(t, repo.CreateSession(ctx, "hash-3", userID, time.Now().Add(-time.Hour)))
	_, err = repo.UserIDForSession(ctx, "hash-3", time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, repo.DeleteSession(ctx, "hash-1"))
	_, err = repo.UserIDForSession(ctx, "hash-1", time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestUserSalaryFields(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := seedUser(t, repo)

	require.NoError(t, repo.SetMonthlySalary(ctx, userID, 350000))
	payday := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastSalaryDate(ctx, userID, payday))

	user, err := repo.User(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(350000), user.MonthlySalaryCents)
	require.True(t, user.LastSalaryDate.Equal(payday))
}
