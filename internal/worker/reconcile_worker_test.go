package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"plata/internal/amqp"
	"plata/internal/core"
	"plata/internal/storage"
)

func newWorker(t *testing.T) (*Worker, *storage.SQLiteRepository, string, string) {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	userID := uuid.NewString()
	require.NoError(t, repo.CreateUser(ctx, core.User{
		ID: userID, Email: "w@example.com", Username: "w",
	}, "x"))

	accountID := uuid.NewString()
	require.NoError(t, repo.CreateAccount(ctx, userID, core.Account{
		ID: accountID, Name: "Banco", Type: core.AccountBank, Currency: "PEN",
	}))

	return New(repo, nil, time.Minute, time.Minute, nil), repo, userID, accountID
}

func TestHandleReconcileMessageFixesDrift(t *testing.T) {
	w, repo, userID, accountID := newWorker(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      core.Income,
		Amount:    core.Money{Cents: 40000},
		Date:      time.Now().UTC(),
		Status:    core.StatusCompleted,
	}))

	// The balance was never written; the message repairs it.
	msg := amqp.NewReconcileMessage(userID, accountID, amqp.ReasonBalanceWriteFailed)
	require.NoError(t, w.HandleReconcileMessage(msg))

	balance, err := repo.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(40000), balance)

	// Already consistent, a repeat is a no-op.
	require.NoError(t, w.HandleReconcileMessage(msg))
}

func TestHandleReconcileMessageUnknownAccount(t *testing.T) {
	w, _, userID, _ := newWorker(t)
	msg := amqp.NewReconcileMessage(userID, "missing", amqp.ReasonSweep)
	require.Error(t, w.HandleReconcileMessage(msg))
}

func TestSweepAccounts(t *testing.T) {
	w, repo, userID, accountID := newWorker(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, userID, core.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      core.Expense,
		Amount:    core.Money{Cents: 2500},
		Date:      time.Now().UTC(),
		Status:    core.StatusCompleted,
	}))
	require.NoError(t, repo.UpdateAccountBalance(ctx, accountID, 777))

	w.sweepAccounts(ctx)

	balance, err := repo.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(-2500), balance)
}
