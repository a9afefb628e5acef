// Package worker runs the background side of the ledger: consuming
// reconcile requests from the queue, sweeping all accounts on a timer,
// and materializing due recurring transactions.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"plata/internal/amqp"
	"plata/internal/log"
	"plata/internal/services"
	"plata/internal/storage"
)

// Worker owns the background loops. It talks to the gateway directly;
// the API process reloads its in-memory ledgers often enough to pick up
// the corrections.
type Worker struct {
	repo      *storage.SQLiteRepository
	queue     *amqp.Client
	recurring *services.RecurringProcessor
	logger    *log.Logger

	reconcileInterval time.Duration
	recurringInterval time.Duration
}

func New(repo *storage.SQLiteRepository, queue *amqp.Client, reconcileInterval, recurringInterval time.Duration, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentWorker)
	}
	return &Worker{
		repo:              repo,
		queue:             queue,
		recurring:         services.NewRecurringProcessor(repo, logger),
		logger:            logger,
		reconcileInterval: reconcileInterval,
		recurringInterval: recurringInterval,
	}
}

// Run blocks until ctx ends, driving all loops concurrently. The queue
// consumer is skipped when no queue is configured; the sweeps still run.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.queue != nil {
		g.Go(func() error {
			err := w.queue.ConsumeReconcile(ctx, w.HandleReconcileMessage)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return w.loop(ctx, w.reconcileInterval, w.sweepAccounts)
	})
	g.Go(func() error {
		return w.loop(ctx, w.recurringInterval, w.materializeRecurring)
	})

	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// HandleReconcileMessage recomputes one account's balance from its
// completed transaction history and persists it. Drift is corrected and
// logged. Returning an error requeues the message.
func (w *Worker) HandleReconcileMessage(msg *amqp.ReconcileMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.reconcileAccount(ctx, msg.UserID, msg.AccountID, msg.Reason)
}

func (w *Worker) reconcileAccount(ctx context.Context, userID, accountID, reason string) error {
	cached, err := w.repo.AccountBalance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("read cached balance: %w", err)
	}
	total, err := w.repo.SumCompletedSigned(ctx, accountID)
	if err != nil {
		return fmt.Errorf("recompute balance: %w", err)
	}

	if cached == total {
		return nil
	}

	w.logger.WarnContext(ctx, "Balance drift corrected",
		log.FieldOperation, log.OpReconcile,
		log.FieldUserID, userID,
		log.FieldAccountID, accountID,
		log.FieldReason, reason,
		"cached_cents", cached,
		"recomputed_cents", total)

	if err := w.repo.UpdateAccountBalance(ctx, accountID, total); err != nil {
		return fmt.Errorf("write reconciled balance: %w", err)
	}
	return nil
}

// sweepAccounts reconciles every account. The sweep is the safety net
// behind the queue: anything a lost message left stale gets fixed here.
func (w *Worker) sweepAccounts(ctx context.Context) {
	refs, err := w.repo.AllAccounts(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to list accounts for sweep", log.FieldError, err)
		return
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		if err := w.reconcileAccount(ctx, ref.UserID, ref.ID, amqp.ReasonSweep); err != nil {
			w.logger.ErrorContext(ctx, "Sweep reconcile failed",
				log.FieldAccountID, ref.ID,
				log.FieldError, err)
		}
	}
	w.logger.Debug("Account sweep finished", "accounts", len(refs))
}

func (w *Worker) materializeRecurring(ctx context.Context) {
	if _, err := w.recurring.ProcessDue(ctx, time.Now()); err != nil {
		w.logger.ErrorContext(ctx, "Recurring materialization failed", log.FieldError, err)
	}
}
