package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"plata/internal/core"
	"plata/internal/log"
	"plata/internal/storage"
)

// RecurringProcessor materializes due recurring transactions. It works
// against the gateway only; the API process picks up new instances when
// it reloads a user's ledger.
type RecurringProcessor struct {
	repo   *storage.SQLiteRepository
	logger *log.Logger
}

func NewRecurringProcessor(repo *storage.SQLiteRepository, logger *log.Logger) *RecurringProcessor {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentWorker)
	}
	return &RecurringProcessor{repo: repo, logger: logger}
}

// ProcessDue walks all recurring templates and materializes the ones
// that are due at now. Returns how many instances were created. One
// failing template does not stop the rest.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	templates, err := p.repo.RecurringTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring templates: %w", err)
	}

	created := 0
	for _, tpl := range templates {
		due, err := p.isDue(tpl, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "Skipping recurring template",
				log.FieldTransactionID, tpl.Transaction.ID,
				log.FieldError, err)
			continue
		}
		if !due {
			continue
		}

		if err := p.materialize(ctx, tpl, now); err != nil {
			p.logger.ErrorContext(ctx, "Failed to materialize recurring transaction",
				log.FieldTransactionID, tpl.Transaction.ID,
				log.FieldUserID, tpl.UserID,
				log.FieldError, err)
			continue
		}
		created++
	}

	if created > 0 {
		p.logger.InfoContext(ctx, "Materialized recurring transactions", "count", created)
	}
	return created, nil
}

func (p *RecurringProcessor) isDue(tpl storage.RecurringTemplate, now time.Time) (bool, error) {
	checker, err := GetDuenessChecker(tpl.Transaction.Frequency)
	if err != nil {
		return false, err
	}
	// A template is never due before its own start date.
	if now.Before(tpl.Transaction.Date) {
		return false, nil
	}
	return checker.IsDue(tpl.LastMaterializedAt, now, tpl.Transaction.Date), nil
}

// materialize inserts a concrete instance of the template, brings the
// affected balances up to date, and records the materialization time.
func (p *RecurringProcessor) materialize(ctx context.Context, tpl storage.RecurringTemplate, now time.Time) error {
	instance := tpl.Transaction
	instance.ID = uuid.NewString()
	instance.Date = now.UTC()
	instance.IsRecurring = false
	instance.Frequency = ""
	instance.Status = core.StatusCompleted

	if err := instance.Validate(); err != nil {
		return fmt.Errorf("instance invalid: %w", err)
	}
	if err := p.repo.InsertTransaction(ctx, tpl.UserID, instance); err != nil {
		return err
	}

	for _, accountID := range accountsTouched(instance) {
		total, err := p.repo.SumCompletedSigned(ctx, accountID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to recompute balance after materialization",
				log.FieldAccountID, accountID,
				log.FieldError, err)
			continue
		}
		if err := p.repo.UpdateAccountBalance(ctx, accountID, total); err != nil {
			p.logger.ErrorContext(ctx, "Failed to persist balance after materialization",
				log.FieldAccountID, accountID,
				log.FieldError, err)
		}
	}

	if err := p.repo.MarkMaterialized(ctx, tpl.Transaction.ID, now); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Recurring transaction materialized",
		log.FieldTransactionID, instance.ID,
		log.FieldUserID, tpl.UserID,
		log.FieldAmountCents, instance.Amount.Cents)
	return nil
}
