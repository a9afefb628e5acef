package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plata/internal/amqp"
	"plata/internal/core"
	"plata/internal/ledger"
	"plata/internal/log"
	"plata/internal/snapshot"
	"plata/internal/storage"
)

// salaryCategoryName marks the income category whose completed
// transactions update the user's last salary date.
const salaryCategoryName = "Salario"

// sessionMaxAge bounds how long an in-memory ledger is trusted before it
// is reloaded from the gateway. The worker writes recurring instances
// from another process; a reload picks those up.
const sessionMaxAge = 5 * time.Minute

// ReconcilePublisher flags an account for asynchronous reconciliation.
// Satisfied by *amqp.Client; nil disables flagging.
type ReconcilePublisher interface {
	PublishReconcile(ctx context.Context, userID, accountID, reason string) error
}

// userLedger is one signed-in user's in-memory state. Its mutex
// serializes mutations so the persist-then-apply sequence of one write
// never interleaves with another.
type userLedger struct {
	mu       sync.Mutex
	store    *ledger.Store
	rec      *ledger.Reconciler
	loadedAt time.Time
}

// ledgerSnapshot is the JSON shape persisted to the local snapshot
// store, the fallback when the gateway is unreachable at session start.
type ledgerSnapshot struct {
	Accounts     []core.Account     `json:"accounts"`
	Categories   []core.Category    `json:"categories"`
	Transactions []core.Transaction `json:"transactions"`
}

func snapshotKey(userID string) string {
	return "ledger:" + userID
}

// LedgerService coordinates the in-memory ledger, the persistence
// gateway, the reconcile queue and the local snapshot cache.
//
// Mutations follow a fixed sequence: validate, persist the transaction
// row, apply it in memory, persist the affected balances. A failed row
// write aborts with nothing applied; a failed balance write keeps the
// in-memory state and flags the account for reconciliation.
type LedgerService struct {
	repo      *storage.SQLiteRepository
	queue     ReconcilePublisher
	snapshots *snapshot.Store
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*userLedger
	maxAge   time.Duration
}

func NewLedgerService(repo *storage.SQLiteRepository, queue ReconcilePublisher, snapshots *snapshot.Store, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentLedger)
	}
	return &LedgerService{
		repo:      repo,
		queue:     queue,
		snapshots: snapshots,
		logger:    logger,
		sessions:  make(map[string]*userLedger),
		maxAge:    sessionMaxAge,
	}
}

// ledgerFor returns the user's in-memory ledger, loading it from the
// gateway on first use or when the cached copy aged out. When the
// gateway is unreachable the last local snapshot serves reads.
func (s *LedgerService) ledgerFor(ctx context.Context, userID string) (*userLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[userID]; ok {
		if time.Since(old.loadedAt) < s.maxAge {
			return old, nil
		}
		// Drain in-flight mutations on the aged-out session before
		// replacing it, so the reload sees their writes and nothing
		// commits to the orphaned store afterwards.
		old.mu.Lock()
		defer old.mu.Unlock()
	}

	accounts, categories, transactions, err := s.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}

	store := ledger.NewStore()
	store.Load(accounts, categories, transactions)
	ul := &userLedger{
		store:    store,
		rec:      ledger.NewReconciler(store),
		loadedAt: time.Now(),
	}
	s.sessions[userID] = ul
	return ul, nil
}

func (s *LedgerService) loadState(ctx context.Context, userID string) ([]core.Account, []core.Category, []core.Transaction, error) {
	accounts, err := s.repo.Accounts(ctx, userID)
	if err == nil {
		var categories []core.Category
		if categories, err = s.repo.Categories(ctx, userID); err == nil {
			var transactions []core.Transaction
			if transactions, err = s.repo.Transactions(ctx, userID); err == nil {
				return accounts, categories, transactions, nil
			}
		}
	}

	if s.snapshots != nil {
		var snap ledgerSnapshot
		if ok, snapErr := s.snapshots.Get(snapshotKey(userID), &snap); snapErr == nil && ok {
			s.logger.WarnContext(ctx, "Gateway unreachable, serving ledger from local snapshot",
				log.FieldUserID, userID,
				log.FieldError, err)
			return snap.Accounts, snap.Categories, snap.Transactions, nil
		}
	}
	return nil, nil, nil, fmt.Errorf("%w: load ledger for user %s: %v", core.ErrPersistence, userID, err)
}

// InvalidateSession drops the cached ledger so the next call reloads
// from the gateway.
func (s *LedgerService) InvalidateSession(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// ---- transactions ----

func (s *LedgerService) AddTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	prepared, err := ul.store.PrepareAdd(tx)
	if err != nil {
		return core.Transaction{}, err
	}

	if err := s.repo.InsertTransaction(ctx, userID, prepared); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	ul.store.CommitAdd(prepared)
	if err := ul.rec.ApplyAdd(prepared); err != nil {
		s.logger.ErrorContext(ctx, "Failed to apply transaction to cached balances",
			log.FieldTransactionID, prepared.ID,
			log.FieldError, err)
	}

	s.persistBalances(ctx, userID, ul, accountsTouched(prepared))
	s.touchSalaryDate(ctx, userID, ul, prepared)
	s.saveSnapshot(ctx, userID, ul)

	s.logger.InfoContext(ctx, "Transaction added",
		log.FieldOperation, log.OpCreate,
		log.FieldUserID, userID,
		log.FieldTransactionID, prepared.ID,
		log.FieldAmountCents, prepared.Amount.Cents)
	return prepared, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, id string, p ledger.Patch) (core.Transaction, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	old, updated, err := ul.store.PrepareUpdate(id, p)
	if err != nil {
		return core.Transaction{}, err
	}

	if err := s.repo.UpdateTransaction(ctx, updated); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Transaction{}, err
		}
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	ul.store.CommitUpdate(updated)
	if err := ul.rec.ApplyUpdate(old, updated); err != nil {
		s.logger.ErrorContext(ctx, "Failed to reconcile edit against cached balances",
			log.FieldTransactionID, id,
			log.FieldError, err)
	}

	s.persistBalances(ctx, userID, ul, accountsTouched(old, updated))
	s.saveSnapshot(ctx, userID, ul)

	s.logger.InfoContext(ctx, "Transaction updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldUserID, userID,
		log.FieldTransactionID, id)
	return updated, nil
}

func (s *LedgerService) RemoveTransaction(ctx context.Context, userID, id string) error {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	tx, err := ul.store.PrepareRemove(id)
	if err != nil {
		return err
	}

	if err := s.repo.SoftDeleteTransaction(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	ul.store.CommitRemove(id)
	if err := ul.rec.ApplyRemove(tx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to reverse transaction on cached balances",
			log.FieldTransactionID, id,
			log.FieldError, err)
	}

	s.persistBalances(ctx, userID, ul, accountsTouched(tx))
	s.saveSnapshot(ctx, userID, ul)

	s.logger.InfoContext(ctx, "Transaction removed",
		log.FieldOperation, log.OpDelete,
		log.FieldUserID, userID,
		log.FieldTransactionID, id)
	return nil
}

func (s *LedgerService) Transaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	return ul.store.Transaction(id)
}

func (s *LedgerService) Transactions(ctx context.Context, userID string, f ledger.Filter) ([]core.Transaction, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ul.store.Transactions(f), nil
}

// ---- accounts ----

func (s *LedgerService) Accounts(ctx context.Context, userID string) ([]core.Account, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ul.store.Accounts(), nil
}

func (s *LedgerService) CreateAccount(ctx context.Context, userID string, acc core.Account) (core.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Currency == "" {
		acc.Currency = "PEN"
	}
	if err := acc.Validate(); err != nil {
		return core.Account{}, err
	}

	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return core.Account{}, err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if err := s.repo.CreateAccount(ctx, userID, acc); err != nil {
		return core.Account{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	ul.store.PutAccount(acc)
	s.saveSnapshot(ctx, userID, ul)
	return acc, nil
}

// DeleteAccount removes an account with no transactions referencing it.
// Deletion is rejected with core.ErrAccountReferenced otherwise; callers
// must delete or move the transactions first.
func (s *LedgerService) DeleteAccount(ctx context.Context, userID, accountID string) error {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if _, err := ul.store.Account(accountID); err != nil {
		return err
	}
	if err := s.repo.DeleteAccount(ctx, accountID); err != nil {
		if errors.Is(err, core.ErrAccountReferenced) || errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if err := ul.store.RemoveAccount(accountID); err != nil {
		s.logger.ErrorContext(ctx, "Account deleted from gateway but not from memory",
			log.FieldAccountID, accountID,
			log.FieldError, err)
	}
	s.saveSnapshot(ctx, userID, ul)
	return nil
}

// ---- categories ----

func (s *LedgerService) Categories(ctx context.Context, userID string) ([]core.Category, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ul.store.Categories(), nil
}

func (s *LedgerService) CreateCategory(ctx context.Context, userID string, cat core.Category) (core.Category, error) {
	if cat.ID == "" {
		cat.ID = uuid.NewString()
	}
	if err := cat.Validate(); err != nil {
		return core.Category{}, err
	}

	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return core.Category{}, err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if err := s.repo.CreateCategory(ctx, userID, cat); err != nil {
		return core.Category{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	ul.store.PutCategory(cat)
	s.saveSnapshot(ctx, userID, ul)
	return cat, nil
}

// DeleteCategory removes a category; transactions that used it keep
// their amounts and fall back to the uncategorized bucket.
func (s *LedgerService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return err
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if _, err := ul.store.Category(categoryID); err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, categoryID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	cleared, err := ul.store.RemoveCategory(categoryID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Category deleted from gateway but not from memory",
			log.FieldCategoryID, categoryID,
			log.FieldError, err)
	} else if len(cleared) > 0 {
		s.logger.InfoContext(ctx, "Category deleted, transactions moved to uncategorized",
			log.FieldCategoryID, categoryID,
			"cleared_count", len(cleared))
	}
	s.saveSnapshot(ctx, userID, ul)
	return nil
}

// ---- reconciliation ----

// ReconcileResult reports one reconciliation run: the balance before,
// the recomputed authoritative balance, and whether they disagreed.
type ReconcileResult struct {
	AccountID     string `json:"account_id"`
	PreviousCents int64  `json:"previous_cents"`
	BalanceCents  int64  `json:"balance_cents"`
	Drifted       bool   `json:"drifted"`
}

// Reconcile recomputes an account's balance from its completed
// transaction history in the gateway, persists it, and syncs the cached
// copy. Drift is corrected and logged, never hidden. The operation is
// idempotent; running it twice writes the same value.
func (s *LedgerService) Reconcile(ctx context.Context, userID, accountID string) (ReconcileResult, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return ReconcileResult{}, err
	}

	// The user's ledger only holds their own accounts, so an id owned
	// by someone else comes back not found before any gateway write.
	if _, err := ul.store.Account(accountID); err != nil {
		return ReconcileResult{}, err
	}

	previous, err := s.repo.AccountBalance(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return ReconcileResult{}, err
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	total, err := s.repo.SumCompletedSigned(ctx, accountID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	drifted := previous != total
	if drifted {
		s.logger.WarnContext(ctx, "Balance drift corrected",
			log.FieldOperation, log.OpReconcile,
			log.FieldUserID, userID,
			log.FieldAccountID, accountID,
			"cached_cents", previous,
			"recomputed_cents", total,
			log.FieldError, core.ErrBalanceDrift)
	}

	if err := s.repo.UpdateAccountBalance(ctx, accountID, total); err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	if err := ul.store.SetBalance(accountID, total); err != nil && !errors.Is(err, core.ErrNotFound) {
		s.logger.ErrorContext(ctx, "Failed to sync reconciled balance into memory",
			log.FieldAccountID, accountID,
			log.FieldError, err)
	}
	s.saveSnapshot(ctx, userID, ul)

	return ReconcileResult{
		AccountID:     accountID,
		PreviousCents: previous,
		BalanceCents:  total,
		Drifted:       drifted,
	}, nil
}

// ---- summary ----

// AccountSummary is the income/expense split for one account.
type AccountSummary struct {
	IncomeCents  int64 `json:"income_cents"`
	ExpenseCents int64 `json:"expense_cents"`
}

// Summary is the aggregate view of one user's completed transactions.
// Category and account keys are display names with explicit fallbacks
// for deleted references.
type Summary struct {
	TotalIncomeCents  int64                     `json:"total_income_cents"`
	TotalExpenseCents int64                     `json:"total_expense_cents"`
	NetCents          int64                     `json:"net_cents"`
	MonthIncomeCents  int64                     `json:"month_income_cents"`
	MonthExpenseCents int64                     `json:"month_expense_cents"`
	ByCategory        map[string]int64          `json:"by_category"`
	ByAccount         map[string]AccountSummary `json:"by_account"`
}

// BuildSummary aggregates completed transactions: lifetime and current
// calendar month totals, plus per-category and per-account breakdowns.
func (s *LedgerService) BuildSummary(ctx context.Context, userID string, ref time.Time) (Summary, error) {
	ul, err := s.ledgerFor(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	txs := ul.store.Transactions(ledger.Filter{Status: core.StatusCompleted})
	month := ledger.CurrentPeriod(txs, ref)

	out := Summary{
		TotalIncomeCents:  ledger.TotalByType(txs, core.Income).Cents,
		TotalExpenseCents: ledger.TotalByType(txs, core.Expense).Cents,
		MonthIncomeCents:  ledger.TotalByType(month, core.Income).Cents,
		MonthExpenseCents: ledger.TotalByType(month, core.Expense).Cents,
		ByCategory:        make(map[string]int64),
		ByAccount:         make(map[string]AccountSummary),
	}
	out.NetCents = out.TotalIncomeCents - out.TotalExpenseCents

	for categoryID, total := range ledger.TotalByCategory(txs) {
		name := core.Uncategorized
		if categoryID != core.Uncategorized {
			if cat, err := ul.store.Category(categoryID); err == nil {
				name = cat.Name
			}
		}
		out.ByCategory[name] += total.Cents
	}

	for accountID, totals := range ledger.TotalByAccount(txs) {
		name := "unknown account"
		if acc, err := ul.store.Account(accountID); err == nil {
			name = acc.Name
		}
		agg := out.ByAccount[name]
		agg.IncomeCents += totals.IncomeCents
		agg.ExpenseCents += totals.ExpenseCents
		out.ByAccount[name] = agg
	}

	return out, nil
}

// SetMonthlySalary stores the user's expected monthly salary.
func (s *LedgerService) SetMonthlySalary(ctx context.Context, userID string, cents int64) error {
	if cents < 0 {
		return fmt.Errorf("%w: salary must not be negative", core.ErrInvalidAmount)
	}
	if err := s.repo.SetMonthlySalary(ctx, userID, cents); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return nil
}

// ---- internals ----

// accountsTouched collects the unique account ids a set of transactions
// can affect, both sides of transfers included, regardless of status.
func accountsTouched(txs ...core.Transaction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		for _, id := range []string{tx.AccountID, tx.CounterAccountID} {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// persistBalances writes the cached balances of the given accounts to
// the gateway. A failure here means durable state lags memory; the
// account is flagged for asynchronous reconciliation and the mutation
// still succeeds.
func (s *LedgerService) persistBalances(ctx context.Context, userID string, ul *userLedger, accountIDs []string) {
	for _, accountID := range accountIDs {
		acc, err := ul.store.Account(accountID)
		if err != nil {
			continue
		}
		if err := s.repo.UpdateAccountBalance(ctx, accountID, acc.BalanceCents); err != nil {
			s.flagReconcile(ctx, userID, accountID, err)
		}
	}
}

func (s *LedgerService) flagReconcile(ctx context.Context, userID, accountID string, cause error) {
	s.logger.ErrorContext(ctx, "Balance write failed, account flagged for reconciliation",
		log.FieldUserID, userID,
		log.FieldAccountID, accountID,
		log.FieldError, cause)
	if s.queue == nil {
		return
	}
	if err := s.queue.PublishReconcile(ctx, userID, accountID, amqp.ReasonBalanceWriteFailed); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish reconcile message",
			log.FieldUserID, userID,
			log.FieldAccountID, accountID,
			log.FieldError, err)
	}
}

// touchSalaryDate records the date of a completed salary income so the
// user's pay cycle can be tracked.
func (s *LedgerService) touchSalaryDate(ctx context.Context, userID string, ul *userLedger, tx core.Transaction) {
	if tx.Type != core.Income || !tx.Completed() || tx.CategoryID == "" {
		return
	}
	cat, err := ul.store.Category(tx.CategoryID)
	if err != nil || cat.Name != salaryCategoryName {
		return
	}
	if err := s.repo.SetLastSalaryDate(ctx, userID, tx.Date); err != nil {
		s.logger.WarnContext(ctx, "Failed to record salary date",
			log.FieldUserID, userID,
			log.FieldError, err)
	}
}

func (s *LedgerService) saveSnapshot(ctx context.Context, userID string, ul *userLedger) {
	if s.snapshots == nil {
		return
	}
	accounts, categories, transactions := ul.store.Snapshot()
	snap := ledgerSnapshot{Accounts: accounts, Categories: categories, Transactions: transactions}
	if err := s.snapshots.Set(snapshotKey(userID), snap); err != nil {
		s.logger.WarnContext(ctx, "Failed to write local snapshot",
			log.FieldUserID, userID,
			log.FieldError, err)
	}
}
