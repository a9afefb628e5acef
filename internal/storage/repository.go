// Package storage is the persistence gateway: a SQLite-backed durable
// store for users, accounts, categories and transactions. Calls are
// fallible and not transactional across each other; the service layer
// owns the insert-then-update-balance reconciliation boundary.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"plata/internal/core"

	_ "modernc.org/sqlite"
)

// timeFormat is how timestamps are stored; SQLite has no native type.
const timeFormat = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// ---- accounts ----

func (r *SQLiteRepository) Accounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, balance_cents, currency FROM accounts WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var a core.Account
		var typ string
		if err := rows.Scan(&a.ID, &a.Name, &typ, &a.BalanceCents, &a.Currency); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Type = core.AccountType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, userID string, a core.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, type, balance_cents, currency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, userID, a.Name, string(a.Type), a.BalanceCents, a.Currency, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", a.ID,
		"user_id", userID,
		"type", string(a.Type))
	return nil
}

// UpdateAccountBalance persists the cached balance. This is the second
// half of the two-call mutation sequence; a failure here leaves the
// durable balance stale and must be followed by a reconcile.
func (r *SQLiteRepository) UpdateAccountBalance(ctx context.Context, accountID string, cents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = ? WHERE id = ?`, cents, accountID)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return nil
}

// DeleteAccount removes an account only when no live transaction
// references it on either side.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, accountID string) error {
	var refs int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE (account_id = ? OR counter_account_id = ?) AND deleted_at IS NULL`,
		accountID, accountID).Scan(&refs)
	if err != nil {
		return fmt.Errorf("count account references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrAccountReferenced)
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return nil
}

// AccountRef identifies an account and its owner, used by the
// reconcile sweep.
type AccountRef struct {
	ID     string
	UserID string
}

// AllAccounts lists every account across users, for the periodic
// reconcile sweep in the worker.
func (r *SQLiteRepository) AllAccounts(ctx context.Context) ([]AccountRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query all accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRef
	for rows.Next() {
		var ref AccountRef
		if err := rows.Scan(&ref.ID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("scan account ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// AccountBalance returns the stored (cached) balance.
func (r *SQLiteRepository) AccountBalance(ctx context.Context, accountID string) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM accounts WHERE id = ?`, accountID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query account balance: %w", err)
	}
	return cents, nil
}

// SumCompletedSigned computes the net effect of all completed, live
// transactions on one account: +amount for income, -amount for expense,
// transfers negative on the source and positive on the destination.
// This sum is the authoritative value a reconcile writes back.
func (r *SQLiteRepository) SumCompletedSigned(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE
			WHEN type = 'income'   AND account_id = ?1 THEN amount_cents
			WHEN type = 'expense'  AND account_id = ?1 THEN -amount_cents
			WHEN type = 'transfer' AND account_id = ?1 THEN -amount_cents
			WHEN type = 'transfer' AND counter_account_id = ?1 THEN amount_cents
			ELSE 0 END), 0)
		 FROM transactions
		 WHERE status = 'completed' AND deleted_at IS NULL
		   AND (account_id = ?1 OR counter_account_id = ?1)`,
		accountID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum completed transactions: %w", err)
	}
	return total, nil
}

// ---- categories ----

func (r *SQLiteRepository) Categories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, icon, color, is_default FROM categories WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var typ string
		if err := rows.Scan(&c.ID, &c.Name, &typ, &c.Icon, &c.Color, &c.IsDefault); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Type = core.TransactionType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, userID string, c core.Category) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, type, icon, color, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, userID, c.Name, string(c.Type), c.Icon, c.Color, c.IsDefault, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// DeleteCategory removes the category and clears the reference on any
// transaction that used it; those fall back to the uncategorized bucket.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, categoryID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET category_id = NULL WHERE category_id = ?`, categoryID); err != nil {
		return fmt.Errorf("clear category references: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("category %s: %w", categoryID, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "Category deleted, references cleared", "category_id", categoryID)
	return nil
}

// ---- transactions ----

const transactionColumns = `id, account_id, counter_account_id, category_id, type,
	amount_cents, description, date, is_recurring, frequency, status`

func scanTransaction(rows interface{ Scan(...any) error }) (core.Transaction, error) {
	var t core.Transaction
	var counter, category sql.NullString
	var typ, status, date string
	var frequency string
	if err := rows.Scan(&t.ID, &t.AccountID, &counter, &category, &typ,
		&t.Amount.Cents, &t.Description, &date, &t.IsRecurring, &frequency, &status); err != nil {
		return core.Transaction{}, err
	}
	t.CounterAccountID = counter.String
	t.CategoryID = category.String
	t.Type = core.TransactionType(typ)
	t.Status = core.TransactionStatus(status)
	t.Frequency = core.Frequency(frequency)
	t.Date = parseTime(date)
	return t, nil
}

func (r *SQLiteRepository) Transactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? AND deleted_at IS NULL ORDER BY date DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, userID string, t core.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, account_id, counter_account_id, category_id,
			type, amount_cents, description, date, is_recurring, frequency, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, userID, t.AccountID, nullString(t.CounterAccountID), nullString(t.CategoryID),
		string(t.Type), t.Amount.Cents, t.Description, formatTime(t.Date),
		t.IsRecurring, string(t.Frequency), string(t.Status), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"transaction_id", t.ID,
		"user_id", userID,
		"type", string(t.Type),
		"amount_cents", t.Amount.Cents)
	return nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET account_id = ?, counter_account_id = ?, category_id = ?,
			type = ?, amount_cents = ?, description = ?, date = ?, is_recurring = ?,
			frequency = ?, status = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		t.AccountID, nullString(t.CounterAccountID), nullString(t.CategoryID),
		string(t.Type), t.Amount.Cents, t.Description, formatTime(t.Date),
		t.IsRecurring, string(t.Frequency), string(t.Status), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

// SoftDeleteTransaction marks a transaction deleted; queries exclude it
// from then on but the row stays for audit.
func (r *SQLiteRepository) SoftDeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("soft delete transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "Transaction soft deleted", "transaction_id", id)
	return nil
}

// ---- recurring templates ----

// RecurringTemplate is a recurring transaction plus the bookkeeping the
// materializer needs.
type RecurringTemplate struct {
	UserID             string
	Transaction        core.Transaction
	LastMaterializedAt time.Time
}

// RecurringTemplates lists live recurring transactions across all users.
func (r *SQLiteRepository) RecurringTemplates(ctx context.Context) ([]RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, last_materialized_at, `+transactionColumns+` FROM transactions
		 WHERE is_recurring = 1 AND deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query recurring templates: %w", err)
	}
	defer rows.Close()

	var out []RecurringTemplate
	for rows.Next() {
		var tpl RecurringTemplate
		var last sql.NullString
		var counter, category sql.NullString
		var typ, status, date, frequency string
		t := &tpl.Transaction
		if err := rows.Scan(&tpl.UserID, &last,
			&t.ID, &t.AccountID, &counter, &category, &typ,
			&t.Amount.Cents, &t.Description, &date, &t.IsRecurring, &frequency, &status); err != nil {
			return nil, fmt.Errorf("scan recurring template: %w", err)
		}
		t.CounterAccountID = counter.String
		t.CategoryID = category.String
		t.Type = core.TransactionType(typ)
		t.Status = core.TransactionStatus(status)
		t.Frequency = core.Frequency(frequency)
		t.Date = parseTime(date)
		tpl.LastMaterializedAt = parseTime(last.String)
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// MarkMaterialized records when a recurring template last produced an
// instance.
func (r *SQLiteRepository) MarkMaterialized(ctx context.Context, templateID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET last_materialized_at = ? WHERE id = ?`,
		formatTime(at), templateID)
	if err != nil {
		return fmt.Errorf("mark template materialized: %w", err)
	}
	return nil
}
