package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plata/internal/core"
)

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, monthly_salary_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, passwordHash, u.MonthlySalaryCents, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", u.ID, "email", u.Email)
	return nil
}

// UserByEmail returns the user and their password hash for login checks.
func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (core.User, string, error) {
	var u core.User
	var hash string
	var lastSalary, lastLogin sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, monthly_salary_cents, last_salary_date, last_login
		 FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Username, &hash, &u.MonthlySalaryCents, &lastSalary, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, "", fmt.Errorf("user %s: %w", email, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("query user by email: %w", err)
	}
	u.LastSalaryDate = parseTime(lastSalary.String)
	u.LastLogin = parseTime(lastLogin.String)
	return u, hash, nil
}

func (r *SQLiteRepository) User(ctx context.Context, id string) (core.User, error) {
	var u core.User
	var lastSalary, lastLogin sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, username, monthly_salary_cents, last_salary_date, last_login
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Username, &u.MonthlySalaryCents, &lastSalary, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("query user: %w", err)
	}
	u.LastSalaryDate = parseTime(lastSalary.String)
	u.LastLogin = parseTime(lastLogin.String)
	return u, nil
}

func (r *SQLiteRepository) SetMonthlySalary(ctx context.Context, userID string, cents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET monthly_salary_cents = ? WHERE id = ?`, cents, userID)
	if err != nil {
		return fmt.Errorf("update monthly salary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SetLastSalaryDate(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_salary_date = ? WHERE id = ?`, formatTime(at), userID)
	if err != nil {
		return fmt.Errorf("update last salary date: %w", err)
	}
	return nil
}

// TouchLastLogin records a successful sign-in.
func (r *SQLiteRepository) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, formatTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// ---- sessions ----

func (r *SQLiteRepository) CreateSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, userID, formatTime(expiresAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UserIDForSession resolves a token hash to the owning user, rejecting
// expired sessions.
func (r *SQLiteRepository) UserIDForSession(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID, expiresAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE token_hash = ?`, tokenHash).
		Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session: %w", core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query session: %w", err)
	}
	if now.After(parseTime(expiresAt)) {
		return "", fmt.Errorf("session expired: %w", core.ErrNotFound)
	}
	return userID, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
