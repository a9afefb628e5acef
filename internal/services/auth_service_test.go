package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plata/internal/core"
	"plata/internal/storage"
)

func newAuthService(t *testing.T) (*AuthService, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewAuthService(repo, time.Hour, nil), repo
}

func TestRegisterSeedsDefaults(t *testing.T) {
	auth, repo := newAuthService(t)
	ctx := context.Background()

	user, token, err := auth.Register(ctx, "Maria@Example.com", "maria", "secret-pass")
	require.NoError(t, err)
	require.Equal(t, "maria@example.com", user.Email)
	require.NotEmpty(t, token)

	userID, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)

	categories, err := repo.Categories(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, categories, len(defaultCategories))

	accounts, err := repo.Accounts(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, core.AccountCash, accounts[0].Type)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	auth, _ := newAuthService(t)
	ctx := context.Background()

	_, _, err := auth.Register(ctx, "not-an-email", "maria", "secret-pass")
	require.Error(t, err)

	_, _, err = auth.Register(ctx, "maria@example.com", "", "secret-pass")
	require.Error(t, err)

	_, _, err = auth.Register(ctx, "maria@example.com", "maria", "short")
	require.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	auth, _ := newAuthService(t)
	ctx := context.Background()

	_, _, err := auth.Register(ctx, "maria@example.com", "maria", "secret-pass")
	require.NoError(t, err)

	_, _, err = auth.Register(ctx, "maria@example.com", "other", "secret-pass")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	auth, _ := newAuthService(t)
	ctx := context.Background()

	_, _, err := auth.Register(ctx, "maria@example.com", "maria", "secret-pass")
	require.NoError(t, err)

	_, _, err = auth.Login(ctx, "maria@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = auth.Login(ctx, "nobody@example.com", "secret-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	user, token, err := auth.Login(ctx, "maria@example.com", "secret-pass")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	auth, _ := newAuthService(t)
	ctx := context.Background()

	_, token, err := auth.Register(ctx, "maria@example.com", "maria", "secret-pass")
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx, token))

	_, err = auth.Authenticate(ctx, token)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthenticateExpiredSession(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	auth := NewAuthService(repo, -time.Minute, nil)
	_, token, err := auth.Register(context.Background(), "maria@example.com", "maria", "secret-pass")
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, core.ErrNotFound)
}
