package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"plata/internal/core"
	"plata/internal/log"
	"plata/internal/storage"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// defaultCategories is the starter set seeded for every new user.
var defaultCategories = []core.Category{
	{Name: "Salario", Type: core.Income, Icon: "cash", Color: "#2e7d32", IsDefault: true},
	{Name: "Otros ingresos", Type: core.Income, Icon: "plus-circle", Color: "#558b2f", IsDefault: true},
	{Name: "Comida", Type: core.Expense, Icon: "food", Color: "#ef6c00", IsDefault: true},
	{Name: "Transporte", Type: core.Expense, Icon: "bus", Color: "#1565c0", IsDefault: true},
	{Name: "Hogar", Type: core.Expense, Icon: "home", Color: "#6a1b9a", IsDefault: true},
	{Name: "Entretenimiento", Type: core.Expense, Icon: "movie", Color: "#c62828", IsDefault: true},
	{Name: "Salud", Type: core.Expense, Icon: "heart", Color: "#00838f", IsDefault: true},
	{Name: "Otros gastos", Type: core.Expense, Icon: "dots-horizontal", Color: "#455a64", IsDefault: true},
}

// AuthService handles registration, login and bearer-token sessions.
// Tokens are random; only their SHA-256 hash is stored.
type AuthService struct {
	repo       *storage.SQLiteRepository
	sessionTTL time.Duration
	logger     *log.Logger
}

func NewAuthService(repo *storage.SQLiteRepository, sessionTTL time.Duration, logger *log.Logger) *AuthService {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentAuth)
	}
	return &AuthService{repo: repo, sessionTTL: sessionTTL, logger: logger}
}

// Register creates the user, seeds the default categories and a cash
// account, and opens a session. Returns the user and the bearer token.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (core.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if !strings.Contains(email, "@") {
		return core.User{}, "", fmt.Errorf("%w: invalid email address", core.ErrInvalidInput)
	}
	if username == "" {
		return core.User{}, "", fmt.Errorf("%w: username", core.ErrEmptyName)
	}
	if len(password) < 8 {
		return core.User{}, "", fmt.Errorf("%w: password must be at least 8 characters", core.ErrInvalidInput)
	}

	if _, _, err := s.repo.UserByEmail(ctx, email); err == nil {
		return core.User{}, "", ErrEmailTaken
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, "", fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user := core.User{
		ID:       uuid.NewString(),
		Email:    email,
		Username: username,
	}
	if err := s.repo.CreateUser(ctx, user, string(hash)); err != nil {
		return core.User{}, "", fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	s.seedDefaults(ctx, user.ID)

	token, err := s.openSession(ctx, user.ID)
	if err != nil {
		return core.User{}, "", err
	}

	s.logger.InfoContext(ctx, "User registered",
		log.FieldUserID, user.ID,
		"email", user.Email)
	return user, token, nil
}

// seedDefaults creates the starter categories and a cash account. Seed
// failures are logged, not fatal; the user can create these by hand.
func (s *AuthService) seedDefaults(ctx context.Context, userID string) {
	for _, cat := range defaultCategories {
		cat.ID = uuid.NewString()
		if err := s.repo.CreateCategory(ctx, userID, cat); err != nil {
			s.logger.WarnContext(ctx, "Failed to seed default category",
				log.FieldUserID, userID,
				"category", cat.Name,
				log.FieldError, err)
		}
	}

	cash := core.Account{
		ID:       uuid.NewString(),
		Name:     "Efectivo",
		Type:     core.AccountCash,
		Currency: "PEN",
	}
	if err := s.repo.CreateAccount(ctx, userID, cash); err != nil {
		s.logger.WarnContext(ctx, "Failed to seed default account",
			log.FieldUserID, userID,
			log.FieldError, err)
	}
}

// Login checks the password and opens a new session.
func (s *AuthService) Login(ctx context.Context, email, password string) (core.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, hash, err := s.repo.UserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return core.User{}, "", ErrInvalidCredentials
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "Failed to record login time",
			log.FieldUserID, user.ID,
			log.FieldError, err)
	}

	token, err := s.openSession(ctx, user.ID)
	if err != nil {
		return core.User{}, "", err
	}

	s.logger.InfoContext(ctx, "User logged in", log.FieldUserID, user.ID)
	return user, token, nil
}

// Logout invalidates the session for the given token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.repo.DeleteSession(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return nil
}

// Authenticate resolves a bearer token to the owning user id. Unknown
// and expired tokens both come back as core.ErrNotFound.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty token: %w", core.ErrNotFound)
	}
	return s.repo.UserIDForSession(ctx, hashToken(token), time.Now())
}

// User returns the profile for an authenticated user id.
func (s *AuthService) User(ctx context.Context, userID string) (core.User, error) {
	return s.repo.User(ctx, userID)
}

func (s *AuthService) openSession(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	expiresAt := time.Now().Add(s.sessionTTL)
	if err := s.repo.CreateSession(ctx, hashToken(token), userID, expiresAt); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return token, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
