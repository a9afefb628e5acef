package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusCancelled TransactionStatus = "cancelled"
)

const (
	AccountCash       AccountType = "cash"
	AccountBank       AccountType = "bank"
	AccountCredit     AccountType = "credit"
	AccountSavings    AccountType = "savings"
	AccountInvestment AccountType = "investment"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Uncategorized is the bucket key for transactions without a category.
const Uncategorized = "uncategorized"

type (
	TransactionType   string
	TransactionStatus string
	AccountType       string
	Frequency         string

	Money struct {
		Cents int64
	}

	// Transaction is immutable once created; changes go through explicit
	// update or delete. Amount is always positive, the direction comes
	// from Type. Transfers carry both a source (AccountID) and a
	// destination (CounterAccountID).
	Transaction struct {
		ID               string
		AccountID        string
		CounterAccountID string // transfers only
		CategoryID       string // optional
		Type             TransactionType
		Amount           Money
		Description      string
		Date             time.Time
		IsRecurring      bool
		Frequency        Frequency // required when IsRecurring
		Status           TransactionStatus
	}

	// Account carries BalanceCents as a cached projection of the ledger,
	// signed. It is never authoritative on its own: reconciliation may
	// recompute it from the completed transaction history at any time.
	Account struct {
		ID           string
		Name         string
		Type         AccountType
		BalanceCents int64
		Currency     string
	}

	Category struct {
		ID        string
		Name      string
		Type      TransactionType // income or expense
		Icon      string
		Color     string
		IsDefault bool
	}

	User struct {
		ID                 string
		Email              string
		Username           string
		MonthlySalaryCents int64
		LastSalaryDate     time.Time
		LastLogin          time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidStatus    = errors.New("invalid transaction status")
	ErrInvalidFrequency = errors.New("invalid recurring frequency")
	ErrEmptyAccount     = errors.New("missing account reference")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrNotFound is returned for operations on unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrAccountReferenced rejects deleting an account that still has
	// transactions pointing at it.
	ErrAccountReferenced = errors.New("account referenced by transactions")

	// ErrPersistence wraps failed gateway calls so callers can tell them
	// apart from validation failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrBalanceDrift reports a cached balance that disagrees with the
	// recomputed total. Surfaced by reconciliation, never auto-hidden.
	ErrBalanceDrift = errors.New("balance drift detected")
)

// IsValidationError reports whether err belongs to the input-validation
// family, i.e. the mutation was rejected before any state changed.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidFrequency) ||
		errors.Is(err, ErrEmptyAccount) ||
		errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidInput)
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (a AccountType) Valid() bool {
	switch a {
	case AccountCash, AccountBank, AccountCredit, AccountSavings, AccountInvestment:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if len(t.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrInvalidInput)
	}
	if t.Type == Transfer {
		if strings.TrimSpace(t.CounterAccountID) == "" {
			return fmt.Errorf("%w: transfer needs a destination account", ErrEmptyAccount)
		}
		if t.CounterAccountID == t.AccountID {
			return fmt.Errorf("%w: transfer source and destination must differ", ErrInvalidInput)
		}
	} else if t.CounterAccountID != "" {
		return fmt.Errorf("%w: counter account only allowed on transfers", ErrInvalidInput)
	}
	if t.IsRecurring && !t.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, t.Frequency)
	}
	return nil
}

// Completed reports whether the transaction contributes to account balances.
func (t Transaction) Completed() bool {
	return t.Status == StatusCompleted
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: account type %q", ErrInvalidInput, a.Type)
	}
	if a.Currency == "" {
		return fmt.Errorf("%w: empty currency", ErrInvalidInput)
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if c.Type != Income && c.Type != Expense {
		return fmt.Errorf("%w: category type %q", ErrInvalidInput, c.Type)
	}
	return nil
}
