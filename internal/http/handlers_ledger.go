package http

import (
	"fmt"
	"net/http"
	"time"

	"plata/internal/core"
	"plata/internal/ledger"
)

// ---- accounts ----

type accountRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
}

type accountJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	BalanceCents int64  `json:"balance_cents"`
	Balance      string `json:"balance"`
	Currency     string `json:"currency"`
}

func toAccountJSON(a core.Account) accountJSON {
	return accountJSON{
		ID:           a.ID,
		Name:         a.Name,
		Type:         string(a.Type),
		BalanceCents: a.BalanceCents,
		Balance:      core.FormatCents(a.BalanceCents),
		Currency:     a.Currency,
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Accounts(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := s.ledger.CreateAccount(r.Context(), userID(r), core.Account{
		Name:     req.Name,
		Type:     core.AccountType(req.Type),
		Currency: req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusCreated, toAccountJSON(acc))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteAccount(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleReconcileAccount(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.Reconcile(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusOK, res)
}

// ---- categories ----

type categoryRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type categoryJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	IsDefault bool   `json:"is_default"`
}

func toCategoryJSON(c core.Category) categoryJSON {
	return categoryJSON{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		Icon:      c.Icon,
		Color:     c.Color,
		IsDefault: c.IsDefault,
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.ledger.Categories(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategoryJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cat, err := s.ledger.CreateCategory(r.Context(), userID(r), core.Category{
		Name:  req.Name,
		Type:  core.TransactionType(req.Type),
		Icon:  req.Icon,
		Color: req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryJSON(cat))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteCategory(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusNoContent, nil)
}

// ---- transactions ----

type transactionRequest struct {
	AccountID        string `json:"account_id"`
	CounterAccountID string `json:"counter_account_id"`
	CategoryID       string `json:"category_id"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	IsRecurring      bool   `json:"is_recurring"`
	Frequency        string `json:"frequency"`
	Status           string `json:"status"`
}

type transactionJSON struct {
	ID               string `json:"id"`
	AccountID        string `json:"account_id"`
	CounterAccountID string `json:"counter_account_id,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	Type             string `json:"type"`
	AmountCents      int64  `json:"amount_cents"`
	Amount           string `json:"amount"`
	Description      string `json:"description,omitempty"`
	Date             string `json:"date"`
	IsRecurring      bool   `json:"is_recurring"`
	Frequency        string `json:"frequency,omitempty"`
	Status           string `json:"status"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:               t.ID,
		AccountID:        t.AccountID,
		CounterAccountID: t.CounterAccountID,
		CategoryID:       t.CategoryID,
		Type:             string(t.Type),
		AmountCents:      t.Amount.Cents,
		Amount:           core.FormatCents(t.Amount.Cents),
		Description:      t.Description,
		Date:             t.Date.UTC().Format(time.RFC3339),
		IsRecurring:      t.IsRecurring,
		Frequency:        string(t.Frequency),
		Status:           string(t.Status),
	}
}

// parseDate accepts a full timestamp or a bare day.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q", core.ErrInvalidDate, s)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx := core.Transaction{
		AccountID:        req.AccountID,
		CounterAccountID: req.CounterAccountID,
		CategoryID:       req.CategoryID,
		Type:             core.TransactionType(req.Type),
		Amount:           core.Money{Cents: cents},
		Description:      req.Description,
		IsRecurring:      req.IsRecurring,
		Frequency:        core.Frequency(req.Frequency),
		Status:           core.TransactionStatus(req.Status),
	}
	if req.Date != "" {
		if tx.Date, err = parseDate(req.Date); err != nil {
			writeError(w, r, err)
			return
		}
	}

	created, err := s.ledger.AddTransaction(r.Context(), userID(r), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusCreated, toTransactionJSON(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Type:       core.TransactionType(q.Get("type")),
		Status:     core.TransactionStatus(q.Get("status")),
		AccountID:  q.Get("account_id"),
		CategoryID: q.Get("category_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f.To = t
	}

	txs, err := s.ledger.Transactions(r.Context(), userID(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.Transaction(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

// transactionPatch mirrors ledger.Patch on the wire: absent fields keep
// their current value.
type transactionPatch struct {
	AccountID        *string `json:"account_id"`
	CounterAccountID *string `json:"counter_account_id"`
	CategoryID       *string `json:"category_id"`
	Type             *string `json:"type"`
	Amount           *string `json:"amount"`
	Description      *string `json:"description"`
	Date             *string `json:"date"`
	Status           *string `json:"status"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	p := ledger.Patch{
		AccountID:        req.AccountID,
		CounterAccountID: req.CounterAccountID,
		CategoryID:       req.CategoryID,
		Description:      req.Description,
	}
	if req.Type != nil {
		typ := core.TransactionType(*req.Type)
		p.Type = &typ
	}
	if req.Status != nil {
		st := core.TransactionStatus(*req.Status)
		p.Status = &st
	}
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(*req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.Amount = &core.Money{Cents: cents}
	}
	if req.Date != nil {
		t, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.Date = &t
	}

	updated, err := s.ledger.UpdateTransaction(r.Context(), userID(r), r.PathValue("id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusOK, toTransactionJSON(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.RemoveTransaction(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateSummary(userID(r))
	writeJSON(w, http.StatusNoContent, nil)
}

// ---- summary ----

// handleSummary serves the aggregate view. The current-month summary is
// cached per user; an explicit month query bypasses the cache.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	if month := r.URL.Query().Get("month"); month != "" {
		ref, err := time.Parse("2006-01", month)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: month %q", core.ErrInvalidDate, month))
			return
		}
		sum, err := s.ledger.BuildSummary(r.Context(), uid, ref)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	if sum, ok := s.summaryCache.Get(uid); ok {
		writeJSON(w, http.StatusOK, sum)
		return
	}
	sum, err := s.ledger.BuildSummary(r.Context(), uid, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaryCache.Set(uid, sum)
	writeJSON(w, http.StatusOK, sum)
}
