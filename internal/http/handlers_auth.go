package http

import (
	"net/http"
	"time"

	"plata/internal/core"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Username           string `json:"username"`
	MonthlySalaryCents int64  `json:"monthly_salary_cents"`
	LastSalaryDate     string `json:"last_salary_date,omitempty"`
}

type sessionResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func toUserResponse(u core.User) userResponse {
	out := userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Username:           u.Username,
		MonthlySalaryCents: u.MonthlySalaryCents,
	}
	if !u.LastSalaryDate.IsZero() {
		out.LastSalaryDate = u.LastSalaryDate.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{User: toUserResponse(user), Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: toUserResponse(user), Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.User(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type salaryRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleSetSalary(w http.ResponseWriter, r *http.Request) {
	var req salaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.SetMonthlySalary(r.Context(), userID(r), cents); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
