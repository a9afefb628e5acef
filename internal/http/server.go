// Package http exposes the ledger over a JSON API: auth, accounts,
// categories, transactions, summaries and manual reconciliation.
package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"plata/internal/cache"
	"plata/internal/middleware/ratelimit"
	"plata/internal/middleware/trace"
	"plata/internal/services"
)

type contextKey string

const userIDKey contextKey = "user_id"

type Server struct {
	http.Server

	ledger *services.LedgerService
	auth   *services.AuthService

	// Summary responses are recomputed on every screen load; a short
	// TTL cache absorbs that, invalidated on any mutation.
	summaryCache *cache.LRUCache[services.Summary]
	cacheManager *cache.Manager
	limiter      *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger *services.LedgerService, auth *services.AuthService, requestsPerMinute int) *Server {
	mux := http.NewServeMux()

	s := &Server{
		ledger:       ledger,
		auth:         auth,
		summaryCache: cache.NewLRUCache[services.Summary](500, 5*time.Minute),
		cacheManager: cache.NewManager(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: requestsPerMinute,
		}),
	}
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.withAuth(s.handleLogout))
	mux.HandleFunc("GET /api/me", s.withAuth(s.handleMe))
	mux.HandleFunc("PUT /api/me/salary", s.withAuth(s.handleSetSalary))

	mux.HandleFunc("GET /api/accounts", s.withAuth(s.handleListAccounts))
	mux.HandleFunc("POST /api/accounts", s.withAuth(s.handleCreateAccount))
	mux.HandleFunc("DELETE /api/accounts/{id}", s.withAuth(s.handleDeleteAccount))
	mux.HandleFunc("POST /api/accounts/{id}/reconcile", s.withAuth(s.handleReconcileAccount))

	mux.HandleFunc("GET /api/categories", s.withAuth(s.handleListCategories))
	mux.HandleFunc("POST /api/categories", s.withAuth(s.handleCreateCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", s.withAuth(s.handleDeleteCategory))

	mux.HandleFunc("GET /api/transactions", s.withAuth(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.withAuth(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions/{id}", s.withAuth(s.handleGetTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.withAuth(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withAuth(s.handleDeleteTransaction))

	mux.HandleFunc("GET /api/summary", s.withAuth(s.handleSummary))

	traceMW := trace.NewMiddleware(clientIP)
	limitMW := s.limiter.Middleware(clientIP)

	s.Server = http.Server{
		Addr:         addr,
		Handler:      traceMW.Middleware(limitMW(securityHeaders(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Shutdown stops the background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// withAuth resolves the bearer token to a user id and stores it on the
// request context. Requests without a valid session get 401.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) invalidateSummary(uid string) {
	s.summaryCache.Delete(uid)
}
