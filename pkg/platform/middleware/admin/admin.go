// Package admin guards administrative endpoints with a shared token. Only a
// bcrypt hash of the token is held in memory; transferring admin control
// rotates the hash at runtime without a restart.
package admin

import (
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"

	dErrors "chaindir/pkg/domain-errors"
)

// TokenGuard verifies presented admin tokens against the stored hash.
type TokenGuard struct {
	mu   sync.RWMutex
	hash []byte
}

// NewTokenGuard hashes and stores the initial token. An empty token leaves
// the guard locked: no request matches until a token is configured.
func NewTokenGuard(token string) (*TokenGuard, error) {
	g := &TokenGuard{}
	if token == "" {
		return g, nil
	}
	if err := g.Rotate(token); err != nil {
		return nil, err
	}
	return g, nil
}

// Rotate replaces the stored hash. Subsequent requests must present the
// new token.
func (g *TokenGuard) Rotate(token string) error {
	if token == "" {
		return dErrors.New(dErrors.CodeValidation, "admin token is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "hash admin token")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hash = hash
	return nil
}

func (g *TokenGuard) matches(token string) bool {
	g.mu.RLock()
	hash := g.hash
	g.mu.RUnlock()
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// RequireAdminToken rejects requests whose X-Admin-Token header does not
// match the guard's current token.
func RequireAdminToken(guard *TokenGuard, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.matches(r.Header.Get("X-Admin-Token")) {
				if logger != nil {
					logger.WarnContext(r.Context(), "admin token mismatch",
						"path", r.URL.Path,
					)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
