package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func protected(guard *TokenGuard) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return RequireAdminToken(guard, nil)(ok)
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/admin/peers/1", nil)
	if token != "" {
		r.Header.Set("X-Admin-Token", token)
	}
	return r
}

func TestRequireAdminToken(t *testing.T) {
	guard, err := NewTokenGuard("secret")
	require.NoError(t, err)
	handler := protected(guard)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken("secret"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken("wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken(""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenStoredAsHash(t *testing.T) {
	guard, err := NewTokenGuard("secret")
	require.NoError(t, err)

	assert.NotContains(t, string(guard.hash), "secret")
	assert.NoError(t, bcrypt.CompareHashAndPassword(guard.hash, []byte("secret")))
}

func TestTokenGuardRotate(t *testing.T) {
	guard, err := NewTokenGuard("old")
	require.NoError(t, err)
	handler := protected(guard)

	require.NoError(t, guard.Rotate("new"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken("old"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken("new"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.Error(t, guard.Rotate(""), "rotation to an empty token must fail")
}

func TestEmptyTokenNeverMatches(t *testing.T) {
	guard, err := NewTokenGuard("")
	require.NoError(t, err)
	handler := protected(guard)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken(""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
