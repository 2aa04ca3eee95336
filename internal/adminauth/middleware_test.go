package adminauth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAcceptsMatchingCredential(t *testing.T) {
	handler := Middleware(hashOf("s3cret"))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(CredentialHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsWrongCredential(t *testing.T) {
	handler := Middleware(hashOf("s3cret"))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(CredentialHeader, "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMissingCredential(t *testing.T) {
	handler := Middleware(hashOf("s3cret"))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsEverythingWhenHashUnset(t *testing.T) {
	handler := Middleware("")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(CredentialHeader, "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
