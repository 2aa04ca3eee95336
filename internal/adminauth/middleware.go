// Package adminauth protects the HTTP administration surface with the
// single administrator credential described in the external interface
// contract, in place of the teacher's multi-principal RBAC surface.
package adminauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// CredentialHeader carries the administrator credential on every admin
// route request.
const CredentialHeader = "X-Admin-Credential"

// Middleware rejects any request whose X-Admin-Credential header does not
// sha256-hash to expectedHash. An empty expectedHash disables the surface
// entirely (every request is rejected), rather than accepting any value.
func Middleware(expectedHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expectedHash == "" || !valid(r.Header.Get(CredentialHeader), expectedHash) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func valid(credential, expectedHash string) bool {
	if credential == "" {
		return false
	}
	sum := sha256.Sum256([]byte(credential))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(expectedHash)) == 1
}
