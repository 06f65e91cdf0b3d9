package httpapi

import (
	"net/http"
	"strings"

	"credvault.org/internal/auth"
)

// withAuth requires a valid bearer token and stores the wallet identity in
// the request context.
func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := bearerClaims(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		ctx := auth.ContextWithWallet(r.Context(), claims.Subject, claims.Roles)
		next(w, r.WithContext(ctx))
	}
}

// requireRole guards a handler already behind withAuth.
func requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.HasRole(r.Context(), role) {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

func bearerClaims(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return auth.ParseAndValidate(strings.TrimSpace(token))
}
