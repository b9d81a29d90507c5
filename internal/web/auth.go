package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nuha.dev/cartsync/internal/store"
	"nuha.dev/cartsync/internal/util"
	"nuha.dev/cartsync/internal/web/login"
)

type identityKeyType struct{}

var identityKey identityKeyType

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	Role     string
	CartID   string
	Username string
}

func identityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// authenticate resolves the bearer token to an identity. Cart tokens are
// re-checked against the presence store so a deactivated cart is locked
// out immediately, not at token expiry.
func (api *Api) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			util.JsonError(w, "No token provided", http.StatusUnauthorized)
			return
		}
		sess, err := api.sessions.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				util.JsonError(w, "Please authenticate", http.StatusUnauthorized)
			} else {
				api.log.Err(err).Msg("session lookup failed")
				util.JsonError(w, "Server error", http.StatusInternalServerError)
			}
			return
		}
		id := &Identity{Role: sess.Role, CartID: sess.CartID, Username: sess.Username}
		if id.Role == login.RoleCart {
			_, err := api.pres.Get(id.CartID)
			if err != nil {
				util.JsonError(w, "Cart not found or inactive", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func (api *Api) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		if id == nil || id.Role != login.RoleAdmin {
			util.JsonError(w, "Admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
