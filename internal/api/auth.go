package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	userHeader    = "X-User-ID"
	anonymousUser = "anonymous"
)

type userKey struct{}

// authenticate checks the bearer token and stores the caller in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}

		user := strings.TrimSpace(r.Header.Get(userHeader))
		if user == "" {
			user = anonymousUser
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// UserFrom returns the authenticated caller.
func UserFrom(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok {
		return u
	}
	return anonymousUser
}
