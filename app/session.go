package app

import (
	"context"
	"net/http"
	"strings"
)

type principalKey struct{}

// sessionPrincipal reads the authenticated user id that the upstream auth
// gateway forwards in header. Requests without it are anonymous.
func sessionPrincipal(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
				r = r.WithContext(context.WithValue(r.Context(), principalKey{}, id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFrom(ctx context.Context) string {
	id, _ := ctx.Value(principalKey{}).(string)
	return id
}
