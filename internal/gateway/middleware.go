package gateway

import (
	"net/http"
	"strings"
)

// RequireSession guards page routes in remote mode: requests without a
// session go to /login, and the root goes to /mobile. Login, auth and
// API paths pass through, as does everything outside remote mode.
func (g *Gateway) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.config.RemoteMode || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !g.Authenticated(r) {
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/mobile", http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(p string) bool {
	return p == "/login" || strings.HasPrefix(p, "/login/") ||
		p == "/api" || strings.HasPrefix(p, "/api/") ||
		strings.HasPrefix(p, "/auth/")
}
