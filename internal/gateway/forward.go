package gateway

import (
	"net/http"
	"net/http/httputil"
	"strings"
)

func (g *Gateway) handleForward(w http.ResponseWriter, r *http.Request) {
	if !g.config.RemoteMode {
		notMobile(w)
		return
	}
	if g.target == nil {
		writeError(w, http.StatusInternalServerError, "OS_PUBLIC_URL not configured. Cannot connect to desktop.")
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !g.Authenticated(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	g.logger.Debug("forwarding", "method", r.Method, "path", r.URL.Path)
	g.proxy.ServeHTTP(w, r)
}

// rewrite points the outbound request at the tunnel. Internal routing
// headers and cookies stay on this side.
func (g *Gateway) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(g.target)

	for key := range pr.Out.Header {
		if strings.HasPrefix(key, "X-") {
			pr.Out.Header.Del(key)
		}
	}
	pr.Out.Header.Del("Cookie")

	forwardedFor := pr.In.Header.Get("X-Forwarded-For")
	if forwardedFor == "" {
		forwardedFor = "unknown"
	}
	pr.Out.Header.Set("X-Forwarded-For", forwardedFor)
	pr.Out.Header.Set("X-Mobile-Proxy", "true")
}

func stripResponseHeaders(resp *http.Response) error {
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Del("Connection")
	return nil
}

func (g *Gateway) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Error("upstream unreachable", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error":   "Failed to connect to local OS Athena",
		"details": "Ensure your desktop app is running and the tunnel is active",
	})
}
