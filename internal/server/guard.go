package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// local rejects requests in remote mode and requests that did not
// originate on this machine. Tunnelled traffic arrives from the local
// agent, so the peer address alone is not enough: the Host header must
// also be a loopback name and no proxy may have added X-Forwarded-For.
// Browsers on this machine reach loopback too, so a page from another
// origin is rejected as well.
func (s *Server) local(remoteMsg, foreignMsg string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RemoteMode {
			writeError(w, http.StatusForbidden, remoteMsg)
			return
		}
		if !IsLoopbackRequest(r) {
			s.logger.Warn("rejected non-local request", "path", r.URL.Path, "remote", r.RemoteAddr, "host", r.Host)
			writeError(w, http.StatusForbidden, foreignMsg)
			return
		}
		next(w, r)
	}
}

// IsLoopbackRequest reports whether r came from this machine directly
// and, for browser requests, from a loopback page.
func IsLoopbackRequest(r *http.Request) bool {
	if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("Forwarded") != "" {
		return false
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Site"), "cross-site") || !loopbackOrigin(r) {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isLoopbackHost(host) {
		return false
	}
	return isLoopbackHost(hostname(r.Host))
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return strings.Trim(hostport, "[]")
}

func isLoopbackHost(h string) bool {
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// loopbackOrigin allows requests from local pages and from clients that
// send no Origin.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}
