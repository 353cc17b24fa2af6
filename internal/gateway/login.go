package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	DeviceToken string `json:"deviceToken,omitempty"`
	TokenHash   string `json:"tokenHash,omitempty"`
}

type deviceRequest struct {
	DeviceToken string `json:"deviceToken"`
	TokenHash   string `json:"tokenHash"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !g.config.RemoteMode {
		notMobile(w)
		return
	}
	if !g.limiter.allow(g.clientAddr(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts. Try again in a minute.")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "Password required")
		return
	}
	if !g.sessions.Configured() {
		g.logger.Error("login rejected: mobile password is not configured")
		writeError(w, http.StatusServiceUnavailable, "Mobile password is not configured on this deployment")
		return
	}
	if !g.sessions.CheckPassword(req.Password) {
		g.logger.Warn("invalid login", "client", g.clientAddr(r))
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, hash, err := g.sessions.NewDeviceToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	value, expires := g.sessions.Issue()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(g.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	g.logger.Info("login", "client", g.clientAddr(r))
	writeJSON(w, http.StatusOK, loginResponse{Success: true, DeviceToken: token, TokenHash: hash})
}

func (g *Gateway) handleValidateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"valid": g.sessions.ValidDevice(req.DeviceToken, req.TokenHash),
	})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Authenticated reports whether r carries a valid session cookie.
func (g *Gateway) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return g.sessions.Valid(c.Value)
}

// clientAddr is the address login throttling is keyed on. Without trusted
// proxies it is the peer address. With n trusted hops it is the n-th
// X-Forwarded-For entry from the right, the address the outermost trusted
// proxy saw; entries left of it are client supplied.
func (g *Gateway) clientAddr(r *http.Request) string {
	if hops := g.config.TrustedProxyHops; hops > 0 {
		var entries []string
		for _, v := range r.Header.Values("X-Forwarded-For") {
			for _, e := range strings.Split(v, ",") {
				entries = append(entries, strings.TrimSpace(e))
			}
		}
		if len(entries) >= hops {
			if addr := entries[len(entries)-hops]; addr != "" {
				return addr
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
