package server

import (
	"net/http"
	"strconv"

	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/store"
)

type tunnelStatusResponse struct {
	Installed           bool                    `json:"installed"`
	Running             bool                    `json:"running"`
	TunnelURL           string                  `json:"tunnelUrl,omitempty"`
	Port                int                     `json:"port"`
	CanAutostart        bool                    `json:"canAutostart"`
	Platform            string                  `json:"platform"`
	InstallInstructions *installer.Instructions `json:"installInstructions,omitempty"`
}

type tunnelActionRequest struct {
	Action string `json:"action"`
	Port   int    `json:"port"`
}

type tunnelActionResponse struct {
	Success   bool   `json:"success"`
	Running   bool   `json:"running"`
	TunnelURL string `json:"tunnelUrl,omitempty"`
	Started   bool   `json:"started"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) port(raw string) (int, bool) {
	if raw == "" {
		return s.config.Port, true
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p <= 0 || p > 65535 {
		return 0, false
	}
	return p, true
}

func (s *Server) tunnelStatus(r *http.Request, port int) tunnelStatusResponse {
	ctx := r.Context()
	installed := s.deps.Installer.Check(ctx).Installed
	st := s.deps.Tunnels.Status(ctx, port)

	resp := tunnelStatusResponse{
		Installed:    installed,
		Running:      st.Running,
		Port:         port,
		CanAutostart: installed,
		Platform:     s.config.Platform,
	}
	if st.Tunnel != nil {
		resp.TunnelURL = st.Tunnel.PublicURL
	}
	if !installed {
		in := installer.InstallInstructions(s.config.Platform)
		resp.InstallInstructions = &in
	}
	return resp
}

func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	port, ok := s.port(r.URL.Query().Get("port"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}
	writeJSON(w, http.StatusOK, s.tunnelStatus(r, port))
}

func (s *Server) handleTunnelAction(w http.ResponseWriter, r *http.Request) {
	var req tunnelActionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	port := req.Port
	if port == 0 {
		port = s.config.Port
	}
	if port < 0 || port > 65535 {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}

	if req.Action != "start" && req.Action != "ensure" {
		writeJSON(w, http.StatusOK, s.tunnelStatus(r, port))
		return
	}

	authtoken := ""
	if s.deps.Secrets != nil {
		v, err := s.deps.Secrets.Secret(r.Context(), store.SecretNgrok)
		if err != nil {
			s.logger.Warn("authtoken lookup failed", "error", err)
		}
		authtoken = v
	}

	t, started, err := s.deps.Tunnels.Ensure(r.Context(), port, authtoken)
	if err != nil {
		s.logger.Error("ensure tunnel failed", "port", port, "error", err)
		writeJSON(w, http.StatusInternalServerError, tunnelActionResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tunnelActionResponse{
		Success:   true,
		Running:   true,
		TunnelURL: t.PublicURL,
		Started:   started,
	})
}
