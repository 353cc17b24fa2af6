package server

import (
	"net/http"

	"github.com/standardbeagle/athena-bridge/internal/mobile"
)

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req mobile.DeployRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	res, err := s.deps.Mobile.Deploy(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	h := w.Header()
	h.Set("X-Mobile-Deployment-Id", res.Tunnel.ID)
	h.Set("X-Mobile-Public-Url", res.Tunnel.PublicURL)
	h.Set("X-Mobile-Url", res.MobileURL)
	h.Set("X-Mobile-Active", "true")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req mobile.RecoverRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	res, err := s.deps.Mobile.RecoverTunnel(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req mobile.PasswordRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	res, err := s.deps.Mobile.RotatePassword(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Mobile.Stop(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMobileStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Mobile.Status(r.Context())
	if err != nil {
		s.logger.Error("deployment status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get deployment status")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
