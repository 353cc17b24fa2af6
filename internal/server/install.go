package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/athena-bridge/internal/installer"
)

type installRequest struct {
	Force bool `json:"force"`
}

type installResponse struct {
	*installer.Result
	Progress []string `json:"progress"`
}

// ProgressEvent is a progress frame on the install stream.
type ProgressEvent struct {
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// DoneEvent is the last frame on the install stream.
type DoneEvent struct {
	Done   bool              `json:"done"`
	Result *installer.Result `json:"result"`
}

func (s *Server) handleInstallCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Installer.Check(r.Context()))
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if !s.installing.TryLock() {
		writeError(w, http.StatusConflict, "An installation is already in progress")
		return
	}
	defer s.installing.Unlock()

	progress := []string{}
	res, err := s.deps.Installer.Install(r.Context(), installer.Options{
		Force: req.Force,
		OnProgress: func(message string, percent int) {
			progress = append(progress, message)
		},
	})
	if err != nil {
		s.logger.Error("install failed", "error", err)
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, installResponse{Result: res, Progress: progress})
}

// handleInstallStream runs an install and pushes progress over a
// WebSocket.
func (s *Server) handleInstallStream(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.installing.TryLock() {
		_ = conn.WriteJSON(DoneEvent{Done: true, Result: &installer.Result{
			Error: "An installation is already in progress",
		}})
		return
	}
	defer s.installing.Unlock()

	writeErr := false
	res, err := s.deps.Installer.Install(r.Context(), installer.Options{
		Force: force,
		OnProgress: func(message string, percent int) {
			if writeErr {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ProgressEvent{Message: message, Percent: percent}); err != nil {
				writeErr = true
				s.logger.Debug("install stream write failed", "error", err)
			}
		},
	})
	if err != nil {
		s.logger.Error("install failed", "error", err)
	}
	if writeErr {
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(DoneEvent{Done: true, Result: res})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}
