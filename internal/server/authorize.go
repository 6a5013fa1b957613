package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/backuper-dev/orchestrator/internal/rclone"
)

func (s *Server) handleAuthorizeStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "remote name is required"})
		return
	}

	sessionID, authURL, err := s.auth.Start(payload.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "auth_url": authURL})
}

func (s *Server) handleAuthorizeComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	var payload struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(payload.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verification code is required"})
		return
	}

	token, err := s.auth.Complete(sessionID, payload.Code)
	if err != nil {
		if errors.Is(err, rclone.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
