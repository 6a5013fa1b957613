package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/backuper-dev/orchestrator/internal/remote"
	"github.com/backuper-dev/orchestrator/internal/types"
)

type remotePayload struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Settings map[string]string `json:"settings"`
}

type remoteResponse struct {
	Status   string `json:"status"`
	Name     string `json:"name"`
	ID       int64  `json:"id,omitempty"`
	Route    string `json:"route,omitempty"`
	ShareURL string `json:"share_url,omitempty"`
}

type remoteRow struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Route     string    `json:"route,omitempty"`
	ShareURL  string    `json:"share_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateRemote(w http.ResponseWriter, r *http.Request) {
	var payload remotePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	desc, err := s.orch.Create(r.Context(), remote.Request{
		Name:     payload.Name,
		Type:     types.RemoteType(payload.Type),
		Settings: payload.Settings,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, remoteResponse{
		Status:   "ok",
		Name:     desc.Name,
		ID:       desc.ID,
		Route:    desc.Route,
		ShareURL: desc.ShareURL,
	})
}

func (s *Server) handleUpdateRemote(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var payload remotePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	desc, err := s.orch.Update(r.Context(), name, remote.Request{
		Name:     payload.Name,
		Type:     types.RemoteType(payload.Type),
		Settings: payload.Settings,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, remoteResponse{
		Status:   "ok",
		Name:     desc.Name,
		Route:    desc.Route,
		ShareURL: desc.ShareURL,
	})
}

func (s *Server) handleDeleteRemote(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	removedPath, err := s.orch.Delete(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]string{"status": "ok"}
	if removedPath != "" {
		resp["removed_path"] = removedPath
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRemotes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.orch.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]remoteRow, 0, len(rows))
	for _, desc := range rows {
		out = append(out, remoteRow{
			ID:        desc.ID,
			Name:      desc.Name,
			Type:      desc.Type.String(),
			Route:     desc.Route,
			ShareURL:  desc.ShareURL,
			CreatedAt: desc.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBrowseSftp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Host     string `json:"host"`
		Username string `json:"username"`
		Password string `json:"password"`
		Port     int    `json:"port"`
		Path     string `json:"path"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := s.orch.BrowseSftp(r.Context(), remote.SftpBrowseRequest{
		Host:     payload.Host,
		Username: payload.Username,
		Password: payload.Password,
		Port:     payload.Port,
		Path:     payload.Path,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidateDrive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token        string `json:"token"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.orch.ValidateDriveToken(r.Context(), payload.Token, payload.ClientID, payload.ClientSecret); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
