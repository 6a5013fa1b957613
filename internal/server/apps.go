package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/backuper-dev/orchestrator/internal/types"
)

type appPayload struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	Schedule      string `json:"schedule"`
	DriveFolderID string `json:"drive_folder_id"`
	RcloneRemote  string `json:"rclone_remote"`
	Retention     int    `json:"retention"`
}

type appRow struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Schedule      string `json:"schedule,omitempty"`
	DriveFolderID string `json:"drive_folder_id,omitempty"`
	RcloneRemote  string `json:"rclone_remote,omitempty"`
	Retention     int    `json:"retention,omitempty"`
}

// normalizeRemoteRef porta il riferimento al remote nella forma "name:"
// usata dalla cascata dello store
func normalizeRemoteRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if !strings.HasSuffix(ref, ":") {
		ref += ":"
	}
	return ref
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var payload appPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" || payload.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and url are required"})
		return
	}

	if existing, err := s.apps.GetAppByName(r.Context(), payload.Name); err != nil {
		s.writeError(w, err)
		return
	} else if existing != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "app " + payload.Name + " already exists"})
		return
	}

	app := &types.AppLink{
		Name:          payload.Name,
		URL:           payload.URL,
		Token:         payload.Token,
		Schedule:      payload.Schedule,
		DriveFolderID: payload.DriveFolderID,
		RcloneRemote:  normalizeRemoteRef(payload.RcloneRemote),
		Retention:     payload.Retention,
	}
	id, err := s.apps.CreateApp(r.Context(), app)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.sched.Resync(r.Context()); err != nil {
		s.logger.Error("Scheduler resync after app create failed: %v", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "id": id, "name": app.Name})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.apps.ListApps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Il token resta fuori dalle risposte di listing
	out := make([]appRow, 0, len(apps))
	for _, app := range apps {
		out = append(out, appRow{
			ID:            app.ID,
			Name:          app.Name,
			URL:           app.URL,
			Schedule:      app.Schedule,
			DriveFolderID: app.DriveFolderID,
			RcloneRemote:  app.RcloneRemote,
			Retention:     app.Retention,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid app id"})
		return
	}

	app, err := s.apps.GetApp(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if app == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "app not found"})
		return
	}

	if err := s.apps.DeleteApp(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.sched.Resync(r.Context()); err != nil {
		s.logger.Error("Scheduler resync after app delete failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
