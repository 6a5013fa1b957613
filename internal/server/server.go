// Package server espone il ciclo di vita dei remote e il CRUD delle app
// su HTTP, dietro Basic auth.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/backuper-dev/orchestrator/internal/config"
	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/remote"
	"github.com/backuper-dev/orchestrator/internal/types"
)

// Lifecycle è la superficie dell'orchestratore usata dagli handler
type Lifecycle interface {
	Create(ctx context.Context, req remote.Request) (*types.RemoteDescriptor, error)
	Update(ctx context.Context, name string, req remote.Request) (*types.RemoteDescriptor, error)
	Delete(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]*types.RemoteDescriptor, error)
	BrowseSftp(ctx context.Context, req remote.SftpBrowseRequest) (*remote.BrowseResult, error)
	ValidateDriveToken(ctx context.Context, token, clientID, clientSecret string) error
}

// AppStore è la persistenza delle app usata dagli handler
type AppStore interface {
	ListApps(ctx context.Context) ([]*types.AppLink, error)
	GetApp(ctx context.Context, id int64) (*types.AppLink, error)
	GetAppByName(ctx context.Context, name string) (*types.AppLink, error)
	CreateApp(ctx context.Context, app *types.AppLink) (int64, error)
	DeleteApp(ctx context.Context, id int64) error
}

// Resyncer riallinea lo scheduler dopo ogni mutazione delle app
type Resyncer interface {
	Resync(ctx context.Context) error
}

// AuthSessions gestisce le sessioni `rclone authorize`
type AuthSessions interface {
	Start(remote string) (sessionID, authURL string, err error)
	Complete(sessionID, code string) (string, error)
}

// Server è il server HTTP dell'orchestratore
type Server struct {
	router *mux.Router
	orch   Lifecycle
	apps   AppStore
	sched  Resyncer
	auth   AuthSessions
	cfg    *config.Config
	logger *logging.Logger
}

// New crea il server e registra le route
func New(orch Lifecycle, apps AppStore, sched Resyncer, auth AuthSessions, cfg *config.Config, logger *logging.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		orch:   orch,
		apps:   apps,
		sched:  sched,
		auth:   auth,
		cfg:    cfg,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.basicAuth)

	r.HandleFunc("/remotes", s.handleListRemotes).Methods(http.MethodGet)
	r.HandleFunc("/remotes", s.handleCreateRemote).Methods(http.MethodPost)
	r.HandleFunc("/remotes/sftp/browse", s.handleBrowseSftp).Methods(http.MethodPost)
	r.HandleFunc("/remotes/drive/validate", s.handleValidateDrive).Methods(http.MethodPost)
	r.HandleFunc("/remotes/drive/authorize", s.handleAuthorizeStart).Methods(http.MethodPost)
	r.HandleFunc("/remotes/drive/authorize/{session_id}", s.handleAuthorizeComplete).Methods(http.MethodPost)
	r.HandleFunc("/remotes/{name}", s.handleUpdateRemote).Methods(http.MethodPut)
	r.HandleFunc("/remotes/{name}", s.handleDeleteRemote).Methods(http.MethodDelete)

	r.HandleFunc("/apps", s.handleListApps).Methods(http.MethodGet)
	r.HandleFunc("/apps", s.handleCreateApp).Methods(http.MethodPost)
	r.HandleFunc("/apps/{id}", s.handleDeleteApp).Methods(http.MethodDelete)
}

// Handler restituisce il router per test e composizione
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serve fino alla cancellazione del contesto, poi chiude
// con grazia le connessioni in corso
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("HTTP server listening on %s", s.cfg.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// basicAuth verifica le credenziali admin: hash bcrypt se configurato,
// altrimenti confronto a tempo costante con la password in chiaro
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="backuper"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) == 1

	var passOK bool
	if s.cfg.AdminPassHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPassHash), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPass)) == 1
	}
	return userOK && passOK
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError mappa gli errori di dominio sullo status HTTP previsto;
// tutto il resto è un 500 generico
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var domainErr *remote.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, domainErr.StatusCode(), map[string]string{"error": domainErr.Error()})
		return
	}
	if errors.Is(err, rclone.ErrNotInstalled) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rclone is not installed"})
		return
	}
	s.logger.Error("Unhandled error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
