package rclone

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

var authURLPattern = regexp.MustCompile(`https?://\S+`)

// ErrSessionNotFound indica un id di sessione sconosciuto o già consumato
var ErrSessionNotFound = errors.New("authorize session not found")

const (
	authURLTimeout   = 30 * time.Second
	authTokenTimeout = 60 * time.Second
)

// authProcess astrae il processo `rclone authorize` per i test
type authProcess struct {
	stdin  io.Writer
	output io.Reader
	kill   func()
	wait   func() error
}

type authSession struct {
	id      string
	remote  string
	proc    *authProcess
	urlCh   chan string
	tokenCh chan string
	failCh  chan error
}

// Authorizer gestisce le sessioni interattive `rclone authorize drive`.
// Una sola sessione per remote: avviarne una nuova sostituisce la vecchia.
type Authorizer struct {
	mu       sync.Mutex
	sessions map[string]*authSession
	byRemote map[string]string

	configPath   string
	logger       *logging.Logger
	urlTimeout   time.Duration
	tokenTimeout time.Duration

	startProcess func(args []string) (*authProcess, error)
}

// NewAuthorizer crea il gestore delle sessioni di autorizzazione
func NewAuthorizer(configPath string, logger *logging.Logger) *Authorizer {
	a := &Authorizer{
		sessions:     make(map[string]*authSession),
		byRemote:     make(map[string]string),
		configPath:   configPath,
		logger:       logger,
		urlTimeout:   authURLTimeout,
		tokenTimeout: authTokenTimeout,
	}
	a.startProcess = a.startRcloneAuthorize
	return a
}

func (a *Authorizer) startRcloneAuthorize(args []string) (*authProcess, error) {
	cmd := exec.Command("rclone", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, err)
		}
		return nil, fmt.Errorf("cannot start rclone authorize: %w", err)
	}

	return &authProcess{
		stdin:  stdin,
		output: stdout,
		kill: func() {
			_ = cmd.Process.Kill()
		},
		wait: cmd.Wait,
	}, nil
}

// Start avvia una sessione di autorizzazione per remote e restituisce
// l'id di sessione e l'URL di verifica scritto da rclone.
func (a *Authorizer) Start(remote string) (sessionID, authURL string, err error) {
	args := []string{}
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	args = append(args, "authorize", "drive", "--auth-no-open-browser", "--manual")

	a.logger.Debug("Running: rclone %s", strings.Join(args, " "))
	proc, err := a.startProcess(args)
	if err != nil {
		return "", "", err
	}

	session := &authSession{
		id:      uuid.NewString(),
		remote:  remote,
		proc:    proc,
		urlCh:   make(chan string, 1),
		tokenCh: make(chan string, 1),
		failCh:  make(chan error, 1),
	}

	go session.scanOutput()

	a.mu.Lock()
	// Replace any previous session for the same remote
	if oldID, ok := a.byRemote[remote]; ok {
		if old, ok := a.sessions[oldID]; ok {
			a.logger.Debug("Replacing authorize session %s for remote %s", oldID, remote)
			old.reap()
			delete(a.sessions, oldID)
		}
	}
	a.sessions[session.id] = session
	a.byRemote[remote] = session.id
	a.mu.Unlock()

	select {
	case authURL = <-session.urlCh:
		return session.id, authURL, nil
	case err = <-session.failCh:
		a.drop(session)
		return "", "", fmt.Errorf("authorize session failed before printing URL: %w", err)
	case <-time.After(a.urlTimeout):
		a.drop(session)
		return "", "", fmt.Errorf("timed out waiting for authorization URL")
	}
}

// Complete scrive il codice di verifica nella sessione e attende il token.
// La sessione viene sempre chiusa e il processo sempre raccolto.
func (a *Authorizer) Complete(sessionID, code string) (string, error) {
	a.mu.Lock()
	session, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	defer a.drop(session)

	if _, err := io.WriteString(session.proc.stdin, code+"\n"); err != nil {
		return "", fmt.Errorf("cannot submit verification code: %w", err)
	}

	select {
	case token := <-session.tokenCh:
		return token, nil
	case err := <-session.failCh:
		return "", fmt.Errorf("authorize session ended without a token: %w", err)
	case <-time.After(a.tokenTimeout):
		return "", fmt.Errorf("timed out waiting for authorization token")
	}
}

// drop rimuove la sessione dalle mappe e raccoglie il processo
func (a *Authorizer) drop(session *authSession) {
	a.mu.Lock()
	delete(a.sessions, session.id)
	if a.byRemote[session.remote] == session.id {
		delete(a.byRemote, session.remote)
	}
	a.mu.Unlock()

	session.reap()
}

// Shutdown chiude tutte le sessioni aperte
func (a *Authorizer) Shutdown() {
	a.mu.Lock()
	sessions := make([]*authSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*authSession)
	a.byRemote = make(map[string]string)
	a.mu.Unlock()

	for _, s := range sessions {
		s.reap()
	}
}

func (s *authSession) reap() {
	if s.proc.kill != nil {
		s.proc.kill()
	}
	if s.proc.wait != nil {
		_ = s.proc.wait()
	}
}

// scanOutput legge l'output del processo: prima l'URL di verifica,
// poi il blocco JSON con il token.
func (s *authSession) scanOutput() {
	scanner := bufio.NewScanner(s.proc.output)
	urlSent := false
	var jsonBuf strings.Builder
	buffering := false

	for scanner.Scan() {
		line := scanner.Text()

		if !urlSent {
			if match := authURLPattern.FindString(line); match != "" {
				urlSent = true
				s.urlCh <- match
				continue
			}
		}

		trimmed := strings.TrimSpace(line)
		if !buffering && strings.HasPrefix(trimmed, "{") {
			buffering = true
		}
		if buffering {
			jsonBuf.WriteString(trimmed)
			if json.Valid([]byte(jsonBuf.String())) {
				s.tokenCh <- jsonBuf.String()
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		s.failCh <- err
		return
	}
	s.failCh <- fmt.Errorf("process output ended")
}
