package remote

import (
	"context"
	"errors"
	"fmt"
	gopath "path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backuper-dev/orchestrator/internal/config"
	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/pathguard"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/types"
)

// Request è la richiesta di creazione/aggiornamento di un remote
type Request struct {
	Name     string
	Type     types.RemoteType
	Settings map[string]string
}

// UpdateContext porta lo stato corrente di un remote durante un update
type UpdateContext struct {
	CurrentType  types.RemoteType
	CurrentRoute string
}

// Step è un singolo comando eseguibile di un piano
type Step struct {
	Description string
	Run         func(ctx context.Context) error
}

// CloudSharedMeta descrive un remote drive in modalità shared
type CloudSharedMeta struct {
	TargetPath       string
	RequiresCreation bool
	PriorPath        string
}

// LocalMeta descrive un remote directory locale
type LocalMeta struct {
	TargetPath string
	SourcePath string
	BaseDir    string
	MoveMode   types.MoveMode
}

// SftpMeta descrive un remote SFTP
type SftpMeta struct {
	BasePath string
}

// Plan è il piano ordinato e reversibile costruito per una richiesta
type Plan struct {
	Name string
	Type types.RemoteType

	SetupSteps      []Step
	Main            Step
	ValidationSteps []Step

	CleanupOnError  bool
	Translate       func(err error) string
	ResolveShareURL bool

	// Route/ShareURL noti già in fase di piano; il link condiviso
	// viene risolto dall'executor quando ResolveShareURL è true
	Route    string
	ShareURL string

	CloudShared *CloudSharedMeta
	Local       *LocalMeta
	Sftp        *SftpMeta
}

// Builder costruisce i piani di esecuzione per ogni tipo di remote
type Builder struct {
	tool   Tool
	guard  *pathguard.Guard
	cfg    *config.Config
	logger *logging.Logger
}

// NewBuilder crea il plan builder
func NewBuilder(tool Tool, guard *pathguard.Guard, cfg *config.Config, logger *logging.Logger) *Builder {
	return &Builder{tool: tool, guard: guard, cfg: cfg, logger: logger}
}

// Build valida la richiesta e produce il piano. current è nil in creazione.
func (b *Builder) Build(ctx context.Context, req Request, current *UpdateContext) (*Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(KindValidation, "remote name is required")
	}
	if !pathguard.SafeLeaf(name) {
		return nil, newError(KindValidation, "invalid remote name: %s", name)
	}

	switch req.Type {
	case types.RemoteDrive:
		return b.buildDrive(ctx, name, req.Settings, current)
	case types.RemoteLocal:
		return b.buildLocal(name, req.Settings, current)
	case types.RemoteSftp:
		return b.buildSftp(ctx, name, req.Settings)
	case types.RemoteOnedrive:
		return nil, newError(KindUnsupportedType, "onedrive support is not implemented yet")
	default:
		return nil, newError(KindUnsupportedType, "unsupported remote type")
	}
}

func (b *Builder) buildDrive(ctx context.Context, name string, settings map[string]string, current *UpdateContext) (*Plan, error) {
	mode := types.DriveMode(strings.ToLower(strings.TrimSpace(settings["mode"])))
	if mode == "" {
		mode = types.DriveShared
	}

	switch mode {
	case types.DriveShared:
		return b.buildDriveShared(ctx, name, current)
	case types.DriveCustom:
		return b.buildDriveCustom(name, settings)
	default:
		return nil, newError(KindValidation, "invalid drive mode")
	}
}

func (b *Builder) buildDriveShared(ctx context.Context, name string, current *UpdateContext) (*Plan, error) {
	base := b.cfg.DriveRemote
	if err := b.ensureBaseAccount(ctx, base); err != nil {
		return nil, err
	}

	targetPath := base + ":" + name
	priorPath := ""
	if current != nil {
		priorPath = current.CurrentRoute
	}

	if targetPath != priorPath {
		entries, err := b.tool.Lsf(ctx, base+":", true)
		if err != nil {
			return nil, translateToolError(err, nil)
		}
		for _, entry := range entries {
			if strings.EqualFold(entry, name) {
				return nil, newError(KindConflict, "a folder named %s already exists on the shared drive", name)
			}
		}
	}

	plan := &Plan{
		Name:            name,
		Type:            types.RemoteDrive,
		CleanupOnError:  true,
		ResolveShareURL: true,
		Route:           targetPath,
		CloudShared: &CloudSharedMeta{
			TargetPath:       targetPath,
			RequiresCreation: targetPath != priorPath,
			PriorPath:        priorPath,
		},
	}

	if plan.CloudShared.RequiresCreation && priorPath == "" {
		plan.SetupSteps = append(plan.SetupSteps, Step{
			Description: "create shared drive folder",
			Run: func(ctx context.Context) error {
				return b.tool.Mkdir(ctx, targetPath)
			},
		})
	}

	plan.Main = Step{
		Description: "register alias entry",
		Run: func(ctx context.Context) error {
			return b.tool.CreateRemote(ctx, name, "alias", map[string]string{
				"remote": targetPath,
			}, false)
		},
	}

	return plan, nil
}

// ensureBaseAccount crea l'account drive condiviso se assente,
// usando le credenziali globali della configurazione
func (b *Builder) ensureBaseAccount(ctx context.Context, base string) error {
	exists, err := b.tool.HasRemote(ctx, base)
	if err != nil {
		return translateToolError(err, nil)
	}
	if exists {
		return nil
	}

	if b.cfg.DriveToken == "" {
		return newError(KindInternal,
			"shared drive account %q is not configured: set RCLONE_DRIVE_CLIENT_ID, RCLONE_DRIVE_CLIENT_SECRET and RCLONE_DRIVE_TOKEN", base)
	}

	b.logger.Info("Bootstrapping shared drive account: %s", base)
	params := map[string]string{
		"scope": "drive",
		"token": b.cfg.DriveToken,
	}
	if b.cfg.DriveClientID != "" {
		params["client_id"] = b.cfg.DriveClientID
	}
	if b.cfg.DriveClientSecret != "" {
		params["client_secret"] = b.cfg.DriveClientSecret
	}
	if err := b.tool.CreateRemote(ctx, base, "drive", params, false); err != nil {
		return translateToolError(err, nil)
	}
	return nil
}

func (b *Builder) buildDriveCustom(name string, settings map[string]string) (*Plan, error) {
	token := strings.TrimSpace(settings["token"])
	if token == "" {
		return nil, newError(KindValidation, "a drive token is required for custom mode")
	}

	params := map[string]string{
		"scope": "drive",
		"token": token,
	}
	if id := strings.TrimSpace(settings["client_id"]); id != "" {
		params["client_id"] = id
	}
	if secret := strings.TrimSpace(settings["client_secret"]); secret != "" {
		params["client_secret"] = secret
	}

	plan := &Plan{
		Name:           name,
		Type:           types.RemoteDrive,
		CleanupOnError: true,
	}
	plan.Main = Step{
		Description: "register custom drive account",
		Run: func(ctx context.Context) error {
			return b.tool.CreateRemote(ctx, name, "drive", params, true)
		},
	}
	return plan, nil
}

func (b *Builder) buildLocal(name string, settings map[string]string, current *UpdateContext) (*Plan, error) {
	base := pathguard.Normalize(settings["path"])
	if base == "" {
		return nil, newError(KindValidation, "a base directory is required for local remotes")
	}
	if !b.guard.IsAllowedBase(base) {
		return nil, newError(KindPathNotAllowed, "directory %s is not in the configured allow list", base)
	}

	targetPath := filepath.Join(base, name)
	if _, ok := b.guard.Contains(targetPath); !ok {
		return nil, newError(KindPathNotAllowed, "resolved path escapes the configured allow list")
	}

	meta := &LocalMeta{
		TargetPath: targetPath,
		BaseDir:    base,
		MoveMode:   types.MoveNone,
	}

	if current != nil && current.CurrentType == types.RemoteLocal && current.CurrentRoute != "" {
		source := pathguard.Normalize(current.CurrentRoute)
		if source == "" {
			return nil, newError(KindValidation, "current route %q is not a valid path", current.CurrentRoute)
		}
		// Il parent della route corrente deve essere anch'esso abilitato
		// prima di qualunque operazione distruttiva
		if _, ok := b.guard.Contains(source); !ok {
			return nil, newError(KindPathNotAllowed, "current route %s is outside the configured allow list", source)
		}

		meta.SourcePath = source
		switch {
		case source == base:
			meta.MoveMode = types.MoveContents
		case filepath.Dir(source) == base && filepath.Base(source) != name:
			meta.MoveMode = types.MoveRename
		case source == targetPath:
			meta.MoveMode = types.MoveNone
			meta.SourcePath = ""
		}
	}

	plan := &Plan{
		Name:           name,
		Type:           types.RemoteLocal,
		CleanupOnError: true,
		Route:          targetPath,
		ShareURL:       targetPath,
		Local:          meta,
	}
	plan.Main = Step{
		Description: "register alias entry",
		Run: func(ctx context.Context) error {
			return b.tool.CreateRemote(ctx, name, "alias", map[string]string{
				"remote": targetPath,
			}, false)
		},
	}
	return plan, nil
}

func (b *Builder) buildSftp(ctx context.Context, name string, settings map[string]string) (*Plan, error) {
	host := strings.TrimSpace(settings["host"])
	user := strings.TrimSpace(settings["username"])
	password := settings["password"]
	if host == "" || user == "" || password == "" {
		return nil, newError(KindValidation, "host, username and password are required for sftp remotes")
	}

	port := strings.TrimSpace(settings["port"])
	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, newError(KindValidation, "invalid sftp port: %s", port)
		}
	}

	basePath := strings.TrimSpace(settings["path"])
	if basePath == "" {
		basePath = "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = gopath.Clean(basePath)

	targetPath := gopath.Join(basePath, name)

	obscured, err := b.tool.Obscure(ctx, password)
	if err != nil {
		return nil, translateToolError(err, nil)
	}

	params := map[string]string{
		"host": host,
		"user": user,
		"pass": obscured,
		"path": targetPath,
	}
	if port != "" {
		params["port"] = port
	}

	plan := &Plan{
		Name:           name,
		Type:           types.RemoteSftp,
		CleanupOnError: true,
		Translate:      translateSftpFailure,
		Route:          basePath,
		ShareURL:       basePath,
		Sftp:           &SftpMeta{BasePath: basePath},
	}
	plan.Main = Step{
		Description: "register sftp entry",
		Run: func(ctx context.Context) error {
			return b.tool.CreateRemote(ctx, name, "sftp", params, false)
		},
	}
	plan.ValidationSteps = []Step{
		{
			Description: "create remote directory",
			Run: func(ctx context.Context) error {
				return b.tool.Mkdir(ctx, name+":")
			},
		},
		{
			Description: "verify remote directory is listable",
			Run: func(ctx context.Context) error {
				return b.tool.Lsd(ctx, name+":")
			},
		},
	}
	return plan, nil
}

// translateSftpFailure mappa gli errori di rete/auth SFTP in quattro
// categorie leggibili al posto dell'output grezzo di rclone
func translateSftpFailure(err error) string {
	output := strings.ToLower(rclone.OutputOf(err))
	if output == "" {
		output = strings.ToLower(err.Error())
	}

	switch {
	case strings.Contains(output, "permission denied"):
		return "permission denied on the SFTP server"
	case strings.Contains(output, "unable to authenticate"),
		strings.Contains(output, "auth"),
		strings.Contains(output, "password"):
		return "SFTP authentication failed: check username and password"
	case strings.Contains(output, "no such host"),
		strings.Contains(output, "could not resolve"),
		strings.Contains(output, "lookup"):
		return "cannot resolve the SFTP host"
	default:
		return "cannot connect to the SFTP server"
	}
}

// translateToolError converte un errore rclone nell'errore di dominio:
// binario mancante è fatale, exit non-zero è un errore tradotto.
func translateToolError(err error, translate func(error) string) *Error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, rclone.ErrNotInstalled) {
		return &Error{Kind: KindToolMissing, Message: "rclone is not installed", Err: err}
	}
	if translate != nil {
		return &Error{Kind: KindToolFailure, Message: translate(err), Err: err}
	}
	if output := rclone.OutputOf(err); output != "" {
		return &Error{Kind: KindToolFailure, Message: fmt.Sprintf("rclone command failed: %s", output), Err: err}
	}
	return &Error{Kind: KindToolFailure, Message: "rclone command failed", Err: err}
}
