package remote

import (
	"context"
	gopath "path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// BrowseDir è una sottodirectory restituita dal browse SFTP
type BrowseDir struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// BrowseResult è la vista di una directory SFTP
type BrowseResult struct {
	CurrentPath string      `json:"current_path"`
	ParentPath  string      `json:"parent_path"`
	Directories []BrowseDir `json:"directories"`
}

// SftpBrowseRequest sono le credenziali e il path da esplorare
type SftpBrowseRequest struct {
	Host     string
	Username string
	Password string
	Port     int
	Path     string
}

// BrowseSftp esplora una directory SFTP tramite una entry probe usa e
// getta. La entry ha nome unico e viene sempre rimossa.
func (o *Orchestrator) BrowseSftp(ctx context.Context, req SftpBrowseRequest) (*BrowseResult, error) {
	if req.Host == "" || req.Username == "" || req.Password == "" {
		return nil, newError(KindValidation, "host, username and password are required")
	}

	current := strings.TrimSpace(req.Path)
	if current == "" {
		current = "/"
	}
	if !strings.HasPrefix(current, "/") {
		current = "/" + current
	}
	current = gopath.Clean(current)

	obscured, err := o.tool.Obscure(ctx, req.Password)
	if err != nil {
		return nil, translateToolError(err, nil)
	}

	probe := "__probe__" + uuid.NewString()
	params := map[string]string{
		"host": req.Host,
		"user": req.Username,
		"pass": obscured,
	}
	if req.Port > 0 {
		params["port"] = strconv.Itoa(req.Port)
	}

	if err := o.tool.CreateRemote(ctx, probe, "sftp", params, false); err != nil {
		return nil, translateToolError(err, translateSftpFailure)
	}
	defer func() {
		if err := o.tool.DeleteRemote(ctx, probe); err != nil {
			o.logger.Warning("Cleanup of probe entry %s failed: %v", probe, err)
		}
	}()

	entries, err := o.tool.LsJSON(ctx, probe+":"+current)
	if err != nil {
		return nil, translateToolError(err, translateSftpFailure)
	}

	result := &BrowseResult{
		CurrentPath: current,
		ParentPath:  gopath.Dir(current),
		Directories: []BrowseDir{},
	}
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		result.Directories = append(result.Directories, BrowseDir{
			Name: entry.Name,
			Path: gopath.Join(current, entry.Name),
		})
	}
	return result, nil
}

// ValidateDriveToken verifica un token drive con una entry probe e un
// listing di prova. La entry viene sempre rimossa.
func (o *Orchestrator) ValidateDriveToken(ctx context.Context, token, clientID, clientSecret string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return newError(KindValidation, "a drive token is required")
	}

	probe := "__probe__" + uuid.NewString()
	params := map[string]string{
		"scope": "drive",
		"token": token,
	}
	if clientID != "" {
		params["client_id"] = clientID
	}
	if clientSecret != "" {
		params["client_secret"] = clientSecret
	}

	if err := o.tool.CreateRemote(ctx, probe, "drive", params, true); err != nil {
		return translateToolError(err, nil)
	}
	defer func() {
		if err := o.tool.DeleteRemote(ctx, probe); err != nil {
			o.logger.Warning("Cleanup of probe entry %s failed: %v", probe, err)
		}
	}()

	if err := o.tool.Lsd(ctx, probe+":"); err != nil {
		domainErr := translateToolError(err, nil)
		if domainErr.Kind == KindToolFailure {
			domainErr.Message = "drive token validation failed"
		}
		return domainErr
	}
	return nil
}
