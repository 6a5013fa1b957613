package sidecar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/types"
)

// Uploader è il sottoinsieme del tool rclone usato dai backup
type Uploader interface {
	Rcat(ctx context.Context, dst string, r io.Reader) error
	Lsl(ctx context.Context, remote string) ([]rclone.FileInfo, error)
	Delete(ctx context.Context, path string) error
}

// Runner esegue un ciclo completo di backup per una app: capabilities,
// export in streaming verso il remote e retention per conteggio.
type Runner struct {
	client *Client
	tool   Uploader
	logger *logging.Logger

	// remote usato quando l'app non è collegata a nessun remote
	defaultRemote string
}

// NewRunner crea il runner. defaultRemote è nella forma "name:".
func NewRunner(client *Client, tool Uploader, defaultRemote string, logger *logging.Logger) *Runner {
	return &Runner{
		client:        client,
		tool:          tool,
		defaultRemote: defaultRemote,
		logger:        logger,
	}
}

func (r *Runner) remoteFor(app *types.AppLink) string {
	if app.RcloneRemote != "" {
		return app.RcloneRemote
	}
	return r.defaultRemote
}

// Run esegue il backup dell'app. Un checksum dichiarato che non combacia
// con lo stream caricato fa rimuovere il file appena scritto.
func (r *Runner) Run(ctx context.Context, app *types.AppLink) error {
	remote := r.remoteFor(app)
	if remote == "" {
		return fmt.Errorf("app %s has no backup remote configured", app.Name)
	}

	caps, err := r.client.Capabilities(ctx, app.URL, app.Token)
	if err != nil {
		return fmt.Errorf("app %s: %w", app.Name, err)
	}
	r.logger.Debug("App %s capabilities: version=%s types=%v", app.Name, caps.Version, caps.Types)

	body, declared, err := r.client.Export(ctx, app.URL, app.Token)
	if err != nil {
		return fmt.Errorf("app %s: %w", app.Name, err)
	}
	defer body.Close()

	dst := remote + app.Name + ".bak"
	hasher := sha256.New()
	if err := r.tool.Rcat(ctx, dst, io.TeeReader(body, hasher)); err != nil {
		return fmt.Errorf("app %s: upload failed: %w", app.Name, err)
	}

	if declared != "" {
		computed := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(computed, declared) {
			if delErr := r.tool.Delete(ctx, dst); delErr != nil {
				r.logger.Warning("Cleanup of corrupt upload %s failed: %v", dst, delErr)
			}
			return fmt.Errorf("app %s: checksum mismatch: declared %s, uploaded %s", app.Name, declared, computed)
		}
	}

	r.logger.Info("Backup of app %s uploaded to %s", app.Name, dst)

	if err := r.applyRetention(ctx, remote, app.Name, app.Retention); err != nil {
		return fmt.Errorf("app %s: %w", app.Name, err)
	}
	return nil
}

// applyRetention mantiene al più retention file storici dell'app sul
// remote, eliminando i più vecchi. retention <= 0 disattiva la policy.
func (r *Runner) applyRetention(ctx context.Context, remote, appName string, retention int) error {
	if retention <= 0 {
		return nil
	}

	files, err := r.tool.Lsl(ctx, remote)
	if err != nil {
		return fmt.Errorf("retention listing failed: %w", err)
	}

	var backups []rclone.FileInfo
	for _, f := range files {
		if strings.HasPrefix(f.Name, appName+"_") {
			backups = append(backups, f)
		}
	}

	// ISO date+time sorts lexicographically, newest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Date+"T"+backups[i].Time > backups[j].Date+"T"+backups[j].Time
	})

	for _, old := range backups[min(retention, len(backups)):] {
		r.logger.Info("Retention: deleting %s%s", remote, old.Name)
		if err := r.tool.Delete(ctx, remote+old.Name); err != nil {
			return fmt.Errorf("retention delete of %s failed: %w", old.Name, err)
		}
	}
	return nil
}
