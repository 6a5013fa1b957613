package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

// Mover performs the physical side effects of a lifecycle operation.
// Every operation has a paired compensator; compensator failures are
// returned as strings so the caller can append them to the primary error.
type Mover struct {
	tool   Tool
	logger *logging.Logger
}

// NewMover crea il physical resource mover
func NewMover(tool Tool, logger *logging.Logger) *Mover {
	return &Mover{tool: tool, logger: logger}
}

// CreateFresh crea la directory target di un remote locale nuovo.
// Fallisce se il path esiste già.
func (m *Mover) CreateFresh(path string) error {
	if _, err := os.Stat(path); err == nil {
		return newError(KindConflict, "directory %s already exists", path)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return wrapError(KindPhysicalMove, err, "cannot create directory %s", path)
	}
	m.logger.Debug("Created directory: %s", path)
	return nil
}

// RemoveCreated è il compensatore di CreateFresh
func (m *Mover) RemoveCreated(path string) string {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warning("Cannot remove created directory %s: %v", path, err)
		return fmt.Sprintf("cleanup of %s failed: %v", path, err)
	}
	return ""
}

// RenameDirectory rinomina una directory; il compensatore è la stessa
// chiamata a parametri invertiti
func (m *Mover) RenameDirectory(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return wrapError(KindPhysicalMove, err, "cannot rename %s to %s", oldPath, newPath)
	}
	m.logger.Debug("Renamed directory: %s -> %s", oldPath, newPath)
	return nil
}

// UnwindRename riporta la directory al nome precedente
func (m *Mover) UnwindRename(oldPath, newPath string) string {
	if err := os.Rename(newPath, oldPath); err != nil {
		m.logger.Warning("Cannot undo rename %s -> %s: %v", oldPath, newPath, err)
		return fmt.Sprintf("undo rename of %s failed: %v", newPath, err)
	}
	return ""
}

// MoveContents sposta i figli di base dentro la nuova sottocartella
// newPath, un figlio alla volta. Restituisce i figli effettivamente
// spostati così che un fallimento a metà possa invertire solo quelli.
func (m *Mover) MoveContents(base, newPath string) ([]string, error) {
	if err := os.MkdirAll(newPath, 0755); err != nil {
		return nil, wrapError(KindPhysicalMove, err, "cannot create directory %s", newPath)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, wrapError(KindPhysicalMove, err, "cannot list directory %s", base)
	}

	var moved []string
	for _, entry := range entries {
		src := filepath.Join(base, entry.Name())
		if src == newPath {
			continue
		}
		dst := filepath.Join(newPath, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return moved, wrapError(KindPhysicalMove, err, "cannot move %s into %s", src, newPath)
		}
		moved = append(moved, entry.Name())
	}

	m.logger.Debug("Moved %d entries from %s into %s", len(moved), base, newPath)
	return moved, nil
}

// UnwindMoveContents riporta in base i soli figli tracciati e rimuove
// newPath se resta vuota
func (m *Mover) UnwindMoveContents(base, newPath string, moved []string) []string {
	var failures []string
	for _, name := range moved {
		src := filepath.Join(newPath, name)
		dst := filepath.Join(base, name)
		if err := os.Rename(src, dst); err != nil {
			m.logger.Warning("Cannot move %s back to %s: %v", src, base, err)
			failures = append(failures, fmt.Sprintf("move back of %s failed: %v", name, err))
		}
	}
	if err := os.Remove(newPath); err != nil && !os.IsNotExist(err) {
		// Non-empty means some children could not be moved back
		m.logger.Warning("Cannot remove %s after unwind: %v", newPath, err)
	}
	return failures
}

// RemoveDirectory elimina ricorsivamente una directory locale
func (m *Mover) RemoveDirectory(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return wrapError(KindPhysicalMove, err, "cannot remove directory %s", path)
	}
	m.logger.Debug("Removed directory: %s", path)
	return nil
}

// MoveFolder sposta una cartella cloud (rename in-place o quarantena)
func (m *Mover) MoveFolder(ctx context.Context, from, to string) error {
	if err := m.tool.MoveTo(ctx, from, to); err != nil {
		return translateToolErrorAs(KindPhysicalMove, err)
	}
	m.logger.Debug("Moved cloud folder: %s -> %s", from, to)
	return nil
}

// UnwindMoveFolder riporta una cartella cloud alla posizione originale
func (m *Mover) UnwindMoveFolder(ctx context.Context, from, to string) string {
	if err := m.tool.MoveTo(ctx, to, from); err != nil {
		m.logger.Warning("Cannot move cloud folder %s back to %s: %v", to, from, err)
		return fmt.Sprintf("move back of %s failed: %v", to, err)
	}
	return ""
}

// PurgeFolder elimina definitivamente una cartella cloud
func (m *Mover) PurgeFolder(ctx context.Context, target string) error {
	if err := m.tool.Purge(ctx, target); err != nil {
		return translateToolErrorAs(KindPhysicalMove, err)
	}
	m.logger.Debug("Purged cloud folder: %s", target)
	return nil
}

func translateToolErrorAs(kind Kind, err error) *Error {
	domainErr := translateToolError(err, nil)
	if domainErr.Kind == KindToolFailure {
		domainErr.Kind = kind
	}
	return domainErr
}
