package remote

import (
	"context"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

// Snapshot cattura la configurazione live di un remote prima di una
// mutazione rischiosa
type Snapshot struct {
	SourceName string
	Config     map[string]string
}

// SnapshotManager implementa la parte snapshot/restore della saga
type SnapshotManager struct {
	tool   Tool
	logger *logging.Logger
}

// NewSnapshotManager crea il saga manager
func NewSnapshotManager(tool Tool, logger *logging.Logger) *SnapshotManager {
	return &SnapshotManager{tool: tool, logger: logger}
}

// Take cattura la configurazione di name. Preferisce lo snapshot
// persistito se ben formato, altrimenti interroga il registry live.
func (s *SnapshotManager) Take(ctx context.Context, name string, persisted map[string]string) (*Snapshot, error) {
	if persisted != nil && persisted["type"] != "" {
		config := make(map[string]string, len(persisted))
		for k, v := range persisted {
			config[k] = v
		}
		return &Snapshot{SourceName: name, Config: config}, nil
	}

	entry, ok, err := s.tool.DumpRemote(ctx, name)
	if err != nil {
		return nil, translateToolError(err, nil)
	}
	if !ok || entry["type"] == "" {
		return nil, newError(KindNotFound, "remote not found")
	}
	return &Snapshot{SourceName: name, Config: entry}, nil
}

// Restore ricrea la entry dallo snapshot. Non restituisce mai un errore:
// il bool distingue "rollback pulito" da "stato inconsistente" e cambia
// la severità dell'errore riportato al chiamante.
func (s *SnapshotManager) Restore(ctx context.Context, snap *Snapshot) bool {
	if snap == nil {
		return false
	}

	remoteType := snap.Config["type"]
	if remoteType == "" {
		s.logger.Error("Snapshot for %s has no type field, cannot restore", snap.SourceName)
		return false
	}

	// Remove whatever is currently registered under the name;
	// "already absent" is fine
	if err := s.tool.DeleteRemote(ctx, snap.SourceName); err != nil {
		s.logger.Debug("Delete of %s before restore failed (may be absent): %v", snap.SourceName, err)
	}

	params := make(map[string]string, len(snap.Config))
	for key, value := range snap.Config {
		if key == "type" {
			continue
		}
		params[key] = value
	}

	if err := s.tool.CreateRemote(ctx, snap.SourceName, remoteType, params, false); err != nil {
		s.logger.Error("Restore of %s failed: %v", snap.SourceName, err)
		return false
	}

	s.logger.Info("Restored previous configuration of %s", snap.SourceName)
	return true
}
