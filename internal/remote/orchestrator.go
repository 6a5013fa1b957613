package remote

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"

	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/types"
)

// Store è la persistenza dei descrittori. Le scritture che coinvolgono
// anche le righe app (cascata su rename/delete) avvengono in un'unica
// transazione.
type Store interface {
	GetRemote(ctx context.Context, name string) (*types.RemoteDescriptor, error)
	ListRemotes(ctx context.Context) ([]*types.RemoteDescriptor, error)
	CreateRemote(ctx context.Context, desc *types.RemoteDescriptor) (int64, error)
	UpdateRemote(ctx context.Context, oldName string, desc *types.RemoteDescriptor) error
	DeleteRemote(ctx context.Context, name string) error
}

// Orchestrator è la composition root del ciclo di vita dei remote:
// create/update/delete con protocollo backup-then-mutate-then-restore.
type Orchestrator struct {
	builder   *Builder
	executor  *Executor
	mover     *Mover
	snapshots *SnapshotManager
	tool      Tool
	store     Store
	locks     *kmutex.Kmutex
	logger    *logging.Logger
}

// NewOrchestrator crea l'orchestratore
func NewOrchestrator(builder *Builder, executor *Executor, mover *Mover, snapshots *SnapshotManager, tool Tool, store Store, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		builder:   builder,
		executor:  executor,
		mover:     mover,
		snapshots: snapshots,
		tool:      tool,
		store:     store,
		locks:     kmutex.New(),
		logger:    logger,
	}
}

func lockKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// lockNames serializza le operazioni sui nomi coinvolti. L'ordine
// alfabetico evita inversioni di lock sui rename.
func (o *Orchestrator) lockNames(names ...string) func() {
	keys := make([]string, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		key := lockKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		o.locks.Lock(key)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			o.locks.Unlock(keys[i])
		}
	}
}

func asError(err error) *Error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// withRecovery allega a err i fallimenti dei compensatori e l'esito
// del restore, mai nascosti
func withRecovery(err error, aux []string, outcome RestoreOutcome) *Error {
	e := asError(err)
	e.Aux = append(e.Aux, aux...)
	e.Restore = outcome
	return e
}

// Create: valida, costruisce il piano, crea eagerly la directory per i
// remote locali, esegue il piano e persiste il descrittore. Ogni
// fallimento rimuove la entry parziale e la directory creata.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*types.RemoteDescriptor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(KindValidation, "remote name is required")
	}
	req.Name = name

	unlock := o.lockNames(name)
	defer unlock()

	if existing, err := o.store.GetRemote(ctx, name); err != nil {
		return nil, wrapError(KindInternal, err, "cannot read remote %s", name)
	} else if existing != nil {
		return nil, newError(KindConflict, "remote %s already exists", name)
	}

	if live, err := o.tool.HasRemote(ctx, name); err != nil {
		return nil, translateToolError(err, nil)
	} else if live {
		return nil, newError(KindConflict, "remote %s already exists", name)
	}

	plan, err := o.builder.Build(ctx, req, nil)
	if err != nil {
		return nil, asError(err)
	}

	createdDir := false
	if plan.Local != nil {
		if err := o.mover.CreateFresh(plan.Local.TargetPath); err != nil {
			return nil, asError(err)
		}
		createdDir = true
	}

	result, err := o.executor.Execute(ctx, plan)
	if err != nil {
		var aux []string
		if createdDir {
			if msg := o.mover.RemoveCreated(plan.Local.TargetPath); msg != "" {
				aux = append(aux, msg)
			}
		}
		return nil, withRecovery(err, aux, RestoreNotNeeded)
	}

	desc := &types.RemoteDescriptor{
		Name:      name,
		Type:      plan.Type,
		Route:     result.Route,
		ShareURL:  result.ShareURL,
		Config:    result.Config,
		CreatedAt: time.Now().UTC(),
	}

	id, err := o.store.CreateRemote(ctx, desc)
	if err != nil {
		var aux []string
		if cleanupErr := o.tool.DeleteRemote(ctx, name); cleanupErr != nil {
			aux = append(aux, "cleanup of entry failed: "+cleanupErr.Error())
		}
		if createdDir {
			if msg := o.mover.RemoveCreated(plan.Local.TargetPath); msg != "" {
				aux = append(aux, msg)
			}
		}
		return nil, withRecovery(wrapError(KindInternal, err, "cannot persist remote %s", name), aux, RestoreNotNeeded)
	}
	desc.ID = id

	o.logger.Info("Created remote %s (%s) route=%s", name, desc.Type, desc.Route)
	return desc, nil
}

// Update è la saga centrale: snapshot, piano con contesto corrente,
// spostamento fisico, delete della vecchia entry, esecuzione del nuovo
// piano, persistenza con cascata. Ogni fallimento inverte lo
// spostamento e tenta il restore, riportandone l'esito.
func (o *Orchestrator) Update(ctx context.Context, name string, req Request) (*types.RemoteDescriptor, error) {
	name = strings.TrimSpace(name)
	newName := strings.TrimSpace(req.Name)
	if newName == "" {
		newName = name
	}
	req.Name = newName

	unlock := o.lockNames(name, newName)
	defer unlock()

	desc, err := o.store.GetRemote(ctx, name)
	if err != nil {
		return nil, wrapError(KindInternal, err, "cannot read remote %s", name)
	}
	if desc == nil {
		return nil, newError(KindNotFound, "remote not found")
	}

	if !strings.EqualFold(newName, name) {
		if existing, err := o.store.GetRemote(ctx, newName); err != nil {
			return nil, wrapError(KindInternal, err, "cannot read remote %s", newName)
		} else if existing != nil {
			return nil, newError(KindConflict, "remote %s already exists", newName)
		}
		if live, err := o.tool.HasRemote(ctx, newName); err != nil {
			return nil, translateToolError(err, nil)
		} else if live {
			return nil, newError(KindConflict, "remote %s already exists", newName)
		}
	}

	snap, err := o.snapshots.Take(ctx, name, desc.Config)
	if err != nil {
		return nil, asError(err)
	}

	plan, err := o.builder.Build(ctx, req, &UpdateContext{
		CurrentType:  desc.Type,
		CurrentRoute: desc.Route,
	})
	if err != nil {
		return nil, asError(err)
	}

	// Physical move first, with its compensator captured for unwind
	undo, err := o.performMove(ctx, desc, plan)
	if err != nil {
		return nil, asError(err)
	}

	if err := o.tool.DeleteRemote(ctx, name); err != nil {
		// Old entry untouched, unwinding the move is enough
		return nil, withRecovery(translateToolError(err, nil), undo(ctx), RestoreNotNeeded)
	}

	result, err := o.executor.Execute(ctx, plan)
	if err != nil {
		aux := undo(ctx)
		outcome := RestoreFailed
		if o.snapshots.Restore(ctx, snap) {
			outcome = RestoreSucceeded
		}
		return nil, withRecovery(err, aux, outcome)
	}

	newDesc := &types.RemoteDescriptor{
		ID:        desc.ID,
		Name:      newName,
		Type:      plan.Type,
		Route:     result.Route,
		ShareURL:  result.ShareURL,
		Config:    result.Config,
		CreatedAt: desc.CreatedAt,
	}

	if err := o.store.UpdateRemote(ctx, name, newDesc); err != nil {
		var aux []string
		if cleanupErr := o.tool.DeleteRemote(ctx, newName); cleanupErr != nil {
			aux = append(aux, "cleanup of entry failed: "+cleanupErr.Error())
		}
		aux = append(aux, undo(ctx)...)
		outcome := RestoreFailed
		if o.snapshots.Restore(ctx, snap) {
			outcome = RestoreSucceeded
		}
		return nil, withRecovery(wrapError(KindInternal, err, "cannot persist remote %s", newName), aux, outcome)
	}

	o.logger.Info("Updated remote %s -> %s route=%s", name, newName, newDesc.Route)
	return newDesc, nil
}

// performMove esegue lo spostamento fisico richiesto dal piano e
// restituisce il compensatore da chiamare in caso di fallimento
// successivo. Il compensatore di default è un no-op.
func (o *Orchestrator) performMove(ctx context.Context, desc *types.RemoteDescriptor, plan *Plan) (func(context.Context) []string, error) {
	noop := func(context.Context) []string { return nil }

	if plan.Local != nil {
		meta := plan.Local
		switch meta.MoveMode {
		case types.MoveRename:
			if err := o.mover.RenameDirectory(meta.SourcePath, meta.TargetPath); err != nil {
				return noop, err
			}
			return func(context.Context) []string {
				if msg := o.mover.UnwindRename(meta.SourcePath, meta.TargetPath); msg != "" {
					return []string{msg}
				}
				return nil
			}, nil

		case types.MoveContents:
			moved, err := o.mover.MoveContents(meta.BaseDir, meta.TargetPath)
			if err != nil {
				aux := o.mover.UnwindMoveContents(meta.BaseDir, meta.TargetPath, moved)
				return noop, withRecovery(err, aux, RestoreNotNeeded)
			}
			return func(context.Context) []string {
				return o.mover.UnwindMoveContents(meta.BaseDir, meta.TargetPath, moved)
			}, nil

		default:
			if meta.TargetPath != desc.Route {
				// Type switch or brand new target: fresh directory
				if err := o.mover.CreateFresh(meta.TargetPath); err != nil {
					return noop, err
				}
				return func(context.Context) []string {
					if msg := o.mover.RemoveCreated(meta.TargetPath); msg != "" {
						return []string{msg}
					}
					return nil
				}, nil
			}
			return noop, nil
		}
	}

	if plan.CloudShared != nil && desc.Type == types.RemoteDrive &&
		plan.CloudShared.PriorPath != "" && plan.CloudShared.RequiresCreation {
		meta := plan.CloudShared
		if err := o.mover.MoveFolder(ctx, meta.PriorPath, meta.TargetPath); err != nil {
			return noop, err
		}
		return func(ctx context.Context) []string {
			if msg := o.mover.UnwindMoveFolder(ctx, meta.PriorPath, meta.TargetPath); msg != "" {
				return []string{msg}
			}
			return nil
		}, nil
	}

	return noop, nil
}

// Delete rimuove entry, risorsa fisica e riga persistita. Le cartelle
// cloud passano da un path di quarantena così che un purge fallito
// possa essere invertito prima di toccare i metadati.
func (o *Orchestrator) Delete(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)

	unlock := o.lockNames(name)
	defer unlock()

	desc, err := o.store.GetRemote(ctx, name)
	if err != nil {
		return "", wrapError(KindInternal, err, "cannot read remote %s", name)
	}
	if desc == nil {
		return "", newError(KindNotFound, "remote not found")
	}

	removedPath := ""

	switch desc.Type {
	case types.RemoteDrive:
		if desc.Route == "" {
			// Custom account: no owned physical folder
			if err := o.tool.DeleteRemote(ctx, name); err != nil {
				return "", translateToolError(err, nil)
			}
			break
		}

		snap, err := o.snapshots.Take(ctx, name, desc.Config)
		if err != nil {
			return "", asError(err)
		}

		quarantine := desc.Route + ".__delete__-" + uuid.NewString()
		if err := o.mover.MoveFolder(ctx, desc.Route, quarantine); err != nil {
			return "", asError(err)
		}

		if err := o.tool.DeleteRemote(ctx, name); err != nil {
			var aux []string
			if msg := o.mover.UnwindMoveFolder(ctx, desc.Route, quarantine); msg != "" {
				aux = append(aux, msg)
			}
			return "", withRecovery(translateToolError(err, nil), aux, RestoreNotNeeded)
		}

		if err := o.mover.PurgeFolder(ctx, quarantine); err != nil {
			var aux []string
			if msg := o.mover.UnwindMoveFolder(ctx, desc.Route, quarantine); msg != "" {
				aux = append(aux, msg)
			}
			outcome := RestoreFailed
			if o.snapshots.Restore(ctx, snap) {
				outcome = RestoreSucceeded
			}
			return "", withRecovery(err, aux, outcome)
		}
		removedPath = desc.Route

	case types.RemoteLocal:
		snap, err := o.snapshots.Take(ctx, name, desc.Config)
		if err != nil {
			return "", asError(err)
		}

		if err := o.tool.DeleteRemote(ctx, name); err != nil {
			return "", translateToolError(err, nil)
		}

		if err := o.mover.RemoveDirectory(desc.Route); err != nil {
			outcome := RestoreFailed
			if o.snapshots.Restore(ctx, snap) {
				outcome = RestoreSucceeded
			}
			return "", withRecovery(err, nil, outcome)
		}
		removedPath = desc.Route

	default:
		// SFTP entries own no local resource; the remote directory stays
		if err := o.tool.DeleteRemote(ctx, name); err != nil {
			return "", translateToolError(err, nil)
		}
	}

	if err := o.store.DeleteRemote(ctx, name); err != nil {
		return "", wrapError(KindInternal, err, "remote %s removed but its record could not be deleted", name)
	}

	o.logger.Info("Deleted remote %s removed_path=%s", name, removedPath)
	return removedPath, nil
}

// List restituisce le righe persistite il cui nome è presente anche nel
// registry rclone live
func (o *Orchestrator) List(ctx context.Context) ([]*types.RemoteDescriptor, error) {
	rows, err := o.store.ListRemotes(ctx)
	if err != nil {
		return nil, wrapError(KindInternal, err, "cannot list remotes")
	}

	liveNames, err := o.tool.ListRemotes(ctx)
	if err != nil {
		return nil, translateToolError(err, nil)
	}
	live := make(map[string]bool, len(liveNames))
	for _, n := range liveNames {
		live[n] = true
	}

	var out []*types.RemoteDescriptor
	for _, row := range rows {
		if live[row.Name] {
			out = append(out, row)
		}
	}
	return out, nil
}

// Reconcile ricrea all'avvio le entry live mancanti a partire dagli
// snapshot persistiti. Le righe senza snapshot restano intatte.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	liveNames, err := o.tool.ListRemotes(ctx)
	if err != nil {
		return translateToolError(err, nil)
	}
	live := make(map[string]bool, len(liveNames))
	for _, n := range liveNames {
		live[n] = true
	}

	rows, err := o.store.ListRemotes(ctx)
	if err != nil {
		return wrapError(KindInternal, err, "cannot list remotes")
	}

	for _, row := range rows {
		if live[row.Name] {
			continue
		}
		if row.Config == nil || row.Config["type"] == "" {
			o.logger.Debug("Remote %s has no usable snapshot, skipping reconciliation", row.Name)
			continue
		}

		snap := &Snapshot{SourceName: row.Name, Config: row.Config}
		if o.snapshots.Restore(ctx, snap) {
			o.logger.Info("Reconciled missing entry for remote %s", row.Name)
		} else {
			o.logger.Warning("Could not reconcile remote %s from its snapshot", row.Name)
		}
	}
	return nil
}
