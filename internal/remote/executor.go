package remote

import (
	"context"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

// ExecResult è l'esito di un piano eseguito con successo
type ExecResult struct {
	Route    string
	ShareURL string
	Config   map[string]string
}

// Executor runs a RemotePlan against rclone, cleaning up the partially
// created entry when a later step fails.
type Executor struct {
	tool   Tool
	logger *logging.Logger
}

// NewExecutor crea il plan executor
func NewExecutor(tool Tool, logger *logging.Logger) *Executor {
	return &Executor{tool: tool, logger: logger}
}

// Execute esegue setup, main e validation nell'ordine del piano.
// entryCreated segnala se la entry rclone esiste già quando un passo
// successivo fallisce: in quel caso viene rimossa best-effort.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*ExecResult, error) {
	for _, step := range plan.SetupSteps {
		e.logger.Debug("Plan %s: setup step: %s", plan.Name, step.Description)
		if err := step.Run(ctx); err != nil {
			// Nothing persisted yet, no cleanup required
			return nil, translateToolError(err, plan.Translate)
		}
	}

	e.logger.Debug("Plan %s: main step: %s", plan.Name, plan.Main.Description)
	if err := plan.Main.Run(ctx); err != nil {
		if plan.CleanupOnError {
			e.removeEntry(ctx, plan.Name)
		}
		return nil, translateToolError(err, plan.Translate)
	}

	for _, step := range plan.ValidationSteps {
		e.logger.Debug("Plan %s: validation step: %s", plan.Name, step.Description)
		if err := step.Run(ctx); err != nil {
			if plan.CleanupOnError {
				e.removeEntry(ctx, plan.Name)
			}
			return nil, translateToolError(err, plan.Translate)
		}
	}

	result := &ExecResult{
		Route:    plan.Route,
		ShareURL: plan.ShareURL,
	}

	if plan.ResolveShareURL {
		link, err := e.tool.Link(ctx, plan.CloudShared.TargetPath)
		if err != nil {
			if plan.CleanupOnError {
				e.removeEntry(ctx, plan.Name)
			}
			return nil, wrapError(KindInternal, err, "cannot resolve the share link for %s", plan.CloudShared.TargetPath)
		}
		result.ShareURL = link
	}

	// Echo back the live entry: it becomes the persisted config snapshot
	entry, ok, err := e.tool.DumpRemote(ctx, plan.Name)
	if err != nil || !ok {
		if plan.CleanupOnError {
			e.removeEntry(ctx, plan.Name)
		}
		if err != nil {
			return nil, translateToolError(err, plan.Translate)
		}
		return nil, newError(KindInternal, "entry %s disappeared after creation", plan.Name)
	}
	result.Config = entry

	return result, nil
}

// removeEntry elimina best-effort una entry parzialmente creata
func (e *Executor) removeEntry(ctx context.Context, name string) {
	if err := e.tool.DeleteRemote(ctx, name); err != nil {
		e.logger.Warning("Cleanup of partial entry %s failed: %v", name, err)
	}
}
