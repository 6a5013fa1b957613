package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backuper-dev/orchestrator/internal/config"
	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/pathguard"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/remote"
	"github.com/backuper-dev/orchestrator/internal/scheduler"
	"github.com/backuper-dev/orchestrator/internal/secrets"
	"github.com/backuper-dev/orchestrator/internal/server"
	"github.com/backuper-dev/orchestrator/internal/sidecar"
	"github.com/backuper-dev/orchestrator/internal/store"
	"github.com/backuper-dev/orchestrator/internal/types"
)

const defaultConfigPath = "/etc/backuper/backuper.env"

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", defaultConfigPath, "path del file di configurazione")
	rootCmd.AddCommand(serveCmd)
}

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Avvia il server HTTP e lo scheduler dei backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveConfigPath)
	},
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return &exitError{code: types.ExitConfigError, err: err}
	}

	logger := logging.New(cfg.DebugLevel, cfg.UseColor)
	logging.SetDefaultLogger(logger)

	box, err := secrets.NewBox(cfg.SnapshotAgeKey)
	if err != nil {
		return &exitError{code: types.ExitConfigError, err: err}
	}

	db, err := store.Open(cfg.DatabasePath, box, logger)
	if err != nil {
		return &exitError{code: types.ExitStoreError, err: err}
	}
	defer db.Close()

	tool := rclone.NewTool(cfg.RcloneConfig, logger)
	guard := pathguard.New(cfg.LocalDirectories, cfg.LocalBackupsDir)
	for _, root := range guard.Roots() {
		logger.Info("Local backup root: %s (%s)", root.Path, root.Label)
	}

	orch := remote.NewOrchestrator(
		remote.NewBuilder(tool, guard, cfg, logger),
		remote.NewExecutor(tool, logger),
		remote.NewMover(tool, logger),
		remote.NewSnapshotManager(tool, logger),
		tool, db, logger,
	)

	// Graceful shutdown su SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warning("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	// Entry live mancanti vengono ricreate dagli snapshot persistiti
	if err := orch.Reconcile(ctx); err != nil {
		logger.Warning("Startup reconciliation failed: %v", err)
	}

	runner := sidecar.NewRunner(sidecar.NewClient(logger), tool, cfg.DriveRemote+":", logger)
	sched := scheduler.New(db, runner, logger)
	if err := sched.Start(ctx); err != nil {
		return &exitError{code: types.ExitStoreError, err: fmt.Errorf("cannot start scheduler: %w", err)}
	}
	defer sched.Stop()

	authorizer := rclone.NewAuthorizer(cfg.RcloneConfig, logger)
	defer authorizer.Shutdown()

	srv := server.New(orch, db, sched, authorizer, cfg, logger)
	if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		return &exitError{code: types.ExitServeError, err: err}
	}

	logger.Info("Shutdown complete")
	return nil
}
