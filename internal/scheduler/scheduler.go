// Package scheduler registra i job di backup delle app su trigger cron
// e li riallinea a ogni mutazione delle righe app.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/types"
)

// AppSource è la vista sulle righe app necessaria allo scheduler
type AppSource interface {
	ListApps(ctx context.Context) ([]*types.AppLink, error)
	GetApp(ctx context.Context, id int64) (*types.AppLink, error)
}

// Backupper esegue il ciclo di backup di una singola app
type Backupper interface {
	Run(ctx context.Context, app *types.AppLink) error
}

// Scheduler mantiene la tabella dei trigger cron allineata alle app
type Scheduler struct {
	cron   *cron.Cron
	store  AppSource
	runner Backupper
	logger *logging.Logger

	mu      sync.Mutex
	entries []cron.EntryID
}

// New crea lo scheduler con la sintassi crontab standard a 5 campi
func New(store AppSource, runner Backupper, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  store,
		runner: runner,
		logger: logger,
	}
}

// Start carica tutti i trigger e avvia il loop cron
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Resync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop ferma il loop cron e attende i job in corso
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Resync scarta tutti i trigger registrati e li ricostruisce dalle
// righe app correnti. Le schedule invalide vengono saltate con warning,
// mai propagate: una riga corrotta non deve bloccare le altre.
func (s *Scheduler) Resync(ctx context.Context) error {
	apps, err := s.store.ListApps(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = s.entries[:0]

	for _, app := range apps {
		if app.Schedule == "" {
			continue
		}
		id, err := s.cron.AddFunc(app.Schedule, s.jobFor(app.ID))
		if err != nil {
			s.logger.Warning("App %s has invalid schedule %q: %v", app.Name, app.Schedule, err)
			continue
		}
		s.entries = append(s.entries, id)
		s.logger.Debug("Scheduled backup for app %s (%s)", app.Name, app.Schedule)
	}

	s.logger.Info("Scheduler synced: %d active triggers", len(s.entries))
	return nil
}

// jobFor rilegge la riga al momento del trigger: la schedule può essere
// scattata dopo che l'app è stata modificata o eliminata
func (s *Scheduler) jobFor(appID int64) func() {
	return func() {
		ctx := context.Background()

		app, err := s.store.GetApp(ctx, appID)
		if err != nil {
			s.logger.Error("Cannot load app %d for scheduled backup: %v", appID, err)
			return
		}
		if app == nil {
			s.logger.Debug("App %d no longer exists, skipping scheduled backup", appID)
			return
		}

		s.logger.Info("Starting scheduled backup for app %s", app.Name)
		if err := s.runner.Run(ctx, app); err != nil {
			s.logger.Error("Scheduled backup for app %s failed: %v", app.Name, err)
			return
		}
		s.logger.Info("Scheduled backup for app %s completed", app.Name)
	}
}

// ActiveTriggers restituisce il numero di trigger registrati
func (s *Scheduler) ActiveTriggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
