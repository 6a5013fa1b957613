package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/backuper-dev/orchestrator/internal/types"
)

func scanApp(row interface{ Scan(...any) error }) (*types.AppLink, error) {
	var app types.AppLink
	err := row.Scan(&app.ID, &app.Name, &app.URL, &app.Token, &app.Schedule,
		&app.DriveFolderID, &app.RcloneRemote, &app.Retention)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApp restituisce (nil, nil) se l'id non esiste
func (s *Store) GetApp(ctx context.Context, id int64) (*types.AppLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, token, schedule, drive_folder_id, rclone_remote, retention FROM apps WHERE id = ?`, id)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read app %d: %w", id, err)
	}
	return app, nil
}

// GetAppByName restituisce (nil, nil) se il nome non esiste
func (s *Store) GetAppByName(ctx context.Context, name string) (*types.AppLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, token, schedule, drive_folder_id, rclone_remote, retention FROM apps WHERE name = ?`, name)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read app %s: %w", name, err)
	}
	return app, nil
}

// ListApps restituisce tutte le app ordinate per nome
func (s *Store) ListApps(ctx context.Context) ([]*types.AppLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, token, schedule, drive_folder_id, rclone_remote, retention FROM apps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []*types.AppLink
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("list apps: %w", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// CreateApp inserisce l'app e restituisce l'id assegnato
func (s *Store) CreateApp(ctx context.Context, app *types.AppLink) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (name, url, token, schedule, drive_folder_id, rclone_remote, retention) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		app.Name, app.URL, app.Token, app.Schedule, app.DriveFolderID, app.RcloneRemote, app.Retention)
	if err != nil {
		return 0, fmt.Errorf("insert app %s: %w", app.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert app %s: %w", app.Name, err)
	}
	return id, nil
}

// UpdateApp riscrive tutti i campi dell'app identificata da app.ID
func (s *Store) UpdateApp(ctx context.Context, app *types.AppLink) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE apps SET name = ?, url = ?, token = ?, schedule = ?, drive_folder_id = ?, rclone_remote = ?, retention = ? WHERE id = ?`,
		app.Name, app.URL, app.Token, app.Schedule, app.DriveFolderID, app.RcloneRemote, app.Retention, app.ID)
	if err != nil {
		return fmt.Errorf("update app %d: %w", app.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update app %d: %w", app.ID, err)
	} else if n == 0 {
		return fmt.Errorf("app %d not found", app.ID)
	}
	return nil
}

// DeleteApp elimina l'app; eliminare un id inesistente non è un errore
func (s *Store) DeleteApp(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete app %d: %w", id, err)
	}
	return nil
}
