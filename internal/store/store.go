// Package store persiste i descrittori dei remote e le app di backup
// su SQLite. Le mutazioni che coinvolgono più righe (cascata dei
// riferimenti app su rename/delete) avvengono in un'unica transazione.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/secrets"
	"github.com/backuper-dev/orchestrator/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS remotes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	route      TEXT NOT NULL DEFAULT '',
	share_url  TEXT NOT NULL DEFAULT '',
	config     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS apps (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL UNIQUE,
	url             TEXT NOT NULL DEFAULT '',
	token           TEXT NOT NULL DEFAULT '',
	schedule        TEXT NOT NULL DEFAULT '',
	drive_folder_id TEXT NOT NULL DEFAULT '',
	rclone_remote   TEXT NOT NULL DEFAULT '',
	retention       INTEGER NOT NULL DEFAULT 0
);
`

// Store è la persistenza SQLite dell'applicazione
type Store struct {
	db     *sql.DB
	box    *secrets.Box
	logger *logging.Logger
}

// Open apre (o crea) il database e applica lo schema. box può essere
// nil: gli snapshot vengono salvati in chiaro.
func Open(path string, box *secrets.Box, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// SQLite serializza comunque le scritture; una sola connessione
	// evita gli SQLITE_BUSY sotto contesa
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Debug("Database ready: %s", path)
	return &Store{db: db, box: box, logger: logger}, nil
}

// Close chiude il database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) encodeConfig(config map[string]string) (string, error) {
	if len(config) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode config snapshot: %w", err)
	}
	return s.box.Seal(raw)
}

func (s *Store) decodeConfig(value string) (map[string]string, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := s.box.Open(value)
	if err != nil {
		return nil, err
	}
	var config map[string]string
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decode config snapshot: %w", err)
	}
	return config, nil
}

func (s *Store) scanRemote(row interface{ Scan(...any) error }) (*types.RemoteDescriptor, error) {
	var desc types.RemoteDescriptor
	var remoteType, config string
	if err := row.Scan(&desc.ID, &desc.Name, &remoteType, &desc.Route, &desc.ShareURL, &config, &desc.CreatedAt); err != nil {
		return nil, err
	}
	desc.Type = types.RemoteType(remoteType)

	decoded, err := s.decodeConfig(config)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", desc.Name, err)
	}
	desc.Config = decoded
	return &desc, nil
}

// GetRemote restituisce (nil, nil) se il nome non esiste
func (s *Store) GetRemote(ctx context.Context, name string) (*types.RemoteDescriptor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, route, share_url, config, created_at FROM remotes WHERE name = ?`, name)
	desc, err := s.scanRemote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read remote %s: %w", name, err)
	}
	return desc, nil
}

// ListRemotes restituisce tutti i descrittori ordinati per nome
func (s *Store) ListRemotes(ctx context.Context) ([]*types.RemoteDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, route, share_url, config, created_at FROM remotes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	defer rows.Close()

	var out []*types.RemoteDescriptor
	for rows.Next() {
		desc, err := s.scanRemote(rows)
		if err != nil {
			return nil, fmt.Errorf("list remotes: %w", err)
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

// CreateRemote inserisce il descrittore e restituisce l'id assegnato
func (s *Store) CreateRemote(ctx context.Context, desc *types.RemoteDescriptor) (int64, error) {
	config, err := s.encodeConfig(desc.Config)
	if err != nil {
		return 0, err
	}

	createdAt := desc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO remotes (name, type, route, share_url, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		desc.Name, desc.Type.String(), desc.Route, desc.ShareURL, config, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert remote %s: %w", desc.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert remote %s: %w", desc.Name, err)
	}
	return id, nil
}

// UpdateRemote riscrive il descrittore identificato da oldName e, nella
// stessa transazione, riallinea i riferimenti rclone_remote delle app
// quando il nome cambia.
func (s *Store) UpdateRemote(ctx context.Context, oldName string, desc *types.RemoteDescriptor) error {
	config, err := s.encodeConfig(desc.Config)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE remotes SET name = ?, type = ?, route = ?, share_url = ?, config = ? WHERE name = ?`,
		desc.Name, desc.Type.String(), desc.Route, desc.ShareURL, config, oldName)
	if err != nil {
		return fmt.Errorf("update remote %s: %w", oldName, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update remote %s: %w", oldName, err)
	} else if n == 0 {
		return fmt.Errorf("remote %s not found", oldName)
	}

	if desc.Name != oldName {
		if _, err := tx.ExecContext(ctx,
			`UPDATE apps SET rclone_remote = ? WHERE rclone_remote = ?`,
			desc.Name+":", oldName+":"); err != nil {
			return fmt.Errorf("rewrite app references for %s: %w", oldName, err)
		}
	}

	return tx.Commit()
}

// DeleteRemote elimina la riga e azzera, nella stessa transazione, i
// riferimenti delle app che puntavano al remote
func (s *Store) DeleteRemote(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM remotes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete remote %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE apps SET rclone_remote = '' WHERE rclone_remote = ?`, name+":"); err != nil {
		return fmt.Errorf("clear app references for %s: %w", name, err)
	}

	return tx.Commit()
}
