package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"capplan/internal/config"
	"capplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	return r.upsertConfig(ctx, nil, cfg)
}

func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return r.upsertConfig(ctx, tx, cfg)
}

func (r Repo) upsertConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.execer(tx).ExecContext(ctx, `INSERT INTO planner_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

// GetConfig returns the stored planner config.
func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM planner_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg := config.Default("")
	if err := json.Unmarshal([]byte(payload), cfg); err != nil {
		return nil, fmt.Errorf("decode stored config: %w", err)
	}
	return cfg, nil
}

// InitWorkspaceTx records the workspace row once; later calls keep the
// original name and creation time.
func (r Repo) InitWorkspaceTx(ctx context.Context, tx *sql.Tx, name, createdAt string) error {
	if name == "" {
		return errors.New("workspace name required")
	}
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO workspace(id,name,created_at) VALUES (1,?,?) ON CONFLICT(id) DO NOTHING`, name, createdAt)
	return err
}

func (r Repo) SetSnapshotTx(ctx context.Context, tx *sql.Tx, snapshotID, importedAt string) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE workspace SET snapshot_id=?, imported_at=? WHERE id=1`, snapshotID, importedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWorkspace returns the workspace row with per-table record counts.
func (r Repo) GetWorkspace(ctx context.Context) (domain.WorkspaceInfo, error) {
	var info domain.WorkspaceInfo
	var snapshotID, importedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT name,created_at,snapshot_id,imported_at FROM workspace WHERE id=1`).
		Scan(&info.Name, &info.CreatedAt, &snapshotID, &importedAt)
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	if err != nil {
		return info, err
	}
	info.SnapshotID = snapshotID.String
	info.ImportedAt = importedAt.String
	info.Counts = map[string]int{}
	for _, table := range snapshotTables {
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return info, err
		}
		info.Counts[table] = n
	}
	return info, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
