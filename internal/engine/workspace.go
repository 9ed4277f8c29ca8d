package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capplan/internal/config"
	"capplan/internal/domain"
	"capplan/internal/events"
	"capplan/internal/migrate"
	"capplan/internal/repo"
	"capplan/internal/snapshot"
)

// ErrNoWorkspace is returned by workspace operations before init.
var ErrNoWorkspace = errors.New("workspace not initialised; run cplan init")

// ErrInvalidSnapshot wraps loader errors that block an import.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

func (e Engine) requireDB() error {
	if e.DB == nil {
		return ErrNoWorkspace
	}
	return nil
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitWorkspace migrates the database and records the workspace. It is safe
// to call again; an existing name and config are kept.
func (e Engine) InitWorkspace(ctx context.Context, name, actorID string) (domain.WorkspaceInfo, error) {
	if err := e.requireDB(); err != nil {
		return domain.WorkspaceInfo{}, err
	}
	if err := migrate.MigrateContext(ctx, e.DB); err != nil {
		return domain.WorkspaceInfo{}, fmt.Errorf("migrate: %w", err)
	}
	_, cfgErr := e.Repo.GetConfig(ctx)
	if cfgErr != nil && !errors.Is(cfgErr, repo.ErrNotFound) {
		return domain.WorkspaceInfo{}, cfgErr
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkspaceInfo{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InitWorkspaceTx(ctx, tx, name, e.timestamp()); err != nil {
		return domain.WorkspaceInfo{}, err
	}
	if errors.Is(cfgErr, repo.ErrNotFound) {
		seed := e.config()
		if seed.Workspace.Name == "" {
			seed.Workspace.Name = name
		}
		if err := e.Repo.UpsertConfigTx(ctx, tx, seed); err != nil {
			return domain.WorkspaceInfo{}, fmt.Errorf("seed config: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.WorkspaceInit, "workspace", name, actorID, events.Payload{"name": name}); err != nil {
		return domain.WorkspaceInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkspaceInfo{}, err
	}
	e.log().Infof("workspace %q ready", name)
	return e.Repo.GetWorkspace(ctx)
}

// Workspace returns the workspace row and record counts.
func (e Engine) Workspace(ctx context.Context) (domain.WorkspaceInfo, error) {
	if err := e.requireDB(); err != nil {
		return domain.WorkspaceInfo{}, err
	}
	info, err := e.Repo.GetWorkspace(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return info, ErrNoWorkspace
	}
	return info, err
}

// ImportConfig validates and stores cfg as the workspace config.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if _, err := e.Workspace(ctx); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, "config", "planner", actorID, events.Payload{
		"granularity":           cfg.Planner.Granularity,
		"concurrency_threshold": cfg.Planner.ConcurrencyThreshold,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportResult describes a stored snapshot.
type ImportResult struct {
	SnapshotID string           `json:"snapshot_id"`
	Counts     map[string]int   `json:"counts"`
	Findings   []domain.Finding `json:"findings"`
}

// ImportSnapshot replaces the stored snapshot with doc in one transaction.
// Loader errors such as unparseable dates reject the whole document; loader
// warnings are returned with the result.
func (e Engine) ImportSnapshot(ctx context.Context, doc *snapshot.Document, actorID string) (ImportResult, error) {
	if _, err := e.Workspace(ctx); err != nil {
		return ImportResult{}, err
	}
	in, findings := doc.Input()
	for _, f := range findings {
		if f.Severity == domain.SeverityError {
			return ImportResult{Findings: findings}, fmt.Errorf("%w: %s", ErrInvalidSnapshot, f.Message())
		}
	}
	res := ImportResult{
		SnapshotID: SnapshotID(in),
		Counts: map[string]int{
			"people":          len(in.People),
			"leave":           len(in.Leave),
			"public_holidays": len(in.Holidays),
			"workstreams":     len(in.Workstreams),
			"tasks":           len(in.Tasks),
		},
		Findings: findings,
	}
	if res.Findings == nil {
		res.Findings = []domain.Finding{}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceSnapshotTx(ctx, tx, in); err != nil {
		return ImportResult{}, err
	}
	if err := e.Repo.SetSnapshotTx(ctx, tx, res.SnapshotID, e.timestamp()); err != nil {
		return ImportResult{}, err
	}
	payload := events.Payload{"counts": res.Counts, "warnings": len(findings)}
	if err := e.Events.Append(ctx, tx, events.SnapshotImported, "snapshot", res.SnapshotID, actorID, payload); err != nil {
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	e.log().Infof("snapshot %s imported (%d tasks, %d warnings)", res.SnapshotID, len(in.Tasks), len(findings))
	return res, nil
}

// LoadInput returns the stored snapshot.
func (e Engine) LoadInput(ctx context.Context) (domain.Input, error) {
	if _, err := e.Workspace(ctx); err != nil {
		return domain.Input{}, err
	}
	return e.Repo.LoadInput(ctx)
}

// RunWorkspace runs the planner over the stored snapshot.
func (e Engine) RunWorkspace(ctx context.Context, opts RunOptions) (Result, error) {
	in, err := e.LoadInput(ctx)
	if err != nil {
		return Result{}, err
	}
	return e.Run(in, opts), nil
}

// RunDocument runs the planner over a decoded document, reporting loader
// findings ahead of the run's own.
func (e Engine) RunDocument(doc *snapshot.Document, opts RunOptions) Result {
	in, loaderFindings := doc.Input()
	res := e.Run(in, opts)
	if len(loaderFindings) > 0 {
		res.Findings = append(loaderFindings, res.Findings...)
	}
	return res
}

// ExportSnapshot returns the stored snapshot as a document.
func (e Engine) ExportSnapshot(ctx context.Context) (*snapshot.Document, error) {
	in, err := e.LoadInput(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.FromInput(in), nil
}

// CreateAPIKey issues a key for actorID. The plaintext key is only returned
// here; the database keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if _, err := e.Workspace(ctx); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "cpk_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.Payload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// RevokeAPIKey deletes a key by id.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	if _, err := e.Workspace(ctx); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
