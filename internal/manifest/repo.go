package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/guildsync/internal/apperr"
	"github.com/starford/guildsync/internal/models"
)

// AssetRow represents a row in the assets table.
type AssetRow struct {
	Character  string
	Name       string
	Role       models.Role
	Hash       string
	SourceName string
	SourceHash string
	UpdatedAt  time.Time
}

// RunRow represents one synchronization or renumber run.
type RunRow struct {
	ID         int64     `json:"id"`
	Character  string    `json:"character"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Promoted   int       `json:"promoted"`
	Kept       int       `json:"kept"`
	Added      int       `json:"added"`
	Removed    int       `json:"removed"`
	Skipped    int       `json:"skipped"`
}

const upsertAssetSQL = `
	INSERT INTO assets (character, name, role, hash, source_name, source_hash, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(character, name) DO UPDATE SET
		role        = excluded.role,
		hash        = excluded.hash,
		source_name = excluded.source_name,
		source_hash = excluded.source_hash,
		updated_at  = excluded.updated_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, r AssetRow) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, upsertAssetSQL,
		r.Character, r.Name, string(r.Role), r.Hash, r.SourceName, r.SourceHash, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("manifest: upsert %s/%s: %w", r.Character, r.Name, err)
	}
	return nil
}

// UpsertAsset inserts or replaces a single asset row.
func (db *DB) UpsertAsset(ctx context.Context, row AssetRow) error {
	return upsert(ctx, db.conn, row)
}

// Asset returns one row or apperr.ErrNotFound.
func (db *DB) Asset(ctx context.Context, character, name string) (*AssetRow, error) {
	var r AssetRow
	var role string
	err := db.conn.QueryRowContext(ctx, `
		SELECT character, name, role, hash, source_name, source_hash, updated_at
		FROM assets WHERE character = ? AND name = ?
	`, character, name).Scan(&r.Character, &r.Name, &role, &r.Hash, &r.SourceName, &r.SourceHash, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: get asset: %w", err)
	}
	r.Role = models.Role(role)
	return &r, nil
}

// Assets returns every row recorded for character, ordered by name.
func (db *DB) Assets(ctx context.Context, character string) ([]AssetRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT character, name, role, hash, source_name, source_hash, updated_at
		FROM assets WHERE character = ? ORDER BY name
	`, character)
	if err != nil {
		return nil, fmt.Errorf("manifest: assets: %w", err)
	}
	defer rows.Close()

	var out []AssetRow
	for rows.Next() {
		var r AssetRow
		var role string
		if err := rows.Scan(&r.Character, &r.Name, &role, &r.Hash, &r.SourceName, &r.SourceHash, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Role = models.Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SourceHashes maps file name to the hash of the intake file it was produced
// from, for rows that have one.
func (db *DB) SourceHashes(ctx context.Context, character string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name, source_hash FROM assets WHERE character = ? AND source_hash != ''`, character)
	if err != nil {
		return nil, fmt.Errorf("manifest: source hashes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, h string
		if err := rows.Scan(&name, &h); err != nil {
			return nil, err
		}
		out[name] = h
	}
	return out, rows.Err()
}

// ReplaceRole swaps every row of the given role for character with rows in one transaction.
func (db *DB) ReplaceRole(ctx context.Context, character string, role models.Role, rows []AssetRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE character = ? AND role = ?`, character, string(role)); err != nil {
		return fmt.Errorf("manifest: clear %s rows: %w", role, err)
	}
	for _, r := range rows {
		r.Character = character
		r.Role = role
		if err := upsert(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RenameAssets moves rows from old names to new names. Renames may form
// chains or cycles (gallery_3 -> gallery_2 -> gallery_1).
func (db *DB) RenameAssets(ctx context.Context, character string, renames map[string]string) error {
	if len(renames) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var moved []AssetRow
	for oldName, newName := range renames {
		var r AssetRow
		var role string
		err := tx.QueryRowContext(ctx, `
			SELECT character, name, role, hash, source_name, source_hash, updated_at
			FROM assets WHERE character = ? AND name = ?
		`, character, oldName).Scan(&r.Character, &r.Name, &role, &r.Hash, &r.SourceName, &r.SourceHash, &r.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("manifest: rename lookup %s: %w", oldName, err)
		}
		r.Role = models.Role(role)
		r.Name = newName
		moved = append(moved, r)
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE character = ? AND name = ?`, character, oldName); err != nil {
			return fmt.Errorf("manifest: rename delete %s: %w", oldName, err)
		}
	}
	for _, r := range moved {
		if err := upsert(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordRun appends a run to the history and returns its id.
func (db *DB) RecordRun(ctx context.Context, run RunRow) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (character, mode, started_at, finished_at, promoted, kept, added, removed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Character, run.Mode, run.StartedAt, run.FinishedAt,
		run.Promoted, run.Kept, run.Added, run.Removed, run.Skipped)
	if err != nil {
		return 0, fmt.Errorf("manifest: record run: %w", err)
	}
	return res.LastInsertId()
}

// Runs returns the most recent runs for character, newest first.
func (db *DB) Runs(ctx context.Context, character string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, character, mode, started_at, finished_at, promoted, kept, added, removed, skipped
		FROM runs WHERE character = ? ORDER BY id DESC LIMIT ?
	`, character, limit)
	if err != nil {
		return nil, fmt.Errorf("manifest: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.Character, &r.Mode, &r.StartedAt, &r.FinishedAt,
			&r.Promoted, &r.Kept, &r.Added, &r.Removed, &r.Skipped); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
