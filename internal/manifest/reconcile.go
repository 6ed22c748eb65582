package manifest

import (
	"context"
	"time"

	"github.com/starford/guildsync/internal/models"
)

// ReconcileStats counts what Reconcile changed.
type ReconcileStats struct {
	Removed int // rows whose file is gone
	Drifted int // rows whose file content changed outside guildsync
}

// Reconcile brings the character's rows in line with the files on disk:
//   - rows whose file no longer exists are deleted
//   - rows whose file hash changed keep the row but lose their provenance,
//     since the recorded source no longer describes the file
func (db *DB) Reconcile(ctx context.Context, character string, files []models.AssetMetadata) (ReconcileStats, error) {
	var stats ReconcileStats

	rows, err := db.Assets(ctx, character)
	if err != nil {
		return stats, err
	}

	disk := make(map[string]string, len(files))
	for _, f := range files {
		disk[f.Name] = f.Checksum
	}

	for _, r := range rows {
		sum, ok := disk[r.Name]
		switch {
		case !ok:
			if _, err := db.conn.ExecContext(ctx,
				`DELETE FROM assets WHERE character = ? AND name = ?`, character, r.Name); err != nil {
				return stats, err
			}
			stats.Removed++
		case sum != r.Hash:
			r.Hash = sum
			r.SourceName = ""
			r.SourceHash = ""
			r.UpdatedAt = time.Now().UTC()
			if err := db.UpsertAsset(ctx, r); err != nil {
				return stats, err
			}
			stats.Drifted++
		}
	}
	return stats, nil
}
