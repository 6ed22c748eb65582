package manifest

import (
	"context"

	"github.com/starford/guildsync/internal/models"
)

// Store defines the manifest operations the synchronizer depends on.
// Consumers should depend on this interface rather than the concrete *DB.
type Store interface {
	Assets(ctx context.Context, character string) ([]AssetRow, error)
	SourceHashes(ctx context.Context, character string) (map[string]string, error)
	UpsertAsset(ctx context.Context, row AssetRow) error
	ReplaceRole(ctx context.Context, character string, role models.Role, rows []AssetRow) error
	RenameAssets(ctx context.Context, character string, renames map[string]string) error
	RecordRun(ctx context.Context, run RunRow) (int64, error)
	Runs(ctx context.Context, character string, limit int) ([]RunRow, error)
	Reconcile(ctx context.Context, character string, files []models.AssetMetadata) (ReconcileStats, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
