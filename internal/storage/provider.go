// Package storage defines the asset-directory file-system abstraction.
package storage

import "github.com/starford/guildsync/internal/models"

// Provider is the interface for operations on one asset directory.
// All paths are relative to the provider root.
type Provider interface {
	// Root returns the absolute directory the provider is bound to.
	Root() string
	// List returns metadata for every visible regular file directly inside dir.
	List(dir string) ([]models.AssetMetadata, error)
	// Hash returns the content checksum of the file at path.
	Hash(path string) (string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Stage creates a scratch directory under the root for pending writes.
	Stage() (*Stage, error)
	// SweepStages removes staging directories left by an interrupted run.
	SweepStages() (int, error)
	// Lock takes the directory's exclusive writer lock.
	Lock() (unlock func() error, err error)
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
