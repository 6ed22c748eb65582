// Package models defines the domain types for guildsync.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role classifies a file in a character's target directory.
type Role string

const (
	// RolePreserved marks fixed-name files (avatar, novel cover) that sync never renumbers or deletes.
	RolePreserved Role = "preserved"
	// RoleGallery marks <prefix>_<n> files owned by the synchronizer.
	RoleGallery Role = "gallery"
	// RoleLoose marks any other image in the target dir; the next sync folds it into the gallery.
	RoleLoose Role = "loose"
)

// AssetMetadata is the lightweight listing entry returned by storage.
type AssetMetadata struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset is a target-directory file enriched with its role and provenance.
type Asset struct {
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	Index      int       `json:"index,omitempty"`
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	SourceName string    `json:"source_name,omitempty"`
	SourceHash string    `json:"source_hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CharacterKey identifies a target directory as <namespace>/<name>.
type CharacterKey struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// String returns "namespace/name".
func (k CharacterKey) String() string {
	return k.Namespace + "/" + k.Name
}

// ParseCharacterKey parses "namespace/name".
func ParseCharacterKey(s string) (CharacterKey, error) {
	ns, name, ok := strings.Cut(strings.Trim(s, "/"), "/")
	if !ok || ns == "" || name == "" || strings.Contains(name, "/") {
		return CharacterKey{}, fmt.Errorf("invalid character key %q (want namespace/name)", s)
	}
	return CharacterKey{Namespace: ns, Name: name}, nil
}
