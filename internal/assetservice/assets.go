package assetservice

import (
	"context"

	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/models"
)

// Assets lists the files of a character's directory with their role, gallery
// index and, when the manifest still matches the file, its intake source.
func (s *Service) Assets(ctx context.Context, key models.CharacterKey) ([]models.Asset, error) {
	c, err := s.Character(key)
	if err != nil {
		return nil, err
	}
	target, err := s.target(key)
	if err != nil {
		return nil, err
	}
	files, err := target.List("")
	if err != nil {
		return nil, err
	}

	rows := map[string]manifest.AssetRow{}
	if s.manifest != nil {
		list, err := s.manifest.Assets(ctx, key.String())
		if err != nil {
			return nil, err
		}
		for _, r := range list {
			rows[r.Name] = r
		}
	}

	preserved := make(map[string]bool, len(c.Preserved))
	for _, n := range c.Preserved {
		preserved[n] = true
	}
	for _, p := range c.Promotions {
		for _, t := range p.Targets {
			preserved[t] = true
		}
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = gallery.DefaultPrefix
	}
	ext := s.sync.Ext()

	out := make([]models.Asset, 0, len(files))
	for _, f := range files {
		sum, err := target.Hash(f.Name)
		if err != nil {
			return nil, err
		}
		a := models.Asset{
			Name:      f.Name,
			Role:      models.RoleLoose,
			Checksum:  sum,
			Size:      f.Size,
			UpdatedAt: f.UpdatedAt,
		}
		switch {
		case preserved[f.Name]:
			a.Role = models.RolePreserved
		default:
			if n, ok := gallery.ParseIndex(f.Name, prefix, ext); ok {
				a.Role = models.RoleGallery
				a.Index = n
			}
		}
		if r, ok := rows[f.Name]; ok && r.Hash == sum {
			a.SourceName = r.SourceName
			a.SourceHash = r.SourceHash
		}
		out = append(out, a)
	}
	return out, nil
}
