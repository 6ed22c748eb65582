package api

import (
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/models"
)

// CharacterListResponse lists the configured characters.
type CharacterListResponse struct {
	Characters []models.CharacterKey `json:"characters" validate:"required"`
}

// AssetListResponse lists the files of one character directory.
type AssetListResponse struct {
	Character string         `json:"character" example:"guild/damao" validate:"required"`
	Assets    []models.Asset `json:"assets" validate:"required"`
}

// RunListResponse lists recent sync and renumber runs, newest first.
type RunListResponse struct {
	Runs []manifest.RunRow `json:"runs" validate:"required"`
}

// SyncResponse is the report of a sync or renumber run.
type SyncResponse = gallery.Report

// IntakeUploadResponse is returned after a photo was added to the intake folder.
type IntakeUploadResponse struct {
	Filename    string `json:"filename" example:"612994948_a.jpg" validate:"required"`
	Size        int64  `json:"size" example:"12345" validate:"required"`
	ContentType string `json:"content_type" example:"image/jpeg" validate:"required"`
}
