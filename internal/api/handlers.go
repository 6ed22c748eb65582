package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/guildsync/internal/assetservice"
	"github.com/starford/guildsync/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Handler holds API route handlers.
type Handler struct {
	svc *assetservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *assetservice.Service) *Handler {
	return &Handler{svc: svc}
}

func characterKey(r *http.Request) models.CharacterKey {
	return models.CharacterKey{Namespace: chi.URLParam(r, "ns"), Name: chi.URLParam(r, "name")}
}

// ListCharacters handles GET /api/characters.
//
//	@Summary		List configured characters
//	@Tags			characters
//	@Produce		json
//	@Success		200	{object}	CharacterListResponse
//	@Security		BearerAuth
//	@Router			/characters [get]
func (h *Handler) ListCharacters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CharacterListResponse{Characters: h.svc.Characters()})
}

// ListAssets handles GET /api/characters/{ns}/{name}/assets.
//
//	@Summary		List the files of a character directory with role and provenance
//	@Tags			characters
//	@Produce		json
//	@Param			ns		path		string	true	"Namespace"
//	@Param			name	path		string	true	"Character"
//	@Success		200		{object}	AssetListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/characters/{ns}/{name}/assets [get]
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	key := characterKey(r)
	assets, err := h.svc.Assets(r.Context(), key)
	if err != nil {
		writeError(w, "list assets", err)
		return
	}
	writeJSON(w, http.StatusOK, AssetListResponse{Character: key.String(), Assets: assets})
}

// ListRuns handles GET /api/characters/{ns}/{name}/runs.
//
//	@Summary		Recent runs for a character
//	@Tags			characters
//	@Produce		json
//	@Param			ns		path		string	true	"Namespace"
//	@Param			name	path		string	true	"Character"
//	@Param			limit	query		int		false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/characters/{ns}/{name}/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), characterKey(r), limit)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// Sync handles POST /api/characters/{ns}/{name}/sync.
//
//	@Summary		Promote, deduplicate and renumber a character's gallery
//	@Tags			sync
//	@Produce		json
//	@Param			ns		path		string	true	"Namespace"
//	@Param			name	path		string	true	"Character"
//	@Param			rebuild	query		bool	false	"Re-encode existing gallery files"
//	@Success		200		{object}	SyncResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/characters/{ns}/{name}/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	rebuild, _ := strconv.ParseBool(r.URL.Query().Get("rebuild"))
	rep, err := h.svc.Sync(r.Context(), characterKey(r), assetservice.SyncOptions{Rebuild: rebuild})
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Renumber handles POST /api/characters/{ns}/{name}/renumber.
//
//	@Summary		Close gaps in a character's gallery numbering
//	@Tags			sync
//	@Produce		json
//	@Param			ns		path		string	true	"Namespace"
//	@Param			name	path		string	true	"Character"
//	@Success		200		{object}	SyncResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/characters/{ns}/{name}/renumber [post]
func (h *Handler) Renumber(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Renumber(r.Context(), characterKey(r))
	if err != nil {
		writeError(w, "renumber", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// UploadIntake handles POST /api/intake (multipart/form-data, field "file").
// The content must sniff as an image; the name must carry an accepted
// intake extension.
//
//	@Summary		Add a photo to the intake folder
//	@Tags			intake
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image file"
//	@Success		201		{object}	IntakeUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/intake [post]
func (h *Handler) UploadIntake(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		writeJSON(w, http.StatusBadRequest, errorBody("content is not an image: "+ct))
		return
	}

	name, err := h.svc.ImportIntake(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, "upload intake", err)
		return
	}
	writeJSON(w, http.StatusCreated, IntakeUploadResponse{
		Filename:    name,
		Size:        int64(len(data)),
		ContentType: ct,
	})
}

// ServeAsset handles GET /assets/{ns}/{name}/{file}.
func (h *Handler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	data, err := h.svc.ReadAsset(characterKey(r), file)
	if err != nil {
		writeError(w, "serve asset", err)
		return
	}
	http.ServeContent(w, r, file, time.Time{}, bytes.NewReader(data))
}
