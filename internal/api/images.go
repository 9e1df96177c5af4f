package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starford/sensorhub/internal/storage"
)

const maxUploadBytes = 20 << 20 // 20 MB

// ImageHandler serves and accepts the local images sensors reference
// (OpenWeather post images, featured images).
type ImageHandler struct {
	files storage.Provider
}

// NewImageHandler creates a handler over the data directory.
func NewImageHandler(files storage.Provider) *ImageHandler {
	return &ImageHandler{files: files}
}

// safeName validates that the filename is a plain name and returns its
// data-directory relative path.
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return path.Join(storage.ImagesDir, cleaned), nil
}

// ServeFile handles GET /images/{filename}.
func (h *ImageHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	rel, err := safeName(filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := h.files.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("read image failed", slog.String("file", rel), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, filename, time.Time{}, bytes.NewReader(data))
}

// Upload handles POST /api/images (multipart/form-data, field "file").
//
//	@Summary		Upload a local image
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image file"
//	@Success		201		{object}	ImageUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images [post]
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
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

	rel, err := safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		writeJSON(w, http.StatusBadRequest, errorBody("not an image: "+ct))
		return
	}
	if err := h.files.Write(rel, data); err != nil {
		slog.Error("write image failed", slog.String("file", rel), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	writeJSON(w, http.StatusCreated, ImageUploadResponse{
		Filename: filepath.Base(rel),
		Size:     int64(len(data)),
		URL:      "/images/" + filepath.Base(rel),
	})
}
