package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nocheat/detect-api/internal/forest"
	"github.com/nocheat/detect-api/internal/store"
)

type reloadRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// ReloadModel handles POST /api/v1/model/reload.
// Reloads the model from the configured path, or from an explicit path given
// in the request body. The previous model keeps serving until the new one
// decodes and validates.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize)); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.errorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	path := req.Path
	if path == "" {
		path = h.modelPath
	}

	if err := h.engine.ReloadModel(path); err != nil {
		var dimErr *forest.DimensionError
		switch {
		case errors.Is(err, store.ErrModelNotFound):
			h.errorResponse(w, http.StatusNotFound, "Model file not found")
		case errors.Is(err, forest.ErrCorrupt), errors.Is(err, forest.ErrTruncated):
			h.errorResponse(w, http.StatusUnprocessableEntity, "Model file is corrupt: "+err.Error())
		case errors.As(err, &dimErr):
			h.errorResponse(w, http.StatusUnprocessableEntity, "Model is incompatible: "+dimErr.Error())
		default:
			h.logger.Errorw("Model reload failed", "error", err, "path", path)
			h.errorResponse(w, http.StatusInternalServerError, "Model reload failed")
		}
		return
	}

	info, _ := h.engine.ModelInfo()
	h.jsonResponse(w, http.StatusOK, info)
}

// ModelInfo handles GET /api/v1/model.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := h.engine.ModelInfo()
	if !ok {
		h.errorResponse(w, http.StatusServiceUnavailable, "No model loaded")
		return
	}
	h.jsonResponse(w, http.StatusOK, info)
}
