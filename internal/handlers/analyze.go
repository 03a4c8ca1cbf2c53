package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nocheat/detect-api/internal/engine"
	"github.com/nocheat/detect-api/internal/models"
	"github.com/nocheat/detect-api/internal/worker"
)

// Analyze handles POST /api/v1/analyze.
// Accepts a JSON array of player stat documents and returns one verdict per
// player, in input order. Malformed entries are scored neutral and flagged
// rather than failing the batch.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	defer r.Body.Close()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	entries, err := models.DecodeStatsBatch[models.DefaultPlayerData](body)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid JSON: expected an array of player documents")
		return
	}

	resp, err := h.engine.Analyze(r.Context(), entries)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNoModel):
			h.errorResponse(w, http.StatusServiceUnavailable, "No model loaded")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.errorResponse(w, http.StatusRequestTimeout, "Request canceled")
		default:
			h.logger.Errorw("Analysis failed", "error", err, "request_id", requestID, "players", len(entries))
			h.errorResponse(w, http.StatusInternalServerError, "Analysis failed")
		}
		return
	}

	if h.sink != nil {
		now := time.Now()
		for _, result := range resp.Results {
			ok := h.sink.Enqueue(worker.Job{
				RequestID: requestID,
				PlayerID:  result.PlayerID,
				Score:     result.Result.SuspicionScore,
				Flags:     result.Result.Flags,
				Timestamp: now,
			})
			if !ok {
				h.logger.Warnw("Result sink queue full, dropping remaining results", "request_id", requestID)
				break
			}
		}
	}

	w.Header().Set("X-Request-ID", requestID)
	h.jsonResponse(w, http.StatusOK, resp)
}
