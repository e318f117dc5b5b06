package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/logging"
	"github.com/kozaktomas/featmatch/internal/pipeline"
)

// Counter answers match-count queries.
type Counter interface {
	Count(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// maxMatchBody bounds the size of a match request body.
const maxMatchBody = 1 << 20

// MatchHandler handles match queries
type MatchHandler struct {
	counter  Counter
	defaults feature.Params
	logger   *logging.Logger
}

// NewMatchHandler creates a new match handler. Requests that omit a
// parameter use defaults.
func NewMatchHandler(counter Counter, defaults feature.Params, logger *logging.Logger) *MatchHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MatchHandler{counter: counter, defaults: defaults, logger: logger}
}

// MatchRequest is the body of POST /api/v1/match.
type MatchRequest struct {
	ImageA         string   `json:"image_a"`
	ImageB         string   `json:"image_b"`
	MaxNNChecks    *int     `json:"max_nn_checks,omitempty"`
	RatioThreshold *float64 `json:"ratio_threshold,omitempty"`
	IncludeMatches bool     `json:"include_matches,omitempty"`
}

// MatchResponse is the answer to a match query.
type MatchResponse struct {
	Count          int             `json:"count"`
	Cached         bool            `json:"cached"`
	Degraded       bool            `json:"degraded,omitempty"`
	ImageA         string          `json:"image_a"`
	ImageB         string          `json:"image_b"`
	MaxNNChecks    int             `json:"max_nn_checks"`
	RatioThreshold float64         `json:"ratio_threshold"`
	RunID          string          `json:"run_id"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	Matches        []feature.Match `json:"matches,omitempty"`
}

// Match counts the confident matches from image_a into image_b.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMatchBody)
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	params := h.defaults
	if req.MaxNNChecks != nil {
		params.MaxNNChecks = *req.MaxNNChecks
	}
	if req.RatioThreshold != nil {
		params.RatioThreshold = *req.RatioThreshold
	}

	out, err := h.counter.Count(r.Context(), pipeline.Request{
		ImageA: req.ImageA,
		ImageB: req.ImageB,
		Params: params,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "match request failed",
			"image_a", sanitizeForLog(req.ImageA),
			"image_b", sanitizeForLog(req.ImageB),
			"error", err)
		respondError(w, statusForError(err), err.Error())
		return
	}

	resp := MatchResponse{
		Count:          out.Count,
		Cached:         out.Cached,
		Degraded:       out.Degraded,
		ImageA:         out.Key.ImageA,
		ImageB:         out.Key.ImageB,
		MaxNNChecks:    out.Key.MaxNNChecks,
		RatioThreshold: out.Key.RatioThreshold,
		RunID:          out.RunID,
		ElapsedMS:      out.Elapsed.Milliseconds(),
	}
	if req.IncludeMatches {
		resp.Matches = out.Matches
	}
	respondJSON(w, http.StatusOK, resp)
}
