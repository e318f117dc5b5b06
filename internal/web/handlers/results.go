package handlers

import (
	"net/http"
	"strconv"

	"github.com/kozaktomas/featmatch/internal/results"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 1000
)

// ResultsHandler exposes the match result cache.
type ResultsHandler struct {
	lister results.Lister
}

// NewResultsHandler creates a new results handler. A nil lister means the
// result cache is disabled.
func NewResultsHandler(lister results.Lister) *ResultsHandler {
	return &ResultsHandler{lister: lister}
}

// List returns the most recent cached results.
func (h *ResultsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		respondError(w, http.StatusNotFound, "result cache is disabled")
		return
	}

	limit := defaultResultsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultsLimit)
	}

	records, err := h.lister.List(r.Context(), limit)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	if records == nil {
		records = []results.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

// Stats returns the number of cached results.
func (h *ResultsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		respondError(w, http.StatusNotFound, "result cache is disabled")
		return
	}
	n, err := h.lister.Len(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"records": n})
}
