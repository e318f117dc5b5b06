package handlers

import (
	"net/http"

	"github.com/kozaktomas/featmatch/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse is the non-secret part of the running configuration.
type ConfigResponse struct {
	MaxNNChecks        int     `json:"max_nn_checks"`
	RatioThreshold     float64 `json:"ratio_threshold"`
	Workers            int     `json:"workers"`
	IndexKind          string  `json:"index_kind"`
	DescriptorBackend  string  `json:"descriptor_backend"`
	ResultsBackend     string  `json:"results_backend"`
	DetectorConfigured bool    `json:"detector_configured"`
}

// Get returns the active configuration without credentials.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		MaxNNChecks:        h.config.Matcher.MaxNNChecks,
		RatioThreshold:     h.config.Matcher.RatioThreshold,
		Workers:            h.config.Matcher.EffectiveWorkers(),
		IndexKind:          h.config.Index.Kind,
		DescriptorBackend:  h.config.Descriptors.Backend,
		ResultsBackend:     h.config.Results.Backend,
		DetectorConfigured: h.config.Detector.Command != "",
	})
}
