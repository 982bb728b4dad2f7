package api

import (
	"net/http"

	"github.com/dara-labs/workflow-control-plane/internal/presets"
)

type presetsResponse struct {
	Presets []presets.Preset `json:"presets"`
	State   string           `json:"state"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	catalog, active, err := s.presets.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presetsResponse{Presets: catalog, State: active})
}

// setActivePresetRequest is the body of POST /api/models/presets/active.
type setActivePresetRequest struct {
	Preset string `json:"preset" validate:"required"`
}

func (s *Server) handleSetActivePreset(w http.ResponseWriter, r *http.Request) {
	var req setActivePresetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.presets.SetActive(req.Preset); err != nil {
		writeError(w, err)
		return
	}
	catalog, active, err := s.presets.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presetsResponse{Presets: catalog, State: active})
}
