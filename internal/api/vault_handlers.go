package api

import "net/http"

// storeSecretRequest is the body of POST /api/vault/secrets.
type storeSecretRequest struct {
	Scope string `json:"scope" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Value string `json:"value" validate:"required"`
}

func (s *Server) handleStoreSecret(w http.ResponseWriter, r *http.Request) {
	var req storeSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	header, err := s.vault.Store(req.Scope, req.Name, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	headers, err := s.vault.List(scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, headers)
}
